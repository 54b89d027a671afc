package tlsprofile

import "os"

func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 -- operator-supplied certificate path
}
