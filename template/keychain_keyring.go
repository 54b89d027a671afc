package template

import "github.com/zalando/go-keyring"

// NewKeychainFunction builds a KeychainFunction backed by the real OS
// keyring (macOS Keychain, Windows Credential Manager, or the
// Secret Service / libsecret on Linux via godbus).
func NewKeychainFunction() KeychainFunction {
	return KeychainFunction{Lookup: keyring.Get}
}
