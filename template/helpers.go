package template

import (
	"encoding/json"
	"time"
)

// timeDuration is a local alias so the FunctionCaller interface signature
// reads naturally without a second dotted import of "time" in engine.go's
// surrounding prose.
type timeDuration = time.Duration

const defaultPluginCallTimeout = 10 * time.Second

// jsonString marks a raw (already-rendered) string value destined for a
// json.RawMessage field.
type jsonString string

func toRawMessages(args map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(args))
	for k, v := range args {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	return out
}
