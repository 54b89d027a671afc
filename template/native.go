package template

import (
	"context"
	"fmt"

	"github.com/yaak-app/yaakengine/pluginrt"
)

// SecureFunction implements the `secure(value)` native function: decrypts
// a `YENC_<base64>` envelope using the per-workspace AES-256-GCM key.
// Grounded on original_source's yaak-crypto EncryptionManager contract
// (crates/yaak-plugins/src/native_template_functions.rs): both Send and
// Preview return the plaintext (there is no lossy preview mode for
// decryption).
type SecureFunction struct {
	Keys *WorkspaceKeys
}

func (SecureFunction) Name() string { return "secure" }

func (f SecureFunction) Call(_ context.Context, args map[string]string, _ pluginrt.RenderPurpose, workspaceID string) (string, error) {
	value, ok := args["value"]
	if !ok {
		return "", fmt.Errorf("secure(): missing required argument %q", "value")
	}
	plaintext, err := f.Keys.DecryptForWorkspace(workspaceID, value)
	if err != nil {
		return "", fmt.Errorf("secure(): %w", err)
	}
	return plaintext, nil
}

// KeychainFunction implements the `keychain(service, account)` native
// function: an OS keyring lookup via github.com/zalando/go-keyring. A
// missing entry never errors — it yields an empty string, matching
// spec.md Â§4.B.
type KeychainFunction struct {
	Lookup func(service, account string) (string, error)
}

func (KeychainFunction) Name() string { return "keychain" }

func (f KeychainFunction) Call(_ context.Context, args map[string]string, _ pluginrt.RenderPurpose, _ string) (string, error) {
	service := args["service"]
	account := args["account"]
	if f.Lookup == nil {
		return "", nil
	}
	v, err := f.Lookup(service, account)
	if err != nil {
		// Absence is not failure; any other transport-level error is
		// swallowed too, per spec.md Â§4.B's "never fails on missing
		// entry" -- there is no separate "not found" signal exposed by
		// the keyring package that the spec asks us to distinguish.
		return "", nil
	}
	return v, nil
}
