package template

import (
	"context"
	"testing"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/worker"
)

func TestRender_LiteralOnly(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	out, err := e.Render(context.Background(), "no tags here", nil, pluginrt.PurposeSend, Throw, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "no tags here" {
		t.Errorf("got %q", out)
	}
}

func TestRender_VariableSubstitution(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	vars := []Variable{{Name: "user", Value: "alice", Enabled: true}}
	out, err := e.Render(context.Background(), "https://httpbin.example/anything?u=${[user]}", vars, pluginrt.PurposeSend, Throw, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "https://httpbin.example/anything?u=alice" {
		t.Errorf("got %q", out)
	}
}

func TestRender_MostSpecificWins(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	vars := []Variable{
		{Name: "env", Value: "base", Enabled: true},
		{Name: "env", Value: "specific", Enabled: true},
	}
	out, err := e.Render(context.Background(), "${[env]}", vars, pluginrt.PurposeSend, Throw, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "specific" {
		t.Errorf("got %q, want specific (last entry should win when walking most-specific-first)", out)
	}
}

func TestRender_DisabledVariableSkipped(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	vars := []Variable{{Name: "env", Value: "disabled-value", Enabled: false}}
	_, err := e.Render(context.Background(), "${[env]}", vars, pluginrt.PurposeSend, Throw, "ws-1")
	if err == nil {
		t.Fatal("expected RenderError for missing (disabled) variable under Throw policy")
	}
}

func TestRender_MissingVariable_ThrowVsPreview(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	if _, err := e.Render(context.Background(), "${[missing]}", nil, pluginrt.PurposeSend, Throw, "ws-1"); err == nil {
		t.Error("expected error under Throw policy")
	}
	out, err := e.Render(context.Background(), "${[missing]}", nil, pluginrt.PurposePreview, EmptyOnMissing, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error under EmptyOnMissing: %v", err)
	}
	if out != "" {
		t.Errorf("got %q, want empty string", out)
	}
}

func TestRender_NativeFunction(t *testing.T) {
	keys := NewWorkspaceKeys()
	enc, err := keys.Encrypt("ws-acme", "s3cr3t")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	e := NewEngine([]NativeFunction{SecureFunction{Keys: keys}}, nil, 0)
	out, err := e.Render(context.Background(), `${[secure(value="`+enc+`")]}`, nil, pluginrt.PurposeSend, Throw, "ws-acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "s3cr3t" {
		t.Errorf("got %q, want s3cr3t", out)
	}
}

func TestRender_NativeFunction_WrongWorkspaceFails(t *testing.T) {
	keys := NewWorkspaceKeys()
	enc, err := keys.Encrypt("ws-acme", "s3cr3t")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	e := NewEngine([]NativeFunction{SecureFunction{Keys: keys}}, nil, 0)
	if _, err := e.Render(context.Background(), `${[secure(value="`+enc+`")]}`, nil, pluginrt.PurposeSend, Throw, "ws-other"); err == nil {
		t.Fatal("expected decryption under a different workspace's key to fail GCM authentication")
	}
}

func TestRender_KeychainMissingNeverFails(t *testing.T) {
	e := NewEngine([]NativeFunction{KeychainFunction{}}, nil, 0)
	out, err := e.Render(context.Background(), `${[keychain(service="svc", account="acc")]}`, nil, pluginrt.PurposeSend, Throw, "ws-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("got %q, want empty string for missing keychain entry", out)
	}
}

func TestRoundTrip_EncryptDecrypt(t *testing.T) {
	keys := NewWorkspaceKeys()
	enc, err := keys.Encrypt("ws-1", "hello world")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	dec, err := keys.DecryptForWorkspace("ws-1", enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec != "hello world" {
		t.Errorf("got %q, want %q", dec, "hello world")
	}
}

func TestRenderAll_ParallelDisjointStrings(t *testing.T) {
	e := NewEngine(nil, nil, 0)
	pool := worker.NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	vars := []Variable{{Name: "x", Value: "42", Enabled: true}}
	jobs := []RenderJob{
		{Template: "a=${[x]}", Vars: vars, Purpose: pluginrt.PurposeSend, Policy: Throw, WorkspaceID: "ws-1"},
		{Template: "b=${[x]}", Vars: vars, Purpose: pluginrt.PurposeSend, Policy: Throw, WorkspaceID: "ws-1"},
		{Template: "literal", Vars: vars, Purpose: pluginrt.PurposeSend, Policy: Throw, WorkspaceID: "ws-1"},
	}
	results := e.RenderAll(context.Background(), pool, jobs)
	want := []string{"a=42", "b=42", "literal"}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("job %d: unexpected error: %v", i, r.Err)
		}
		if r.Value != want[i] {
			t.Errorf("job %d: got %q, want %q", i, r.Value, want[i])
		}
	}
}
