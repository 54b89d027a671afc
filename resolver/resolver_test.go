package resolver

import (
	"context"
	"crypto/md5" // #nosec G501 -- test only, matching the resolver's own hash
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/template"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }

func TestResolve_HeaderInheritanceRootFirstRequestLast(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{
		ID:     "req-1",
		Method: "get",
		URL:    "https://httpbin.example/anything",
		Headers: []store.NameValue{
			{Name: "x-request", Value: "1", Enabled: true},
			{Name: "x-disabled", Value: "nope", Enabled: false},
		},
	}
	ancestors := []Ancestor{
		{ID: "folder-1", Headers: []store.NameValue{{Name: "x-folder", Value: "1", Enabled: true}}},
		{ID: "workspace-1", Headers: []store.NameValue{{Name: "x-workspace", Value: "1", Enabled: true}}},
	}

	resolved, err := Resolve(context.Background(), eng, req, ancestors, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"x-workspace", "x-folder", "x-request"}
	if len(resolved.Headers) != len(want) {
		t.Fatalf("got %d headers, want %d: %+v", len(resolved.Headers), len(want), resolved.Headers)
	}
	for i, name := range want {
		if resolved.Headers[i].Name != name {
			t.Errorf("header %d: got %q, want %q", i, resolved.Headers[i].Name, name)
		}
	}
}

func TestResolve_AuthenticationFirstNonNoneAncestorWins(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{ID: "req-1", Method: "GET", URL: "https://httpbin.example/"}
	ancestors := []Ancestor{
		{ID: "folder-1"}, // no authentication_type set: inherit further
		{
			ID:                 "workspace-1",
			AuthenticationType: strPtr("bearer"),
			Authentication:     map[string]json.RawMessage{"token": json.RawMessage(`"abc123"`)},
		},
	}

	resolved, err := Resolve(context.Background(), eng, req, ancestors, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.AuthenticationType != "bearer" {
		t.Errorf("got authentication_type %q, want bearer", resolved.AuthenticationType)
	}
	if want := md5Hex("workspace-1"); resolved.ContextID != want {
		t.Errorf("got context_id %q, want md5(workspace-1)=%q (the ancestor that defined the auth type)", resolved.ContextID, want)
	}
}

func TestResolve_RequestAuthOverridesAncestors(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{
		ID:                 "req-1",
		Method:              "GET",
		URL:                 "https://httpbin.example/",
		AuthenticationType:  strPtr("none"),
	}
	ancestors := []Ancestor{
		{ID: "workspace-1", AuthenticationType: strPtr("bearer"), Authentication: map[string]json.RawMessage{"token": json.RawMessage(`"x"`)}},
	}

	resolved, err := Resolve(context.Background(), eng, req, ancestors, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.AuthenticationType != "none" {
		t.Errorf("got %q, want none (request's explicit override wins)", resolved.AuthenticationType)
	}
	if want := md5Hex("req-1"); resolved.ContextID != want {
		t.Errorf("got context_id %q, want md5(req-1)=%q", resolved.ContextID, want)
	}
}

func TestResolve_AuthenticationDisabledCollapsesToNone(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{
		ID:                 "req-1",
		Method:              "GET",
		URL:                 "https://httpbin.example/",
		AuthenticationType:  strPtr("bearer"),
		Authentication:      map[string]json.RawMessage{"disabled": json.RawMessage("true"), "token": json.RawMessage(`"abc"`)},
	}

	resolved, err := Resolve(context.Background(), eng, req, nil, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.AuthenticationType != "none" {
		t.Errorf("got %q, want none when authentication.disabled is true", resolved.AuthenticationType)
	}
}

func TestResolve_SettingsInheritLastNonNilRootFirst(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{ID: "req-1", Method: "GET", URL: "https://httpbin.example/"}
	ancestors := []Ancestor{
		{ID: "folder-1", Settings: store.Settings{FollowRedirects: boolPtr(false)}},
		{ID: "workspace-1", Settings: store.Settings{ValidateCertificates: boolPtr(false), RequestTimeoutMs: intPtr(5000)}},
	}

	resolved, err := Resolve(context.Background(), eng, req, ancestors, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.ValidateCertificates != false {
		t.Error("want validate_certificates false, inherited from workspace")
	}
	if resolved.FollowRedirects != false {
		t.Error("want follow_redirects false, inherited from folder")
	}
	if resolved.RequestTimeoutMs != 5000 {
		t.Errorf("got request_timeout_ms %d, want 5000", resolved.RequestTimeoutMs)
	}
}

func TestResolve_PathPlaceholderSubstitution(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{
		ID:     "req-1",
		Method: "GET",
		URL:    "https://httpbin.example/users/:id/posts/:post",
		URLParameters: []store.NameValue{
			{Name: "id", Value: "42", Enabled: true},
			{Name: "post", Value: "7", Enabled: true},
			{Name: "extra", Value: "yes", Enabled: true},
		},
	}

	resolved, err := Resolve(context.Background(), eng, req, nil, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://httpbin.example/users/42/posts/7?extra=yes"
	if resolved.URL != want {
		t.Errorf("got %q, want %q", resolved.URL, want)
	}
}

func TestResolve_DisabledURLParameterDropped(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	req := &store.HttpRequest{
		ID:     "req-1",
		Method: "GET",
		URL:    "https://httpbin.example/anything",
		URLParameters: []store.NameValue{
			{Name: "q", Value: "keep", Enabled: true},
			{Name: "skip", Value: "drop", Enabled: false},
		},
	}

	resolved, err := Resolve(context.Background(), eng, req, nil, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://httpbin.example/anything?q=keep"
	if resolved.URL != want {
		t.Errorf("got %q, want %q", resolved.URL, want)
	}
}

func TestResolve_RendersTemplatedURLAndHeader(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	vars := []template.Variable{{Name: "host", Value: "httpbin.example", Enabled: true}, {Name: "token", Value: "secret123", Enabled: true}}
	req := &store.HttpRequest{
		ID:      "req-1",
		Method:  "get",
		URL:     "https://${[host]}/anything",
		Headers: []store.NameValue{{Name: "authorization", Value: "Bearer ${[token]}", Enabled: true}},
	}

	resolved, err := Resolve(context.Background(), eng, req, nil, vars, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.URL != "https://httpbin.example/anything" {
		t.Errorf("got url %q", resolved.URL)
	}
	if resolved.Headers[0].Value != "Bearer secret123" {
		t.Errorf("got header value %q", resolved.Headers[0].Value)
	}
	if resolved.Method != "GET" {
		t.Errorf("got method %q, want uppercased GET", resolved.Method)
	}
}

func TestResolve_FormBodyStripsDisabledFields(t *testing.T) {
	eng := template.NewEngine(nil, nil, 0)
	form := []byte(`[{"name":"keep","value":"1","enabled":true},{"name":"skip","value":"2","enabled":false}]`)
	req := &store.HttpRequest{
		ID:       "req-1",
		Method:   "POST",
		URL:      "https://httpbin.example/anything",
		BodyType: "application/x-www-form-urlencoded",
		Body:     map[string]json.RawMessage{"form": json.RawMessage(form)},
	}

	resolved, err := Resolve(context.Background(), eng, req, nil, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fields []formField
	if err := json.Unmarshal(resolved.Body["form"], &fields); err != nil {
		t.Fatalf("decode resolved form: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != "keep" {
		t.Errorf("got fields %+v, want only the enabled field", fields)
	}
}
