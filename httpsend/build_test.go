package httpsend

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
)

func TestBuild_FormBodyS2(t *testing.T) {
	resolved := &resolver.Resolved{
		Method:   "POST",
		URL:      "https://httpbin.example/anything",
		BodyType: "application/x-www-form-urlencoded",
		Body: map[string]json.RawMessage{
			"form": json.RawMessage(`[{"name":"a","value":"1","enabled":true}]`),
		},
		FollowRedirects: true,
	}
	sendable, err := Build(resolved, nil, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(sendable.Body.Bytes) != "a=1" {
		t.Errorf("got body %q, want a=1 (disabled entries already stripped by the resolver)", sendable.Body.Bytes)
	}
	if sendable.Headers.Get("Content-Type") != "application/x-www-form-urlencoded" {
		t.Errorf("got content-type %q", sendable.Headers.Get("Content-Type"))
	}
}

func TestBuild_AuthHeadersAppendedAndQueryPreserved(t *testing.T) {
	resolved := &resolver.Resolved{
		Method:  "GET",
		URL:     "https://httpbin.example/anything?existing=1",
		Headers: nil,
	}
	auth := &pluginrt.CallHttpAuthenticationResponse{
		SetHeaders:         []pluginrt.HeaderPair{{Name: "Authorization", Value: "Bearer tok"}},
		SetQueryParameters: []pluginrt.HeaderPair{{Name: "api_key", Value: "xyz"}},
	}
	sendable, err := Build(resolved, auth, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendable.Headers.Get("Authorization") != "Bearer tok" {
		t.Errorf("got authorization %q", sendable.Headers.Get("Authorization"))
	}
	if !strings.Contains(sendable.URL, "existing=1") || !strings.Contains(sendable.URL, "api_key=xyz") {
		t.Errorf("got url %q, want both existing and auth query parameters preserved", sendable.URL)
	}
}

func TestBuild_GraphQLOnGETMovesIntoQuery(t *testing.T) {
	resolved := &resolver.Resolved{
		Method:   "GET",
		URL:      "https://httpbin.example/graphql",
		BodyType: "application/graphql",
		Body:     map[string]json.RawMessage{"query": json.RawMessage(`"{ me { id } }"`)},
	}
	sendable, err := Build(resolved, nil, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendable.Body.Kind != BodyNone {
		t.Errorf("got body kind %v, want BodyNone for graphql-over-GET", sendable.Body.Kind)
	}
	if !strings.Contains(sendable.URL, "query=") {
		t.Errorf("got url %q, want query moved into URL", sendable.URL)
	}
}

func TestBuild_GraphQLOnPOSTProducesJSONBody(t *testing.T) {
	resolved := &resolver.Resolved{
		Method:   "POST",
		URL:      "https://httpbin.example/graphql",
		BodyType: "application/graphql",
		Body: map[string]json.RawMessage{
			"query":     json.RawMessage(`"{ me { id } }"`),
			"variables": json.RawMessage(`{"x":1}`),
		},
	}
	sendable, err := Build(resolved, nil, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(sendable.Body.Bytes, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := decoded["variables"]; !ok {
		t.Error("want variables present in graphql POST body")
	}
}

func TestBuild_BinaryBodyUsesFileSize(t *testing.T) {
	fake := fakeOpener{content: []byte("hello world")}
	resolved := &resolver.Resolved{
		Method:   "PUT",
		URL:      "https://httpbin.example/anything",
		BodyType: "binary",
		Body:     map[string]json.RawMessage{"filePath": json.RawMessage(`"/tmp/fake.bin"`)},
	}
	sendable, err := Build(resolved, nil, 0, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendable.Body.Kind != BodyStream {
		t.Fatalf("got kind %v, want BodyStream", sendable.Body.Kind)
	}
	if sendable.Body.ContentLength != int64(len(fake.content)) {
		t.Errorf("got content length %d, want %d", sendable.Body.ContentLength, len(fake.content))
	}
	data, _ := io.ReadAll(sendable.Body.Stream)
	if string(data) != "hello world" {
		t.Errorf("got stream contents %q", data)
	}
}

func TestBuild_DefaultMaxRedirects(t *testing.T) {
	resolved := &resolver.Resolved{Method: "GET", URL: "https://httpbin.example/"}
	sendable, err := Build(resolved, nil, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendable.Options.MaxRedirects != DefaultMaxRedirects {
		t.Errorf("got %d, want default %d", sendable.Options.MaxRedirects, DefaultMaxRedirects)
	}
}

type fakeOpener struct{ content []byte }

func (f fakeOpener) Open(path string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader(string(f.content))), int64(len(f.content)), nil
}
