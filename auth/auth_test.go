package auth

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yaak-app/yaakengine/pluginrt"
)

type fakeRuntime struct {
	caller      *pluginrt.Caller
	calls       atomic.Int64
	delay       time.Duration
	accessToken string
}

func (r *fakeRuntime) Send(ctx context.Context, id string, req any) error {
	r.calls.Add(1)
	go func() {
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		r.caller.Deliver(id, &pluginrt.CallHttpAuthenticationResponse{
			ID:         id,
			SetHeaders: []pluginrt.HeaderPair{{Name: "Authorization", Value: "Bearer " + r.accessToken}},
		})
	}()
	return nil
}

func TestAuthenticator_NoneIsNoOp(t *testing.T) {
	a := NewAuthenticator(nil)
	resp, err := a.Apply(context.Background(), "none", nil, "ctx-1", "GET", "https://httpbin.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.SetHeaders) != 0 {
		t.Errorf("got %+v, want no headers for auth type none", resp.SetHeaders)
	}
}

func TestAuthenticator_BasicDispatchesEveryCall(t *testing.T) {
	rt := &fakeRuntime{accessToken: "unused"}
	caller := pluginrt.NewCaller(rt)
	rt.caller = caller
	a := NewAuthenticator(caller)

	for i := 0; i < 3; i++ {
		if _, err := a.Apply(context.Background(), "basic", map[string]json.RawMessage{"username": json.RawMessage(`"u"`)}, "ctx-1", "GET", "https://httpbin.example/", nil); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if rt.calls.Load() != 3 {
		t.Errorf("got %d plugin dispatches, want 3 (non-oauth types never cache)", rt.calls.Load())
	}
}

func TestAuthenticator_OAuth2CachesAcrossContextID(t *testing.T) {
	rt := &fakeRuntime{accessToken: "tok-abc"}
	caller := pluginrt.NewCaller(rt)
	rt.caller = caller
	a := NewAuthenticator(caller)

	values := map[string]json.RawMessage{"expires_in": json.RawMessage("3600")}

	resp1, err := a.Apply(context.Background(), "oauth2", values, "ctx-1", "GET", "https://httpbin.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.SetHeaders[0].Value != "Bearer tok-abc" {
		t.Errorf("got %q", resp1.SetHeaders[0].Value)
	}

	resp2, err := a.Apply(context.Background(), "oauth2", values, "ctx-1", "GET", "https://httpbin.example/other", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.SetHeaders[0].Value != "Bearer tok-abc" {
		t.Errorf("got %q", resp2.SetHeaders[0].Value)
	}

	if rt.calls.Load() != 1 {
		t.Errorf("got %d plugin dispatches, want 1 (second call should hit the token cache)", rt.calls.Load())
	}
}

func TestAuthenticator_OAuth2ConcurrentRequestsSerializeOneFlow(t *testing.T) {
	rt := &fakeRuntime{accessToken: "tok-xyz", delay: 20 * time.Millisecond}
	caller := pluginrt.NewCaller(rt)
	rt.caller = caller
	a := NewAuthenticator(caller)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Apply(context.Background(), "oauth2", nil, "ctx-shared", "GET", "https://httpbin.example/", nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if rt.calls.Load() != 1 {
		t.Errorf("got %d plugin dispatches, want 1 (concurrent requests sharing a context_id should serialize to one flow)", rt.calls.Load())
	}
}

func TestAuthenticator_OAuth2RefreshesAfterExpiry(t *testing.T) {
	rt := &fakeRuntime{accessToken: "tok-1"}
	caller := pluginrt.NewCaller(rt)
	rt.caller = caller
	a := NewAuthenticator(caller)

	a.Tokens.Set("ctx-1", OAuthToken{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Minute)})

	resp, err := a.Apply(context.Background(), "oauth2", nil, "ctx-1", "GET", "https://httpbin.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SetHeaders[0].Value != "Bearer tok-1" {
		t.Errorf("got %q, want a freshly dispatched token", resp.SetHeaders[0].Value)
	}
	if rt.calls.Load() != 1 {
		t.Errorf("got %d dispatches, want 1 (expired token should trigger exactly one refresh)", rt.calls.Load())
	}
}
