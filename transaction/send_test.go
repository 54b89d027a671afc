package transaction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yaak-app/yaakengine/auth"
	"github.com/yaak-app/yaakengine/httpsend"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
	"github.com/yaak-app/yaakengine/store"
)

type fakeAuthRuntime struct{ caller *pluginrt.Caller }

func (r *fakeAuthRuntime) Send(_ context.Context, id string, _ any) error {
	go r.caller.Deliver(id, &pluginrt.CallHttpAuthenticationResponse{
		ID:         id,
		SetHeaders: []pluginrt.HeaderPair{{Name: "Authorization", Value: "Bearer tok-1"}},
	})
	return nil
}

// Send builds the Sendable once, authenticates it against that build's own
// method/URL/headers, and merges the auth mutation in before executing â€”
// the resulting request must carry the auth header and the body must not
// have been built twice (asserted indirectly: a second build would still
// produce the same bytes here, so this mainly pins the header merge).
func TestSend_AppliesAuthBeforeExecute(t *testing.T) {
	var gotAuthHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt := &fakeAuthRuntime{}
	caller := pluginrt.NewCaller(rt)
	rt.caller = caller
	authenticator := auth.NewAuthenticator(caller)

	engine, st := newTestEngine()
	rc := newResponseContext(st, "resp-send-1")

	resolved := &resolver.Resolved{
		Method:             "GET",
		URL:                srv.URL,
		AuthenticationType: "bearer",
		Authentication:     nil,
		ContextID:          "ctx-1",
		FollowRedirects:    true,
	}

	err := engine.Send(context.Background(), resolved, authenticator, 0, httpsend.DefaultFileOpener, rc, st.Blobs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuthHeader != "Bearer tok-1" {
		t.Errorf("got Authorization %q, want Bearer tok-1", gotAuthHeader)
	}
}

func TestSend_NilAuthenticatorSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("got unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine, st := newTestEngine()
	rc := newResponseContext(st, "resp-send-2")

	resolved := &resolver.Resolved{Method: "GET", URL: srv.URL}
	if err := engine.Send(context.Background(), resolved, nil, 0, httpsend.DefaultFileOpener, rc, st.Blobs()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := rc.Snapshot()
	if final.State != store.ResponseClosed {
		t.Errorf("got state %q, want Closed", final.State)
	}
}
