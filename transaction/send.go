package transaction

import (
	"context"

	"github.com/yaak-app/yaakengine/auth"
	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/httpsend"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
	"github.com/yaak-app/yaakengine/store"
)

// Send is the top-level entry point spec.md Â§4.E describes: it builds a
// Sendable from resolved, authenticates it, and hands it to the engine.
// Authentication runs after the Sendable's method/URL/headers exist (the
// CallHttpAuthenticationRequest needs them) and before the engine's
// [Build] state, per Â§4.E's stated ordering â€” BuildUnauthenticated and
// ApplyAuth split httpsend.Build's single pass into exactly those two
// phases so the body (and any file handle or multipart pipe it opened) is
// never constructed twice.
func (e *Engine) Send(ctx context.Context, resolved *resolver.Resolved, authenticator *auth.Authenticator, maxRedirects uint32, opener httpsend.FileOpener, rc *ResponseContext, blobs store.BlobStore) error {
	sendable, err := httpsend.BuildUnauthenticated(resolved, maxRedirects, opener)
	if err != nil {
		return &BodyError{Message: err.Error()}
	}

	if authenticator != nil {
		authResp, err := authenticator.Apply(ctx, resolved.AuthenticationType, resolved.Authentication, resolved.ContextID, sendable.Method, sendable.URL, pluginPairs(sendable.Headers))
		if err != nil {
			return &AuthPluginError{Message: err.Error()}
		}
		if err := httpsend.ApplyAuth(sendable, authResp); err != nil {
			return &RenderError{Message: err.Error()}
		}
	}

	return e.Execute(ctx, sendable, rc, blobs)
}

func pluginPairs(h *client.OrderedHeader) []pluginrt.HeaderPair {
	if h == nil {
		return nil
	}
	std := h.ToHTTPHeader()
	out := make([]pluginrt.HeaderPair, 0, len(std))
	for name, values := range std {
		for _, v := range values {
			out = append(out, pluginrt.HeaderPair{Name: name, Value: v})
		}
	}
	return out
}
