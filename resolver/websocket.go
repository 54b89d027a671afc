package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/template"
)

// ResolvedWebsocket is the output of ResolveWebsocket: a concrete,
// post-render WebsocketRequest plus the context_id used to scope
// authentication side-state, per spec.md Â§4.G step 1 ("Render the
// WebsocketRequest (Â§4.C)").
type ResolvedWebsocket struct {
	URL     string
	Headers []store.NameValue
	Message string

	AuthenticationType string
	Authentication     map[string]json.RawMessage
	ContextID          string

	ValidateCertificates bool
}

// ResolveWebsocket renders req against its ancestor chain and environment
// variable set, reusing the same inheritance and rendering rules as
// Resolve (Â§4.C) for headers, authentication and settings.
func ResolveWebsocket(ctx context.Context, eng *template.Engine, req *store.WebsocketRequest, ancestors []Ancestor, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy) (*ResolvedWebsocket, error) {
	authType, auth, contextID := resolveWebsocketAuthentication(req, ancestors)
	headers := resolveWebsocketHeaders(req, ancestors)
	settings := resolveSettings(req.Settings, ancestors)

	out := &ResolvedWebsocket{
		Message:              req.Message,
		ValidateCertificates: settings.ValidateCertificates,
	}

	renderedURL, err := eng.Render(ctx, req.URL, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render websocket url: %w", err)
	}

	renderedHeaders, err := renderNameValues(ctx, eng, headers, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render websocket headers: %w", err)
	}

	enabledParams := filterEnabled(req.URLParameters)
	renderedParams, err := renderNameValues(ctx, eng, enabledParams, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render websocket url parameters: %w", err)
	}

	finalURL, err := applyPathPlaceholdersAndQuery(renderedURL, renderedParams)
	if err != nil {
		return nil, fmt.Errorf("resolver: apply websocket path placeholders: %w", err)
	}
	out.URL = finalURL
	out.Headers = renderedHeaders

	renderedAuthType, renderedAuth, collapsed, err := resolveAuthValue(ctx, eng, authType, auth, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render websocket authentication: %w", err)
	}
	out.ContextID = hashContextID(contextID)
	if collapsed {
		out.AuthenticationType = "none"
		out.Authentication = map[string]json.RawMessage{"disabled": json.RawMessage("true")}
	} else {
		out.AuthenticationType = renderedAuthType
		out.Authentication = renderedAuth
	}

	return out, nil
}

func resolveWebsocketAuthentication(req *store.WebsocketRequest, ancestors []Ancestor) (authType *string, auth map[string]json.RawMessage, contextID string) {
	if req.AuthenticationType != nil {
		return req.AuthenticationType, req.Authentication, req.ID
	}
	for _, a := range ancestors {
		if a.AuthenticationType != nil {
			return a.AuthenticationType, a.Authentication, a.ID
		}
	}
	none := "none"
	return &none, nil, req.ID
}

func resolveWebsocketHeaders(req *store.WebsocketRequest, ancestors []Ancestor) []store.NameValue {
	var out []store.NameValue
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, filterEnabled(ancestors[i].Headers)...)
	}
	out = append(out, filterEnabled(req.Headers)...)
	return out
}

// WebsocketOrigin converts a ws://wss:// upgrade URL into the http/https
// form the cookie store matches against, per spec.md Â§4.G step 2.
func WebsocketOrigin(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}
