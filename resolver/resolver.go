// Package resolver implements the Request Resolver (spec.md Â§4.C): walking
// the workspace -> folder chain to fill in inherited authentication,
// headers, and settings, then rendering every template-bearing field of
// the request into a concrete, wire-ready form.
//
// The ancestor walk is grounded on the teacher's session.SessionManager,
// which resolves per-session configuration by layering a shared
// *config.Config underneath per-session overrides rather than duplicating
// defaults at every call site.
package resolver

import (
	"context"
	"crypto/md5" // #nosec G501 -- not used for cryptographic purposes, just a stable cache key
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/template"
)

// Resolved is the output of Resolve: a concrete, post-render HttpRequest
// plus the context_id used to scope authentication side-state.
type Resolved struct {
	Method             string
	URL                string
	Headers            []store.NameValue
	Body               map[string]json.RawMessage
	BodyType           string
	AuthenticationType string
	Authentication     map[string]json.RawMessage
	ContextID          string

	ValidateCertificates bool
	FollowRedirects      bool
	RequestTimeoutMs     int
}

// Ancestor is one link of the inheritance chain above a request: a folder
// or the workspace root. Callers order the slice nearest-ancestor-first
// (the request's immediate parent folder, its parent, ..., ending with the
// workspace).
type Ancestor struct {
	ID                 string
	AuthenticationType *string
	Authentication     map[string]json.RawMessage
	Headers            []store.NameValue
	store.Settings
}

// Resolve renders req against its ancestor chain and environment variable
// set. ancestors must be ordered nearest-first (see Ancestor doc).
func Resolve(ctx context.Context, eng *template.Engine, req *store.HttpRequest, ancestors []Ancestor, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy) (*Resolved, error) {
	authType, auth, contextID := resolveAuthentication(req, ancestors)
	headers := resolveHeaders(req, ancestors)
	settings := resolveSettings(req.Settings, ancestors)

	out := &Resolved{
		Body:                 req.Body,
		BodyType:             req.BodyType,
		ValidateCertificates: settings.ValidateCertificates,
		FollowRedirects:      settings.FollowRedirects,
		RequestTimeoutMs:     settings.RequestTimeoutMs,
	}

	renderedURL, err := eng.Render(ctx, req.URL, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render url: %w", err)
	}

	renderedHeaders, err := renderNameValues(ctx, eng, headers, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render headers: %w", err)
	}

	enabledParams := filterEnabled(req.URLParameters)
	renderedParams, err := renderNameValues(ctx, eng, enabledParams, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render url parameters: %w", err)
	}

	finalURL, err := applyPathPlaceholdersAndQuery(renderedURL, renderedParams)
	if err != nil {
		return nil, fmt.Errorf("resolver: apply path placeholders: %w", err)
	}
	out.URL = finalURL
	out.Method = strings.ToUpper(req.Method)
	out.Headers = renderedHeaders

	renderedAuthType, renderedAuth, collapsed, err := resolveAuthValue(ctx, eng, authType, auth, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render authentication: %w", err)
	}
	out.ContextID = hashContextID(contextID)
	if collapsed {
		out.AuthenticationType = "none"
		out.Authentication = map[string]json.RawMessage{"disabled": json.RawMessage("true")}
	} else {
		out.AuthenticationType = renderedAuthType
		out.Authentication = renderedAuth
	}

	body, err := renderBody(ctx, eng, req.BodyType, req.Body, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render body: %w", err)
	}
	out.Body = body

	return out, nil
}

// hashContextID derives the stable authentication-scoping key from the
// owning ancestor's id, per spec.md Â§4.F ("context_id is the md5 hex of
// the resolved owning-ancestor id, so OAuth token caches survive across
// requests sharing ancestry").
func hashContextID(ancestorID string) string {
	sum := md5.Sum([]byte(ancestorID)) // #nosec G401 -- cache key, not a security boundary
	return hex.EncodeToString(sum[:])
}

// resolveAuthentication walks ancestors (nearest-first, request implicit at
// index -1) to find the first non-None authentication_type.
func resolveAuthentication(req *store.HttpRequest, ancestors []Ancestor) (authType *string, auth map[string]json.RawMessage, contextID string) {
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

// resolveHeaders concatenates ancestors root-first with the request last,
// filtering disabled entries. Ancestors are supplied nearest-first, so we
// walk them in reverse to get root-first order.
func resolveHeaders(req *store.HttpRequest, ancestors []Ancestor) []store.NameValue {
	var out []store.NameValue
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, filterEnabled(ancestors[i].Headers)...)
	}
	out = append(out, filterEnabled(req.Headers)...)
	return out
}

func filterEnabled(nv []store.NameValue) []store.NameValue {
	out := make([]store.NameValue, 0, len(nv))
	for _, e := range nv {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

type resolvedSettings struct {
	ValidateCertificates bool
	FollowRedirects      bool
	RequestTimeoutMs     int
}

// resolveSettings resolves each setting to the last non-nil value walking
// root-first (workspace first, request last); defaults apply if every
// ancestor (and the request) leaves it nil.
func resolveSettings(reqSettings store.Settings, ancestors []Ancestor) resolvedSettings {
	out := resolvedSettings{ValidateCertificates: true, FollowRedirects: true, RequestTimeoutMs: 0}

	apply := func(s store.Settings) {
		if s.ValidateCertificates != nil {
			out.ValidateCertificates = *s.ValidateCertificates
		}
		if s.FollowRedirects != nil {
			out.FollowRedirects = *s.FollowRedirects
		}
		if s.RequestTimeoutMs != nil {
			out.RequestTimeoutMs = *s.RequestTimeoutMs
		}
	}

	for i := len(ancestors) - 1; i >= 0; i-- {
		apply(ancestors[i].Settings)
	}
	apply(reqSettings)
	return out
}

func renderNameValues(ctx context.Context, eng *template.Engine, in []store.NameValue, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy, workspaceID string) ([]store.NameValue, error) {
	out := make([]store.NameValue, len(in))
	for i, nv := range in {
		name, err := eng.Render(ctx, nv.Name, vars, purpose, policy, workspaceID)
		if err != nil {
			return nil, err
		}
		value, err := eng.Render(ctx, nv.Value, vars, purpose, policy, workspaceID)
		if err != nil {
			return nil, err
		}
		out[i] = store.NameValue{ID: nv.ID, Name: name, Value: value, Enabled: true}
	}
	return out, nil
}

// applyPathPlaceholdersAndQuery substitutes ":name" path segments from
// matching, enabled url parameters (consuming them), then appends any
// remaining parameters as the query string.
func applyPathPlaceholdersAndQuery(rawURL string, params []store.NameValue) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	consumed := make(map[string]bool)
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") || len(seg) < 2 {
			continue
		}
		name := seg[1:]
		for _, p := range params {
			if p.Name == name && !consumed[name] {
				segments[i] = p.Value
				consumed[name] = true
				break
			}
		}
	}
	u.Path = strings.Join(segments, "/")

	q := u.Query()
	for _, p := range params {
		if consumed[p.Name] {
			continue
		}
		q.Add(p.Name, p.Value)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// resolveAuthValue renders authentication argument values and evaluates the
// special "disabled" key collapse rule.
func resolveAuthValue(ctx context.Context, eng *template.Engine, authType *string, auth map[string]json.RawMessage, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy, workspaceID string) (string, map[string]json.RawMessage, bool, error) {
	name := "none"
	if authType != nil {
		name = *authType
	}
	if name == "none" {
		return name, nil, false, nil
	}

	rendered := make(map[string]json.RawMessage, len(auth))
	for k, raw := range auth {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			v, err := eng.Render(ctx, s, vars, purpose, policy, workspaceID)
			if err != nil {
				return "", nil, false, err
			}
			b, _ := json.Marshal(v)
			rendered[k] = b
			continue
		}
		rendered[k] = raw
	}

	if disabledRaw, ok := rendered["disabled"]; ok {
		var b bool
		if err := json.Unmarshal(disabledRaw, &b); err == nil && b {
			return name, rendered, true, nil
		}
		var s string
		if err := json.Unmarshal(disabledRaw, &s); err == nil && s == "" {
			return name, rendered, true, nil
		}
	}

	return name, rendered, false, nil
}

// formField mirrors a single enabled-toggleable form-body entry.
type formField struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// renderBody renders template-bearing body fields. For form bodies, entries
// with enabled == false are stripped before rendering.
func renderBody(ctx context.Context, eng *template.Engine, bodyType string, body map[string]json.RawMessage, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy, workspaceID string) (map[string]json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(body))
	for k, v := range body {
		out[k] = v
	}

	switch bodyType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		raw, ok := body["form"]
		if !ok {
			return out, nil
		}
		var fields []formField
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		var kept []formField
		for _, f := range fields {
			if !f.Enabled {
				continue
			}
			name, err := eng.Render(ctx, f.Name, vars, purpose, policy, workspaceID)
			if err != nil {
				return nil, err
			}
			value, err := eng.Render(ctx, f.Value, vars, purpose, policy, workspaceID)
			if err != nil {
				return nil, err
			}
			kept = append(kept, formField{Name: name, Value: value, Enabled: true})
		}
		b, err := json.Marshal(kept)
		if err != nil {
			return nil, err
		}
		out["form"] = b

	case "application/json", "text/plain", "application/xml", "application/graphql", "binary":
		for _, key := range []string{"text", "query", "variables", "filePath"} {
			raw, ok := body[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				continue // not a templated string field (e.g. variables is an object)
			}
			rendered, err := eng.Render(ctx, s, vars, purpose, policy, workspaceID)
			if err != nil {
				return nil, err
			}
			b, _ := json.Marshal(rendered)
			out[key] = b
		}
	}

	return out, nil
}
