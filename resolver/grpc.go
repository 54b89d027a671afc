package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/template"
)

// ResolvedGrpc is the output of ResolveGrpc: a concrete, post-render
// GrpcRequest plus the descriptor-pool key material (spec.md Â§4.H:
// "pools are cached under md5(id :: uri :: files-joined)").
type ResolvedGrpc struct {
	URL        string
	Service    string
	Method     string
	Message    string
	ProtoFiles []string
	Metadata   []store.NameValue

	AuthenticationType string
	Authentication     map[string]json.RawMessage
	ContextID          string

	ValidateCertificates bool
}

// ResolveGrpc renders req against its ancestor chain and environment
// variable set, reusing the same inheritance and rendering rules as
// Resolve (Â§4.C) for metadata, authentication, and settings.
func ResolveGrpc(ctx context.Context, eng *template.Engine, req *store.GrpcRequest, ancestors []Ancestor, vars []template.Variable, purpose pluginrt.RenderPurpose, policy template.MissingPolicy) (*ResolvedGrpc, error) {
	authType, auth, contextID := resolveGrpcAuthentication(req, ancestors)
	metadata := resolveGrpcMetadata(req, ancestors)
	settings := resolveSettings(req.Settings, ancestors)

	out := &ResolvedGrpc{
		Service:              req.Service,
		Method:               req.Method,
		ProtoFiles:           req.ProtoFiles,
		ValidateCertificates: settings.ValidateCertificates,
	}

	renderedURL, err := eng.Render(ctx, req.URL, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render grpc url: %w", err)
	}
	out.URL = renderedURL

	renderedMetadata, err := renderNameValues(ctx, eng, filterEnabled(metadata), vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render grpc metadata: %w", err)
	}
	out.Metadata = renderedMetadata

	renderedMessage, err := eng.Render(ctx, req.Message, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render grpc message: %w", err)
	}
	out.Message = renderedMessage

	renderedAuthType, renderedAuth, collapsed, err := resolveAuthValue(ctx, eng, authType, auth, vars, purpose, policy, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: render grpc authentication: %w", err)
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

func resolveGrpcAuthentication(req *store.GrpcRequest, ancestors []Ancestor) (authType *string, auth map[string]json.RawMessage, contextID string) {
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

func resolveGrpcMetadata(req *store.GrpcRequest, ancestors []Ancestor) []store.NameValue {
	var out []store.NameValue
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, filterEnabled(ancestors[i].Headers)...)
	}
	out = append(out, filterEnabled(req.Metadata)...)
	return out
}
