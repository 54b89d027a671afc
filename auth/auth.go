package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yaak-app/yaakengine/pluginrt"
)

// Authenticator computes the headers/query parameters an authentication
// type contributes to an outgoing request, dispatching to the plugin
// runtime and caching OAuth2 tokens per context_id.
type Authenticator struct {
	Caller *pluginrt.Caller
	Locks  *ContextLock
	Tokens *TokenCache
}

// NewAuthenticator builds an Authenticator over caller.
func NewAuthenticator(caller *pluginrt.Caller) *Authenticator {
	return &Authenticator{
		Caller: caller,
		Locks:  NewContextLock(),
		Tokens: NewTokenCache(),
	}
}

// Apply computes the authentication mutation for one request. authType
// "none" (or empty) always returns a no-op result without touching the
// plugin runtime or the token cache.
func (a *Authenticator) Apply(ctx context.Context, authType string, values map[string]json.RawMessage, contextID, method, url string, headers []pluginrt.HeaderPair) (*pluginrt.CallHttpAuthenticationResponse, error) {
	if authType == "" || authType == "none" {
		return &pluginrt.CallHttpAuthenticationResponse{}, nil
	}

	if authType != "oauth2" {
		return a.dispatch(ctx, authType, values, contextID, method, url, headers)
	}

	if tok, ok := a.Tokens.Get(contextID); ok && !tok.Expired(time.Now()) {
		return &pluginrt.CallHttpAuthenticationResponse{
			SetHeaders: []pluginrt.HeaderPair{{Name: "Authorization", Value: "Bearer " + tok.AccessToken}},
		}, nil
	}

	if err := a.Locks.Lock(ctx, contextID); err != nil {
		return nil, fmt.Errorf("auth: serialize oauth2 flow: %w", err)
	}
	defer a.Locks.Unlock(contextID)

	// Re-check now that we hold the lock: a concurrent request may have
	// just finished the flow we were about to duplicate.
	if tok, ok := a.Tokens.Get(contextID); ok && !tok.Expired(time.Now()) {
		return &pluginrt.CallHttpAuthenticationResponse{
			SetHeaders: []pluginrt.HeaderPair{{Name: "Authorization", Value: "Bearer " + tok.AccessToken}},
		}, nil
	}

	resp, err := a.dispatch(ctx, authType, values, contextID, method, url, headers)
	if err != nil {
		return nil, err
	}

	a.cacheOAuthToken(contextID, resp, values)
	return resp, nil
}

func (a *Authenticator) dispatch(ctx context.Context, authType string, values map[string]json.RawMessage, contextID, method, url string, headers []pluginrt.HeaderPair) (*pluginrt.CallHttpAuthenticationResponse, error) {
	req := pluginrt.CallHttpAuthenticationRequest{
		ID:        authType + ":" + contextID,
		AuthName:  authType,
		ContextID: contextID,
		Method:    method,
		URL:       url,
		Headers:   headers,
		Values:    values,
	}
	resp, err := a.Caller.CallHttpAuthentication(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("auth: %s: %w", authType, err)
	}
	return resp, nil
}

// cacheOAuthToken extracts an access token from resp's set headers (a
// "Bearer <token>" Authorization value) and caches it, honoring an
// "expires_in" seconds value from the auth plugin's argument map if
// present.
func (a *Authenticator) cacheOAuthToken(contextID string, resp *pluginrt.CallHttpAuthenticationResponse, values map[string]json.RawMessage) {
	const bearerPrefix = "Bearer "
	var accessToken string
	for _, h := range resp.SetHeaders {
		if h.Name == "Authorization" && len(h.Value) > len(bearerPrefix) && h.Value[:len(bearerPrefix)] == bearerPrefix {
			accessToken = h.Value[len(bearerPrefix):]
			break
		}
	}
	if accessToken == "" {
		return
	}

	tok := OAuthToken{AccessToken: accessToken}
	if raw, ok := values["expires_in"]; ok {
		var seconds int64
		if err := json.Unmarshal(raw, &seconds); err == nil && seconds > 0 {
			tok.ExpiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
		}
	}
	a.Tokens.Set(contextID, tok)
}
