package auth

import (
	"sync"
	"time"
)

// OAuthToken is a cached OAuth2 access token for one context_id.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero means "no known expiry, treat as fresh"
}

// Expired reports whether the token should be treated as stale as of now.
func (t OAuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenCache holds one OAuthToken per context_id, shared by every request
// whose ancestry resolves to that context_id.
//
// Grounded on token.HeartbeatManager's sync.Map keyed by session id: many
// goroutines read a shared token concurrently, and a single flow (the one
// holding the matching ContextLock) writes a fresh one.
type TokenCache struct {
	tokens sync.Map // contextID -> OAuthToken
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get returns the cached token for contextID, if any.
func (c *TokenCache) Get(contextID string) (OAuthToken, bool) {
	v, ok := c.tokens.Load(contextID)
	if !ok {
		return OAuthToken{}, false
	}
	return v.(OAuthToken), true
}

// Set stores tok for contextID, replacing any previous value.
func (c *TokenCache) Set(contextID string, tok OAuthToken) {
	c.tokens.Store(contextID, tok)
}

// Delete forgets contextID's token, forcing the next request to run a
// fresh flow.
func (c *TokenCache) Delete(contextID string) {
	c.tokens.Delete(contextID)
}
