package httpsend

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
)

// Build turns a resolver.Resolved request plus an authentication mutation
// into a wire-ready Sendable, per spec.md Â§4.D/Â§4.F: auth headers are
// appended to the header list, auth query parameters are appended to the
// URL preserving existing parameters. Most callers that already have the
// auth response in hand (tests, single-shot sends) can call Build directly;
// callers that must authenticate against the Sendable's own method/URL/
// headers (spec.md Â§4.F's CallHttpAuthenticationRequest) should call
// BuildUnauthenticated, run authentication against its result, then call
// ApplyAuth so the body (and any multipart/binary file handles it opened)
// is never constructed twice.
func Build(resolved *resolver.Resolved, auth *pluginrt.CallHttpAuthenticationResponse, maxRedirects uint32, opener FileOpener) (*Sendable, error) {
	s, err := BuildUnauthenticated(resolved, maxRedirects, opener)
	if err != nil {
		return nil, err
	}
	if err := ApplyAuth(s, auth); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildUnauthenticated builds the Sendable's method, URL, headers and body
// without any authentication mutation applied.
func BuildUnauthenticated(resolved *resolver.Resolved, maxRedirects uint32, opener FileOpener) (*Sendable, error) {
	result, err := buildBody(resolved.Method, resolved.URL, resolved.BodyType, resolved.Body, opener)
	if err != nil {
		return nil, err
	}

	headers := &client.OrderedHeader{}
	for _, h := range resolved.Headers {
		headers.Add(h.Name, h.Value)
	}
	if result.contentType != "" && headers.Get("Content-Type") == "" {
		headers.Add("Content-Type", result.contentType)
	}

	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}

	return &Sendable{
		Method:  strings.ToUpper(resolved.Method),
		URL:     result.url,
		Headers: headers,
		Body:    result.body,
		Options: Options{
			FollowRedirects:      resolved.FollowRedirects,
			ValidateCertificates: resolved.ValidateCertificates,
			Timeout:              timeoutFromMillis(resolved.RequestTimeoutMs),
			MaxRedirects:         maxRedirects,
		},
	}, nil
}

// ApplyAuth merges an authentication mutation into an already-built
// Sendable: set_headers are appended to the header list, set_query_parameters
// are appended to the URL preserving existing parameters, per spec.md Â§4.F.
// auth may be nil, meaning no mutation (auth_name == "none" or disabled).
func ApplyAuth(s *Sendable, auth *pluginrt.CallHttpAuthenticationResponse) error {
	if auth == nil {
		return nil
	}
	finalURL, err := appendQueryParameters(s.URL, auth.SetQueryParameters)
	if err != nil {
		return fmt.Errorf("httpsend: apply auth query parameters: %w", err)
	}
	s.URL = finalURL
	for _, h := range auth.SetHeaders {
		s.Headers.Add(h.Name, h.Value)
	}
	return nil
}

func timeoutFromMillis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func appendQueryParameters(rawURL string, params []pluginrt.HeaderPair) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for _, p := range params {
		q.Add(p.Name, p.Value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
