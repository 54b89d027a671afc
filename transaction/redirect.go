package transaction

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/httpsend"
)

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// resolveLocation implements spec.md §4.E's Location-resolution rule:
// absolute URLs are used as-is; absolute-path Locations combine with the
// current URL's scheme+host; relative Locations resolve against the
// directory portion of the current URL.
func resolveLocation(currentURL, location string) (string, error) {
	cur, err := url.Parse(currentURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return cur.ResolveReference(loc).String(), nil
}

// nextRedirectRequest builds the Sendable for the next hop per spec.md
// §4.E's status-code-specific rewrite rules.
func nextRedirectRequest(prev *httpsend.Sendable, status int, location string) (*httpsend.Sendable, error) {
	nextURL, err := resolveLocation(prev.URL, location)
	if err != nil {
		return nil, &RequestError{Message: "invalid redirect location: " + err.Error()}
	}

	next := &httpsend.Sendable{
		Method:  prev.Method,
		URL:     nextURL,
		Headers: prev.Headers.Clone(),
		Body:    prev.Body,
		Options: prev.Options,
	}

	switch status {
	case http.StatusSeeOther:
		next.Method = http.MethodGet
		next.Body = httpsend.Body{Kind: httpsend.BodyNone}
		stripContentHeaders(next.Headers)

	case http.StatusMovedPermanently, http.StatusFound:
		if strings.EqualFold(prev.Method, http.MethodPost) {
			next.Method = http.MethodGet
			next.Body = httpsend.Body{Kind: httpsend.BodyNone}
			stripContentHeaders(next.Headers)
		}

	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if prev.Body.Kind == httpsend.BodyStream {
			return nil, &RequestError{Message: "cannot replay streamed body"}
		}
	}

	return next, nil
}

func stripContentHeaders(h *client.OrderedHeader) {
	h.Del("Content-Length")
	h.Del("Content-Type")
	h.Del("Content-Encoding")
	h.Del("Transfer-Encoding")
}
