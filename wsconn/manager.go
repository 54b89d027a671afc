// Package wsconn implements the WebSocket Manager (spec.md Â§4.G): connect,
// send, and close over github.com/gorilla/websocket. The upgrade GET is
// assembled here as an httpsend.Sendable from the resolved URL and headers
// (httpsend.Build is not used) and is authenticated through the
// Authentication Applier (auth) and httpsend.ApplyAuth.
//
// Grounded on the pack's Voskan-flarego/internal/gateway/listener.go,
// which wires gorilla/websocket server-side; this manager drives the same
// package's client Dialer instead.
package wsconn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/yaak-app/yaakengine/auth"
	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/cookiejar"
	"github.com/yaak-app/yaakengine/httpsend"
	"github.com/yaak-app/yaakengine/logger"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
	"github.com/yaak-app/yaakengine/response"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/tlsprofile"
)

// Manager drives the Connect/Send/Close lifecycle of spec.md Â§4.G's state
// machine: Initialized -> Connecting -> Connected -> Closing -> Closed.
type Manager struct {
	Cookies *cookiejar.Jar
	TLS     *tlsprofile.Selector
	Logger  *logger.Logger
	Authn   *auth.Authenticator
}

// NewManager constructs a Manager. Cookies, TLS, Logger and Authn may be
// nil (nil Cookies/Authn mean "no cookie header"/"no authentication").
func NewManager(cookies *cookiejar.Jar, tlsSel *tlsprofile.Selector, lg *logger.Logger, authn *auth.Authenticator) *Manager {
	return &Manager{Cookies: cookies, TLS: tlsSel, Logger: lg, Authn: authn}
}

// Connect runs spec.md Â§4.G's connect sequence: build the upgrade request,
// inject the cookie header, authenticate using the historical "POST"
// method string, dial, and on success record the response into wc and
// start the receive loop.
func (m *Manager) Connect(ctx context.Context, resolved *resolver.ResolvedWebsocket, wc *response.WebsocketContext) (*Connection, error) {
	if err := wc.Update(ctx, func(c *store.WebsocketConnection) { c.State = store.WSConnecting }); err != nil {
		return nil, fmt.Errorf("wsconn: persist Connecting state: %w", err)
	}

	upgrade := &httpsend.Sendable{
		Method:  "GET",
		URL:     resolved.URL,
		Headers: &client.OrderedHeader{},
		Body:    httpsend.Body{Kind: httpsend.BodyNone},
	}
	for _, h := range resolved.Headers {
		upgrade.Headers.Add(h.Name, h.Value)
	}

	if m.Cookies != nil {
		originURL, err := url.Parse(resolver.WebsocketOrigin(resolved.URL))
		if err == nil {
			if cookieHeader := m.Cookies.CookieHeader(originURL); cookieHeader != "" {
				upgrade.Headers.Add("Cookie", cookieHeader)
			}
		}
	}

	if m.Authn != nil {
		// Â§4.G step 3: the auth plugin is always told "POST", a historical
		// quirk of the auth contract; the actual dial below still issues GET.
		authResp, err := m.Authn.Apply(ctx, resolved.AuthenticationType, resolved.Authentication, resolved.ContextID, "POST", upgrade.URL, pluginPairs(upgrade.Headers))
		if err != nil {
			_ = m.fail(ctx, wc, fmt.Errorf("wsconn: authenticate upgrade: %w", err))
			return nil, err
		}
		if err := httpsend.ApplyAuth(upgrade, authResp); err != nil {
			_ = m.fail(ctx, wc, err)
			return nil, err
		}
	}

	dialer := &websocket.Dialer{}
	if m.TLS != nil {
		u, err := url.Parse(upgrade.URL)
		if err == nil {
			host, port := hostPort(u)
			tlsCfg, cfgErr := m.TLS.Config(fmt.Sprintf("%s:%d", host, port), resolved.ValidateCertificates)
			if cfgErr == nil {
				dialer.TLSClientConfig = tlsCfg
			}
		}
	}

	conn, httpResp, err := dialer.DialContext(ctx, upgrade.URL, upgrade.Headers.ToHTTPHeader())
	if err != nil {
		return nil, m.fail(ctx, wc, fmt.Errorf("wsconn: dial: %w", err))
	}

	status := 0
	var headers []store.NameValue
	if httpResp != nil {
		status = httpResp.StatusCode
		headers = headerPairsFromHTTP(httpResp.Header)
	}
	if err := wc.Update(ctx, func(c *store.WebsocketConnection) {
		c.State = store.WSConnected
		c.Status = status
		c.URL = upgrade.URL
		c.Headers = headers
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wsconn: persist Connected state: %w", err)
	}
	wc.Emit(store.WSEventOpen, true, nil)
	if m.Logger != nil {
		m.Logger.Infof("wsconn: connected %s (status %d)", upgrade.URL, status)
	}

	c := newConnection(conn, wc, m.Logger)
	c.startReceiveLoop(ctx)
	return c, nil
}

func (m *Manager) fail(ctx context.Context, wc *response.WebsocketContext, cause error) error {
	_ = wc.Update(ctx, func(c *store.WebsocketConnection) {
		c.State = store.WSClosed
		c.Error = cause.Error()
	})
	if m.Logger != nil {
		m.Logger.Errorf("wsconn: %v", cause)
	}
	return cause
}

func hostPort(u *url.URL) (string, int) {
	host := u.Hostname()
	if p := u.Port(); p != "" {
		var port int
		_, _ = fmt.Sscanf(p, "%d", &port)
		if port != 0 {
			return host, port
		}
	}
	if u.Scheme == "ws" {
		return host, 80
	}
	return host, 443
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

func headerPairsFromHTTP(h map[string][]string) []store.NameValue {
	out := make([]store.NameValue, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, store.NameValue{Name: name, Value: v, Enabled: true})
		}
	}
	return out
}
