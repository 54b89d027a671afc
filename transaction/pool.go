package transaction

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/yaak-app/yaakengine/config"
	"github.com/yaak-app/yaakengine/tlsprofile"
)

// poolKey mirrors spec.md §5's connection-pool key exactly:
// (host, port, proxy, validate_certs, client_cert).
type poolKey struct {
	host            string
	port            int
	proxy           string
	validateCerts   bool
	hasClientCert   bool
}

// Pool owns one *http.Client per distinct (host, port, proxy,
// validate_certs, client_cert) combination, grounded on the teacher's
// session.Session (one *http.Client per session, never shared) generalized
// from "one client per session" to "one client per connection-pool key",
// since the transaction core has no session concept of its own.
type Pool struct {
	mu       sync.Mutex
	clients  map[poolKey]*http.Client
	selector *tlsprofile.Selector

	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
}

// NewPool creates an empty Pool backed by selector for TLS/client-cert
// resolution, using the teacher's original fixed transport limits.
func NewPool(selector *tlsprofile.Selector) *Pool {
	return &Pool{
		clients:             make(map[poolKey]*http.Client),
		selector:            selector,
		maxIdleConns:        500,
		maxIdleConnsPerHost: 100,
		maxConnsPerHost:     200,
	}
}

// NewPoolFromConfig creates an empty Pool whose transport limits come from
// cfg's connection-pool fields instead of the hardcoded defaults.
func NewPoolFromConfig(cfg *config.Config, selector *tlsprofile.Selector) *Pool {
	return &Pool{
		clients:             make(map[poolKey]*http.Client),
		selector:            selector,
		maxIdleConns:        cfg.MaxIdleConns,
		maxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		maxConnsPerHost:     cfg.MaxConnsPerHost,
	}
}

// ClientFor returns the pooled *http.Client for rawURL, proxyURL and
// validateCerts, creating one if this is the first request for that key.
//
// CheckRedirect is disabled (returns http.ErrUseLastResponse) because the
// transaction engine implements spec.md §4.E's redirect policy itself
// rather than delegating to net/http's built-in follower. DisableCompression
// is set because Content-Encoding negotiation is receive-side only (spec.md
// §6): the engine never adds Accept-Encoding on the caller's behalf and
// decompresses the raw wire bytes itself (see decompress.go).
func (p *Pool) ClientFor(rawURL, proxyURL string, validateCerts bool) (*http.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transaction: parse url %q: %w", rawURL, err)
	}
	host, port := hostPort(u)

	cert, hasCert, err := p.selector.CertificateFor(host, port)
	if err != nil {
		return nil, fmt.Errorf("transaction: resolve client certificate for %s:%d: %w", host, port, err)
	}

	key := poolKey{host: host, port: port, proxy: proxyURL, validateCerts: validateCerts, hasClientCert: hasCert}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	tlsCfg, err := p.selector.Config(net.JoinHostPort(host, strconv.Itoa(port)), validateCerts)
	if err != nil {
		return nil, fmt.Errorf("transaction: build tls config for %s:%d: %w", host, port, err)
	}
	if hasCert {
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{
		TLSClientConfig:       tlsCfg,
		DisableKeepAlives:     false,
		DisableCompression:    true,
		MaxIdleConns:          p.maxIdleConns,
		MaxIdleConnsPerHost:   p.maxIdleConnsPerHost,
		MaxConnsPerHost:       p.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyURL != "" {
		pu, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("transaction: parse proxy url %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(pu)
	}
	// Negotiates ALPN "h2" then "http/1.1" on top of tlsCfg.NextProtos
	// (set by tlsprofile.Selector.Config), matching the teacher's
	// H2TransportConfig wiring minus the fingerprint-spoofing layer.
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("transaction: configure http2: %w", err)
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	p.clients[key] = client
	return client, nil
}

func hostPort(u *url.URL) (string, int) {
	host := u.Hostname()
	portStr := u.Port()
	if portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			return host, p
		}
	}
	if u.Scheme == "http" || u.Scheme == "ws" {
		return host, 80
	}
	return host, 443
}
