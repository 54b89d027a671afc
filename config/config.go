// Package config provides configuration management for the request
// transaction core: HTTP transport tuning, storage locations, and the
// plugin runtime socket, loaded once at startup and shared read-only
// across goroutines.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all tunable parameters for the transaction core. Fields
// cover HTTP transport tuning, redirect/retention limits, proxy
// configuration, and the filesystem/socket locations the engine reads
// from and writes to.
type Config struct {
	// DefaultRequestTimeout is the end-to-end timeout cmd/yaakengine writes
	// into its request's own request_timeout_ms. resolver.Resolve does not
	// read it: a request whose settings chain leaves request_timeout_ms
	// unset resolves to 0 (no timeout). Use time.Duration JSON encoding
	// (e.g. "30s", "1m").
	DefaultRequestTimeout time.Duration `json:"default_request_timeout"`

	// MaxRedirects is the redirect-chain length cmd/yaakengine passes to
	// httpsend.Build for every request; request settings carry no redirect
	// limit of their own. A zero value falls back to
	// httpsend.DefaultMaxRedirects.
	MaxRedirects uint32 `json:"max_redirects"`

	// ResponseHistoryLimit is N in "only the most recent N responses per
	// request are retained" (spec.md Â§4.I).
	// cmd/yaakengine does not pass it on: store/memstore has its own
	// ResponseHistoryLimit field, which defaults to 20.
	ResponseHistoryLimit int `json:"response_history_limit"`

	// BlobStoreDir is the directory response/request bodies are written
	// to by the configured store.BlobStore.
	BlobStoreDir string `json:"blob_store_dir"`

	// ModelStorePath is the path to the model store's backing file or
	// database, consumed by whichever store.ModelStore implementation
	// the caller wires in (cmd/yaakengine uses store/memstore and
	// ignores this field; a persistent implementation would not).
	ModelStorePath string `json:"model_store_path"`

	// PluginSocketPath is the Unix domain socket the plugin runtime
	// (pluginrt.Runtime) listens on for authentication/render callbacks.
	PluginSocketPath string `json:"plugin_socket_path"`

	// ProxyFile is the path to a newline-delimited file containing proxy
	// addresses (host:port or scheme://host:port). Leave empty to run
	// without proxies.
	ProxyFile string `json:"proxy_file"`

	// MaxIdleConns is the total maximum number of idle (keep-alive)
	// connections across all hosts in the HTTP transport pool.
	// A higher value reduces connection setup overhead at the cost of
	// memory. Defaults to 500 for high-throughput scenarios.
	MaxIdleConns int `json:"max_idle_conns"`

	// MaxIdleConnsPerHost caps idle connections to a single host.
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`

	// MaxConnsPerHost limits the total number of connections (idle +
	// active) to a single host. This prevents a runaway host from
	// exhausting all available file descriptors.
	MaxConnsPerHost int `json:"max_conns_per_host"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a Config.
// It returns an error if the file cannot be opened or if the JSON is malformed.
// The returned *Config is ready to use; zero-value fields retain Go's zero
// values, so callers should validate required fields after loading.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with production-sensible defaults.
// The values are tuned for high-concurrency workloads (~500 sessions) while
// staying within typical OS file-descriptor limits.
// Callers are free to mutate the returned struct before passing it to other
// components; each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		DefaultRequestTimeout: 30 * time.Second,
		MaxRedirects:          10,
		ResponseHistoryLimit:  20,
		BlobStoreDir:          "./data/blobs",
		ModelStorePath:        "./data/yaakengine.db",
		PluginSocketPath:      "",
		ProxyFile:             "",
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       200,
	}
}
