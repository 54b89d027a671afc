// Command yaakengine drives one HTTP request transaction end to end
// against a config file, a stored request definition's URL, and prints the
// resulting response snapshot as JSON. It exists to wire every ambient
// component (config, logger, metrics, in-memory store) and the HTTP
// transaction core together the way a host application would, exercising
// them outside of package-level tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/yaak-app/yaakengine/auth"
	"github.com/yaak-app/yaakengine/client"
	"github.com/yaak-app/yaakengine/config"
	"github.com/yaak-app/yaakengine/httpsend"
	"github.com/yaak-app/yaakengine/logger"
	"github.com/yaak-app/yaakengine/metrics"
	"github.com/yaak-app/yaakengine/pluginrt"
	"github.com/yaak-app/yaakengine/resolver"
	"github.com/yaak-app/yaakengine/store"
	"github.com/yaak-app/yaakengine/store/memstore"
	"github.com/yaak-app/yaakengine/template"
	"github.com/yaak-app/yaakengine/tlsprofile"
	"github.com/yaak-app/yaakengine/transaction"
)

func main() {
	configPath := flag.String("config", "", "path to a config.json file; defaults baked in if omitted")
	url := flag.String("url", "https://httpbin.org/get", "URL to send a GET request to")
	method := flag.String("method", http.MethodGet, "HTTP method")
	logLevel := flag.String("log-level", "info", "debug, info, or error")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics at http://<addr>/metrics")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "yaakengine: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	lg := logger.New(parseLevel(*logLevel))
	m := metrics.NewMetrics()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				lg.Errorf("yaakengine: metrics server: %v", err)
			}
		}()
	}

	if err := run(cfg, lg, m, *method, *url); err != nil {
		lg.Errorf("yaakengine: %v", err)
		os.Exit(1)
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// run wires config -> transaction.Pool -> transaction.Engine against a
// freshly minted HttpRequest/HttpResponse pair in an in-memory store, the
// same shape a desktop host would drive per spec.md Â§4.A-Â§4.E, and prints
// the terminal response snapshot.
func run(cfg *config.Config, lg *logger.Logger, m *metrics.Metrics, method, rawURL string) error {
	st := memstore.New()
	selector := tlsprofile.NewSelector(nil)
	pool := transaction.NewPoolFromConfig(cfg, selector)
	engine := transaction.NewEngine(pool, lg, m)

	// No out-of-process plugin runtime is wired when PluginSocketPath is
	// empty; the template engine still serves the two native functions
	// (secure, keychain) and every non-plugin authentication type.
	var caller *pluginrt.Caller
	tplEngine := template.NewEngine([]template.NativeFunction{
		template.SecureFunction{Keys: template.NewWorkspaceKeys()},
		template.NewKeychainFunction(),
	}, nil, cfg.DefaultRequestTimeout)
	authn := auth.NewAuthenticator(caller)

	req := &store.HttpRequest{
		ID:     "req-cli",
		Method: method,
		URL:    rawURL,
		Settings: store.Settings{
			RequestTimeoutMs: intPtr(int(cfg.DefaultRequestTimeout.Milliseconds())),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DefaultRequestTimeout+5*time.Second)
	defer cancel()

	resolved, err := resolver.Resolve(ctx, tplEngine, req, nil, nil, pluginrt.PurposeSend, template.Throw)
	if err != nil {
		return fmt.Errorf("resolve request: %w", err)
	}

	authResp, err := authn.Apply(ctx, resolved.AuthenticationType, resolved.Authentication, resolved.ContextID, resolved.Method, resolved.URL, headerPairs(resolved.Headers))
	if err != nil {
		return fmt.Errorf("apply authentication: %w", err)
	}

	sendable, err := httpsend.Build(resolved, authResp, cfg.MaxRedirects, httpsend.DefaultFileOpener)
	if err != nil {
		return fmt.Errorf("build sendable: %w", err)
	}
	if sendable.Headers == nil {
		sendable.Headers = &client.OrderedHeader{}
	}

	resp := &store.HttpResponse{
		ID:        "resp-cli",
		RequestID: req.ID,
		State:     store.ResponseInitialized,
		CreatedAt: time.Now(),
	}
	if err := st.UpsertHttpResponse(ctx, resp, store.UpdateSource{Kind: store.UpdateSourceWindow}); err != nil {
		return fmt.Errorf("seed response: %w", err)
	}
	rc := transaction.NewResponseContext(st, resp, store.UpdateSource{Kind: store.UpdateSourceWindow})

	if err := engine.Execute(ctx, sendable, rc, st.Blobs()); err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	snap := rc.Snapshot()
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func intPtr(v int) *int { return &v }

func headerPairs(nv []store.NameValue) []pluginrt.HeaderPair {
	out := make([]pluginrt.HeaderPair, len(nv))
	for i, h := range nv {
		out[i] = pluginrt.HeaderPair{Name: h.Name, Value: h.Value}
	}
	return out
}
