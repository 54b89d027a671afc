package config_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/yaak-app/yaakengine/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.DefaultRequestTimeout <= 0 {
		t.Errorf("DefaultRequestTimeout should be > 0, got %v", cfg.DefaultRequestTimeout)
	}
	if cfg.MaxRedirects <= 0 {
		t.Errorf("MaxRedirects should be > 0, got %d", cfg.MaxRedirects)
	}
	if cfg.ResponseHistoryLimit <= 0 {
		t.Errorf("ResponseHistoryLimit should be > 0, got %d", cfg.ResponseHistoryLimit)
	}
	if cfg.MaxIdleConns <= 0 {
		t.Errorf("MaxIdleConns should be > 0, got %d", cfg.MaxIdleConns)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"default_request_timeout": int64(30 * time.Second),
		"max_redirects":           10,
		"response_history_limit":  20,
		"blob_store_dir":          "/tmp/blobs",
		"model_store_path":        "/tmp/yaakengine.db",
		"plugin_socket_path":      "",
		"proxy_file":              "",
		"max_idle_conns":          100,
		"max_idle_conns_per_host": 20,
		"max_conns_per_host":      50,
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxRedirects != 10 {
		t.Errorf("got MaxRedirects=%d, want 10", cfg.MaxRedirects)
	}
	if cfg.BlobStoreDir != "/tmp/blobs" {
		t.Errorf("got BlobStoreDir=%q, want /tmp/blobs", cfg.BlobStoreDir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json}")
	f.Close()

	_, err = config.LoadConfig(f.Name())
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}
