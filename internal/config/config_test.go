package config

import (
	"os"
	"testing"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.ExpirySeconds != 3600 {
		t.Errorf("expected default session expiry 3600, got %d", cfg.Session.ExpirySeconds)
	}
	if cfg.Session.MaxScriptSize != 1<<20 {
		t.Errorf("expected default max_script_size 1MiB, got %d", cfg.Session.MaxScriptSize)
	}
	if cfg.Runtime.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Runtime.MaxRetries)
	}
	if cfg.ArtifactCache.WasmCompileTimeoutSec != 60 {
		t.Errorf("expected default wasm compile timeout 60, got %d", cfg.ArtifactCache.WasmCompileTimeoutSec)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	for k, v := range map[string]string{
		"HOST":                       "127.0.0.1",
		"PORT":                       "9090",
		"DATABASE_URL":               "postgres://example/db",
		"NODEJS_RUNTIME_URL":         "http://nodejs.internal:4000",
		"RUNTIME_SELECTION_STRATEGY": "Exact",
		"SESSION_EXPIRY_SECONDS":     "120",
	} {
		t.Setenv(k, v)
	}

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 9090 {
		t.Fatalf("unexpected HTTP config: %+v", cfg.HTTP)
	}
	if cfg.Postgres.DSN != "postgres://example/db" {
		t.Fatalf("unexpected DSN: %s", cfg.Postgres.DSN)
	}
	if cfg.Runtime.URLs["nodejs"] != "http://nodejs.internal:4000" {
		t.Fatalf("unexpected runtime URL table: %+v", cfg.Runtime.URLs)
	}
	if cfg.Runtime.SelectionStrategy != "Exact" {
		t.Fatalf("unexpected selection strategy: %s", cfg.Runtime.SelectionStrategy)
	}
	if cfg.Session.ExpirySeconds != 120 {
		t.Fatalf("unexpected session expiry: %d", cfg.Session.ExpirySeconds)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString("http:\n  port: 9999\nsession:\n  expiry_seconds: 42\n"); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	cfg, err := LoadFromFile(f.Name())
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.HTTP.Port != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.ExpirySeconds != 42 {
		t.Fatalf("expected overridden expiry 42, got %d", cfg.Session.ExpirySeconds)
	}
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Fatalf("expected untouched default host, got %s", cfg.HTTP.Host)
	}
}

func TestRuntimeEndpointsBuildsTableFromURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Runtime.URLs["nodejs"] = "http://nodejs.local"

	table := cfg.RuntimeEndpoints()
	ep, ok := table["nodejs"]
	if !ok {
		t.Fatalf("expected nodejs entry in runtime endpoint table")
	}
	if ep.BaseURL != "http://nodejs.local" {
		t.Fatalf("unexpected base url: %s", ep.BaseURL)
	}
}

func TestAddrJoinsHostAndPort(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
}
