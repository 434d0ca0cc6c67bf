package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLERK_DATA_DIR", dir)
	t.Setenv("CLERK_API_URL", "")
	t.Setenv("CLERK_LOG_LEVEL", "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if cfg.DBPath != filepath.Join(dir, "clerk.db") {
		t.Errorf("unexpected DBPath %q", cfg.DBPath)
	}
	if cfg.API.BaseURL != "http://127.0.0.1:8000" {
		t.Errorf("unexpected BaseURL %q", cfg.API.BaseURL)
	}
	if cfg.API.GenerateTimeout != 60*time.Second {
		t.Errorf("unexpected GenerateTimeout %v", cfg.API.GenerateTimeout)
	}
	if cfg.Locale.PhoneRegion != "UA" {
		t.Errorf("unexpected PhoneRegion %q", cfg.Locale.PhoneRegion)
	}
	if cfg.ExportDir != filepath.Join(dir, "exports") {
		t.Errorf("unexpected ExportDir %q", cfg.ExportDir)
	}
}

func TestNewReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLERK_DATA_DIR", dir)
	t.Setenv("CLERK_LOG_LEVEL", "debug")
	t.Setenv("CLERK_API_URL", "")

	content := `
api:
  base_url: http://contracts.test
  generate_timeout: 90s
  retries: 5
locale:
  phone_region: PL
log:
  format: json
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if cfg.API.BaseURL != "http://contracts.test" {
		t.Errorf("expected base url from file, got %q", cfg.API.BaseURL)
	}
	if cfg.API.GenerateTimeout != 90*time.Second {
		t.Errorf("expected 90s generate timeout, got %v", cfg.API.GenerateTimeout)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.API.Timeout)
	}
	if cfg.API.Retries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.API.Retries)
	}
	if cfg.Locale.PhoneRegion != "PL" {
		t.Errorf("expected PL, got %q", cfg.Locale.PhoneRegion)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env to override log level, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json format, got %q", cfg.Log.Format)
	}
}

func TestNewInvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLERK_DATA_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("api: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv("CLERK_DATA_DIR", dir)

	cfg, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir() failed: %v", err)
	}
	if _, err := os.Stat(cfg.ExportDir); err != nil {
		t.Errorf("export dir not created: %v", err)
	}
}
