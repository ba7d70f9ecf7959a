package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen: got %q", cfg.Listen)
	}
	if cfg.DBPath != filepath.Join("data", "pagesnap.db") {
		t.Fatalf("db path: got %q", cfg.DBPath)
	}
	if cfg.Queue.Visibility.Std() != 2*time.Minute || cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("queue defaults: got %+v", cfg.Queue)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesnap.yaml")
	const doc = `
listen: ":9090"
log_level: debug
data_dir: /var/lib/pagesnap
browser:
  remote_url: ws://chrome:9222
  resource_blocking: [fonts, media]
  stealth: true
queue:
  visibility: 5m
webhooks:
  - url: https://hooks.example/capture
    secret: s3cret
    events: [done, failed]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("got listen=%q level=%q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.DBPath != filepath.Join("/var/lib/pagesnap", "pagesnap.db") {
		t.Fatalf("db path: got %q", cfg.DBPath)
	}
	if cfg.Browser.RemoteURL != "ws://chrome:9222" || !cfg.Browser.Stealth {
		t.Fatalf("browser: got %+v", cfg.Browser)
	}
	if len(cfg.Browser.ResourceBlocking) != 2 {
		t.Fatalf("resource blocking: got %v", cfg.Browser.ResourceBlocking)
	}
	if cfg.Queue.Visibility.Std() != 5*time.Minute {
		t.Fatalf("visibility: got %v", cfg.Queue.Visibility)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Secret != "s3cret" {
		t.Fatalf("webhooks: got %+v", cfg.Webhooks)
	}
	if len(cfg.Webhooks[0].Events) != 2 {
		t.Fatalf("events: got %v", cfg.Webhooks[0].Events)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PAGESNAP_LISTEN", ":7070")
	t.Setenv("PAGESNAP_DATA_DIR", "/tmp/ps")
	t.Setenv("PAGESNAP_BROWSER_URL", "ws://remote:9222")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7070" {
		t.Fatalf("listen: got %q", cfg.Listen)
	}
	if cfg.DBPath != filepath.Join("/tmp/ps", "pagesnap.db") {
		t.Fatalf("db path: got %q", cfg.DBPath)
	}
	if cfg.Browser.RemoteURL != "ws://remote:9222" {
		t.Fatalf("browser url: got %q", cfg.Browser.RemoteURL)
	}
}
