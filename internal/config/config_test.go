package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scraper.Concurrency != 3 || cfg.Scraper.QueueDepth != 64 {
		t.Fatalf("unexpected scraper defaults: %+v", cfg.Scraper)
	}
	if got := cfg.Scraper.DefaultTimeout(); got != 30*time.Second {
		t.Fatalf("expected default caller timeout 30s, got %v", got)
	}
	if got := cfg.Scraper.MaxTimeout(); got != 300*time.Second {
		t.Fatalf("expected max caller timeout 300s, got %v", got)
	}
	if !cfg.Browser.Enabled || !cfg.Browser.Headless || !cfg.Browser.Stealth {
		t.Fatalf("expected browser enabled/headless/stealth by default: %+v", cfg.Browser)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Endpoint != "https://archive.is" {
		t.Fatalf("unexpected archive defaults: %+v", cfg.Archive)
	}
	if got := cfg.Archive.MinInterval(); got != 5*time.Second {
		t.Fatalf("expected archive min interval 5s, got %v", got)
	}
	if cfg.Extract.MinContentChars != 50 {
		t.Fatalf("expected min content chars 50, got %d", cfg.Extract.MinContentChars)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
scraper:
  concurrency: 6
  queue_depth: 128
  default_timeout_seconds: 20
  max_timeout_seconds: 120
browser:
  enabled: true
  headless: false
  stealth: false
  user_agent: test-agent
  nav_timeout_seconds: 12
  op_timeout_seconds: 4
  max_parallel: 2
  domain_qps: 0.5
archive:
  enabled: false
extract:
  min_content_chars: 80
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scraper.Concurrency != 6 || cfg.Scraper.QueueDepth != 128 {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	if got := cfg.Scraper.DefaultTimeout(); got != 20*time.Second {
		t.Fatalf("expected caller timeout 20s, got %v", got)
	}
	if cfg.Browser.Headless || cfg.Browser.Stealth || cfg.Browser.UserAgent != "test-agent" {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if got := cfg.Browser.NavTimeout(); got != 12*time.Second {
		t.Fatalf("expected nav timeout 12s, got %v", got)
	}
	if cfg.Browser.DomainQPS != 0.5 {
		t.Fatalf("expected domain qps 0.5, got %v", cfg.Browser.DomainQPS)
	}
	if cfg.Archive.Enabled {
		t.Fatal("expected archive disabled")
	}
	if cfg.Extract.MinContentChars != 80 {
		t.Fatalf("expected min content chars 80, got %d", cfg.Extract.MinContentChars)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Scraper: ScraperConfig{
			Concurrency:       3,
			QueueDepth:        64,
			DefaultTimeoutSec: 30,
			MaxTimeoutSec:     300,
		},
		Browser: BrowserConfig{Enabled: true, NavTimeoutSec: 30},
		Archive: ArchiveConfig{Enabled: true, Endpoint: "https://archive.is", TimeoutSec: 90},
		Extract: ExtractConfig{MinContentChars: 50},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Scraper.Concurrency = 0
				return c
			}(),
			want: "scraper.concurrency",
		},
		{
			name: "invalid queue depth",
			cfg: func() Config {
				c := base
				c.Scraper.QueueDepth = 0
				return c
			}(),
			want: "scraper.queue_depth",
		},
		{
			name: "max timeout below default",
			cfg: func() Config {
				c := base
				c.Scraper.MaxTimeoutSec = 10
				return c
			}(),
			want: "scraper.max_timeout_seconds",
		},
		{
			name: "browser missing nav timeout",
			cfg: func() Config {
				c := base
				c.Browser.NavTimeoutSec = 0
				return c
			}(),
			want: "browser.nav_timeout_seconds",
		},
		{
			name: "archive missing endpoint",
			cfg: func() Config {
				c := base
				c.Archive.Endpoint = ""
				return c
			}(),
			want: "archive.endpoint",
		},
		{
			name: "archive missing timeout",
			cfg: func() Config {
				c := base
				c.Archive.TimeoutSec = 0
				return c
			}(),
			want: "archive.timeout_seconds",
		},
		{
			name: "invalid min content chars",
			cfg: func() Config {
				c := base
				c.Extract.MinContentChars = 0
				return c
			}(),
			want: "extract.min_content_chars",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
