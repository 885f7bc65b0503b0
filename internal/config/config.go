// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Browser BrowserConfig `mapstructure:"browser"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Extract ExtractConfig `mapstructure:"extract"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the worker pool and caller deadlines.
type ScraperConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	DefaultTimeoutSec int `mapstructure:"default_timeout_seconds"`
	MaxTimeoutSec     int `mapstructure:"max_timeout_seconds"`
}

// DefaultTimeout is the caller deadline applied when a request names none.
func (c ScraperConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

// MaxTimeout caps the caller-supplied deadline.
func (c ScraperConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutSec) * time.Second
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Headless      bool    `mapstructure:"headless"`
	Stealth       bool    `mapstructure:"stealth"`
	UserAgent     string  `mapstructure:"user_agent"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	OpTimeoutSec  int     `mapstructure:"op_timeout_seconds"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// NavTimeout bounds a single page navigation.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// OpTimeout bounds a single document operation.
func (c BrowserConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSec) * time.Second
}

// ArchiveConfig configures the archive snapshot client.
type ArchiveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	UserAgent      string `mapstructure:"user_agent"`
	MinIntervalSec int    `mapstructure:"min_interval_seconds"`
	TimeoutSec     int    `mapstructure:"timeout_seconds"`
}

// MinInterval is the politeness gap between archive submissions.
func (c ArchiveConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSec) * time.Second
}

// Timeout bounds one snapshot operation.
func (c ArchiveConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ExtractConfig tunes the readable-text extractor.
type ExtractConfig struct {
	MinContentChars int `mapstructure:"min_content_chars"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGESIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.concurrency", 3)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.default_timeout_seconds", 30)
	v.SetDefault("scraper.max_timeout_seconds", 300)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.op_timeout_seconds", 10)
	v.SetDefault("browser.max_parallel", 3)
	v.SetDefault("browser.domain_qps", 0)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.endpoint", "https://archive.is")
	v.SetDefault("archive.user_agent", "Mozilla/5.0 (compatible; pagesift/1.0)")
	v.SetDefault("archive.min_interval_seconds", 5)
	v.SetDefault("archive.timeout_seconds", 90)
	v.SetDefault("extract.min_content_chars", 50)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.QueueDepth <= 0 {
		return fmt.Errorf("scraper.queue_depth must be > 0")
	}
	if c.Scraper.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("scraper.default_timeout_seconds must be > 0")
	}
	if c.Scraper.MaxTimeoutSec < c.Scraper.DefaultTimeoutSec {
		return fmt.Errorf("scraper.max_timeout_seconds must be >= default timeout")
	}
	if c.Browser.Enabled {
		if c.Browser.MaxParallel < 0 {
			return fmt.Errorf("browser.max_parallel must be >= 0")
		}
		if c.Browser.NavTimeoutSec <= 0 {
			return fmt.Errorf("browser.nav_timeout_seconds must be > 0 when the browser is enabled")
		}
	}
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint must be set when the archive is enabled")
		}
		if c.Archive.MinIntervalSec < 0 {
			return fmt.Errorf("archive.min_interval_seconds must be >= 0")
		}
		if c.Archive.TimeoutSec <= 0 {
			return fmt.Errorf("archive.timeout_seconds must be > 0 when the archive is enabled")
		}
	}
	if c.Extract.MinContentChars <= 0 {
		return fmt.Errorf("extract.min_content_chars must be > 0")
	}
	return nil
}
