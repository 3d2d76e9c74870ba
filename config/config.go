package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	apxerrors "github.com/apxor/browserpool/errors"
)

// DefaultConfig holds the embedded baseline configuration. Every value here
// can be overridden by a POOL_-prefixed environment variable (spec.md §6).
var DefaultConfig = []byte(`
max_contexts: 10
default_domain_delay_ms: 1000
max_queue_wait_seconds: 300
max_consecutive_errors: 5
persistent_contexts_path: "./data/contexts"
browser_headless: true
use_virtual_display: false
virtual_display_size: "1920x1080"
log_level: "info"
log_format: "console"
listen: ":8088"
shutdown_grace_seconds: 30
driver_backend: "playwright"
archive_enabled: false
archive_bucket: ""
eventlog_mongo_uri: ""
eventlog_kafka_brokers: ""
`)

// Config is the process-wide pool configuration: the recognized options
// from spec.md §6 plus the ambient additions from SPEC_FULL.md §3.3.
type Config struct {
	MaxContexts            int    `koanf:"max_contexts"`
	DefaultDomainDelayMs   int    `koanf:"default_domain_delay_ms"`
	MaxQueueWaitSeconds    int    `koanf:"max_queue_wait_seconds"`
	MaxConsecutiveErrors   int    `koanf:"max_consecutive_errors"`
	PersistentContextsPath string `koanf:"persistent_contexts_path"`
	BrowserHeadless        bool   `koanf:"browser_headless"`
	UseVirtualDisplay      bool   `koanf:"use_virtual_display"`
	VirtualDisplaySize     string `koanf:"virtual_display_size"`
	LogLevel               string `koanf:"log_level"`
	LogFormat              string `koanf:"log_format"`
	Listen                 string `koanf:"listen"`
	ShutdownGraceSeconds   int    `koanf:"shutdown_grace_seconds"`
	DriverBackend          string `koanf:"driver_backend"`
	ArchiveEnabled         bool   `koanf:"archive_enabled"`
	ArchiveBucket          string `koanf:"archive_bucket"`
	EventlogMongoURI       string `koanf:"eventlog_mongo_uri"`
	EventlogKafkaBrokers   string `koanf:"eventlog_kafka_brokers"`
}

// MaxQueueWait returns MaxQueueWaitSeconds as a time.Duration.
func (c *Config) MaxQueueWait() time.Duration {
	return time.Duration(c.MaxQueueWaitSeconds) * time.Second
}

// ShutdownGrace returns ShutdownGraceSeconds as a time.Duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// QueueCap is the RequestQueue's admission cap: max_contexts * 4 (spec.md §4.3).
func (c *Config) QueueCap() int {
	return c.MaxContexts * 4
}

// Load builds a Config from the embedded defaults, an optional overlay
// (typically CLI flags), and POOL_-prefixed environment variables, applied
// in that precedence order.
func Load(overlay map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if len(overlay) > 0 {
		if err := k.Load(confmap.Provider(overlay, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overlay config: %w", err)
		}
	}

	envProvider := env.Provider("POOL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "POOL_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	ve := apxerrors.ValidationErrs()

	if c.MaxContexts <= 0 {
		ve.Add("max_contexts", "must be positive")
	}
	if c.DefaultDomainDelayMs < 0 {
		ve.Add("default_domain_delay_ms", "cannot be negative")
	}
	if c.MaxQueueWaitSeconds <= 0 {
		ve.Add("max_queue_wait_seconds", "must be positive")
	}
	if c.MaxConsecutiveErrors <= 0 {
		ve.Add("max_consecutive_errors", "must be positive")
	}
	if c.PersistentContextsPath == "" {
		ve.Add("persistent_contexts_path", "cannot be empty")
	}
	if c.Listen == "" {
		ve.Add("listen", "cannot be empty")
	}
	if c.ShutdownGraceSeconds <= 0 {
		ve.Add("shutdown_grace_seconds", "must be positive")
	}
	switch c.DriverBackend {
	case "playwright", "docker":
	default:
		ve.Add("driver_backend", "must be playwright or docker")
	}
	if c.ArchiveEnabled && c.ArchiveBucket == "" {
		ve.Add("archive_bucket", "required when archive_enabled is true")
	}

	return ve.Err()
}
