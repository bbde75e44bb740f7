// Package config provides the configuration schema and loader for the
// speakwell server and CLI.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreDriver selects the practice session backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Remote    RemoteConfig    `yaml:"remote"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MaxTextLength caps both request texts, in runes. Default: 5000.
	MaxTextLength int `yaml:"max_text_length"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds one analysis, including remote failover.
	// Default: 10s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ScoringConfig tunes the offline engine used by /api/score, the websocket
// stream and the last-resort fallback.
type ScoringConfig struct {
	// Alignment is the word alignment policy: "positional" or "edit_path".
	// Default: positional.
	Alignment string `yaml:"alignment"`

	// CorrectThreshold is the per-word similarity percentage at or above which
	// a differing word still counts as correct. Default: 90.
	CorrectThreshold float64 `yaml:"correct_threshold"`
}

// AnalysisConfig tunes the in-process analysis service.
type AnalysisConfig struct {
	// Alignment defaults to "edit_path".
	Alignment string `yaml:"alignment"`

	// SecondsPerWord drives the timing estimate. Default: 0.6.
	SecondsPerWord float64 `yaml:"seconds_per_word"`
}

// RemoteConfig points at an external analysis service. When BaseURL is
// empty, only local analysis is used.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token. Prefer SPEAKWELL_REMOTE_API_KEY.
	APIKey string `yaml:"api_key"`

	// Timeout is the per-request HTTP timeout. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the tuning knobs of the remote breaker. Zero
// values select the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// StoreConfig selects where practice sessions are persisted.
type StoreConfig struct {
	// Driver defaults to memory.
	Driver StoreDriver `yaml:"driver"`

	// DSN is a Postgres connection string or a SQLite file path. Prefer
	// SPEAKWELL_STORE_DSN for credentials.
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures metrics export.
type TelemetryConfig struct {
	// ServiceName is the OpenTelemetry service.name. Default: "speakwell".
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where the Prometheus handler is mounted. Default:
	// "/metrics".
	MetricsPath string `yaml:"metrics_path"`
}

// Default returns a configuration with every default applied. It is valid as
// is and runs fully offline.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxTextLength == 0 {
		cfg.Server.MaxTextLength = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Second
	}
	if cfg.Scoring.Alignment == "" {
		cfg.Scoring.Alignment = scoring.PolicyPositional
	}
	if cfg.Scoring.CorrectThreshold == 0 {
		cfg.Scoring.CorrectThreshold = 90
	}
	if cfg.Analysis.Alignment == "" {
		cfg.Analysis.Alignment = scoring.PolicyEditPath
	}
	if cfg.Analysis.SecondsPerWord == 0 {
		cfg.Analysis.SecondsPerWord = 0.6
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 5 * time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "speakwell"
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = "/metrics"
	}
}
