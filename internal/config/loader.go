package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speakwell/pkg/scoring"
)

// Environment variables that override file values.
const (
	EnvStoreDSN     = "SPEAKWELL_STORE_DSN"
	EnvRemoteAPIKey = "SPEAKWELL_REMOTE_API_KEY"
	EnvLogLevel     = "SPEAKWELL_LOG_LEVEL"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file in the working directory, if present, is loaded into
// the process environment first, and the SPEAKWELL_* overrides are applied
// on top of the file.
//
// An empty path yields [Default] plus environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: ignoring unreadable .env file", "err", err)
	}

	if path == "" {
		return parse(strings.NewReader(""), true)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. It does not consult the environment, which keeps it
// deterministic in tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, false)
}

// parse decodes, applies defaults, optionally applies environment overrides
// and validates.
func parse(r io.Reader, env bool) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if env {
		ApplyEnv(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and the log level from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvStoreDSN); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv(EnvRemoteAPIKey); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxTextLength < 0 {
		errs = append(errs, fmt.Errorf("server.max_text_length %d must not be negative", cfg.Server.MaxTextLength))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must not be negative", cfg.Server.RequestTimeout))
	}

	if _, err := scoring.AlignerByName(cfg.Scoring.Alignment); err != nil {
		errs = append(errs, fmt.Errorf("scoring.alignment %q is invalid; valid values: %s, %s", cfg.Scoring.Alignment, scoring.PolicyPositional, scoring.PolicyEditPath))
	}
	if cfg.Scoring.CorrectThreshold < 0 || cfg.Scoring.CorrectThreshold > 100 {
		errs = append(errs, fmt.Errorf("scoring.correct_threshold %.2f is out of range [0, 100]", cfg.Scoring.CorrectThreshold))
	}

	if _, err := scoring.AlignerByName(cfg.Analysis.Alignment); err != nil {
		errs = append(errs, fmt.Errorf("analysis.alignment %q is invalid; valid values: %s, %s", cfg.Analysis.Alignment, scoring.PolicyPositional, scoring.PolicyEditPath))
	}
	if cfg.Analysis.SecondsPerWord < 0 {
		errs = append(errs, fmt.Errorf("analysis.seconds_per_word %.2f must not be negative", cfg.Analysis.SecondsPerWord))
	}

	if cfg.Remote.BaseURL != "" {
		u, err := url.Parse(cfg.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url %q must be an absolute http(s) URL", cfg.Remote.BaseURL))
		} else if u.Scheme == "http" && cfg.Remote.APIKey != "" {
			slog.Warn("remote.api_key will be sent over plain http", "base_url", cfg.Remote.BaseURL)
		}
	}
	if cfg.Remote.Timeout < 0 {
		errs = append(errs, fmt.Errorf("remote.timeout %s must not be negative", cfg.Remote.Timeout))
	}
	cb := cfg.Remote.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("remote.circuit_breaker values must not be negative"))
	}

	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required when store.driver is %s (or set %s)", cfg.Store.Driver, EnvStoreDSN))
	}
	if cfg.Store.Driver == StoreMemory && cfg.Store.DSN != "" {
		slog.Warn("store.dsn is ignored by the memory store")
	}

	if cfg.Telemetry.MetricsPath != "" && !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}
