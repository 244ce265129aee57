// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Remote        RemoteConfig        `yaml:"remote"`
	SchemaCache   SchemaCacheConfig   `yaml:"schema_cache"`
	Observations  ObservationConfig   `yaml:"observations"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// Identity modes.
const (
	// IdentityVerify checks every bearer token against the identity
	// provider's JWKS before any claim is trusted.
	IdentityVerify = "verify"
	// IdentityUnverified reads claims without checking the signature. For
	// local development against a platform that verifies tokens itself.
	IdentityUnverified = "unverified"
)

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Mode         string            `yaml:"mode"`
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
	// RejectExpired refuses expired tokens in unverified mode instead of
	// forwarding them. Verified tokens must always be unexpired.
	RejectExpired bool `yaml:"reject_expired"`
}

// RemoteConfig describes the remote platform API.
type RemoteConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings for remote calls.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// SchemaCacheConfig describes where last-read data models are kept.
type SchemaCacheConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ObservationConfig describes persistence of last-observed executions.
type ObservationConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Tenant-Id", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			Mode:         IdentityVerify,
			JWKSCacheTTL: time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
			RejectExpired: true,
		},
		Remote: RemoteConfig{
			Timeout: 15 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		SchemaCache: SchemaCacheConfig{
			Driver:     "memory",
			AddrEnv:    "FIELDADMIN_REDIS_ADDR",
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
		},
		Observations: ObservationConfig{
			Driver:          "memory",
			DSNEnv:          "FIELDADMIN_DATABASE_URL",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. An empty path skips the file. overrides run
// after the environment and before validation.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url is required")
	} else if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		errs = append(errs, "remote.base_url must be an http or https URL")
	}
	switch c.Identity.Mode {
	case IdentityVerify:
		if c.Identity.Issuer == "" {
			errs = append(errs, "identity.issuer is required")
		}
		if c.Identity.JWKSURL == "" {
			errs = append(errs, "identity.jwks_url is required")
		}
		if c.Identity.Audience == "" {
			errs = append(errs, "identity.audience is required")
		}
		if len(c.Identity.Algorithms) == 0 {
			errs = append(errs, "identity.algorithms must not be empty")
		}
	case IdentityUnverified:
	default:
		errs = append(errs, fmt.Sprintf("identity.mode %q is not one of verify, unverified", c.Identity.Mode))
	}
	switch c.SchemaCache.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("schema_cache.driver %q is not one of memory, redis", c.SchemaCache.Driver))
	}
	switch c.Observations.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("observations.driver %q is not one of memory, postgres", c.Observations.Driver))
	}
	if c.Observability.Tracing.SamplingRate < 0 || c.Observability.Tracing.SamplingRate > 1 {
		errs = append(errs, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FIELDADMIN_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDADMIN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FIELDADMIN_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("FIELDADMIN_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = d
		}
	}
	if v := os.Getenv("FIELDADMIN_IDENTITY_MODE"); v != "" {
		cfg.Identity.Mode = v
	}
	if v := os.Getenv("FIELDADMIN_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("FIELDADMIN_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("FIELDADMIN_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("FIELDADMIN_SCHEMA_CACHE_DRIVER"); v != "" {
		cfg.SchemaCache.Driver = v
	}
	if v := os.Getenv("FIELDADMIN_OBSERVATIONS_DRIVER"); v != "" {
		cfg.Observations.Driver = v
	}
	if v := os.Getenv("FIELDADMIN_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
