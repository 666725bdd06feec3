// Package config loads the YAML file that shapes the broker's HTTP gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvJWTSecret overrides auth.hmacSecret so the secret can stay out of the file.
	EnvJWTSecret = "AFRO_GATEWAY_JWT_SECRET"
	// EnvListen overrides listen.
	EnvListen = "AFRO_GATEWAY_LISTEN"
)

// RateLimitKeys are the buckets the gateway routes draw from.
var RateLimitKeys = []string{"payments", "reads", "escrow", "provenance"}

var (
	ErrImplicitAuthWithTLS = errors.New("auth.enabled must be set explicitly when TLS is configured")
	ErrImplicitAnonymous   = errors.New("auth.allowAnonymous must be explicitly set to true to enable anonymous access")
)

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// IdempotencyConfig locates the sqlite database holding idempotency keys and
// the audit log. An empty path keeps both in memory.
type IdempotencyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

// TLSEnabled reports whether the listener should serve TLS.
func (s SecurityConfig) TLSEnabled() bool {
	return strings.TrimSpace(s.TLSCertFile) != "" && strings.TrimSpace(s.TLSKeyFile) != ""
}

// AuthConfig configures bearer-token verification. Enabled and
// AllowAnonymous remember whether the file set them, since TLS deployments
// must not rely on the default.
type AuthConfig struct {
	Enabled        bool          `yaml:"-"`
	HMACSecret     string        `yaml:"hmacSecret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim"`
	OptionalPaths  []string      `yaml:"optionalPaths"`
	AllowAnonymous bool          `yaml:"-"`
	ClockSkew      time.Duration `yaml:"clockSkew"`

	explicit struct{ enabled, anonymous bool }
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain AuthConfig
	var toggles struct {
		Enabled        *bool `yaml:"enabled"`
		AllowAnonymous *bool `yaml:"allowAnonymous"`
	}
	if err := node.Decode(&toggles); err != nil {
		return err
	}
	if err := node.Decode((*plain)(a)); err != nil {
		return err
	}
	a.explicit.enabled = toggles.Enabled != nil
	a.Enabled = toggles.Enabled == nil || *toggles.Enabled
	a.explicit.anonymous = toggles.AllowAnonymous != nil
	a.AllowAnonymous = toggles.AllowAnonymous != nil && *toggles.AllowAnonymous
	return nil
}

// Disable turns authentication off, e.g. for a local development node.
func (a *AuthConfig) Disable() {
	a.Enabled = false
	a.explicit.enabled = true
}

type Config struct {
	ListenAddress  string              `yaml:"listen"`
	ReadTimeout    time.Duration       `yaml:"readTimeout"`
	WriteTimeout   time.Duration       `yaml:"writeTimeout"`
	IdleTimeout    time.Duration       `yaml:"idleTimeout"`
	RequestTimeout time.Duration       `yaml:"requestTimeout"`
	MaxBodyBytes   int64               `yaml:"maxBodyBytes"`
	RateLimits     []RateLimitConfig   `yaml:"rateLimits"`
	Observability  ObservabilityConfig `yaml:"observability"`
	Auth           AuthConfig          `yaml:"auth"`
	Security       SecurityConfig      `yaml:"security"`
	CORS           CORSConfig          `yaml:"cors"`
	Idempotency    IdempotencyConfig   `yaml:"idempotency"`
}

func defaults() Config {
	return Config{
		ListenAddress:  ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxBodyBytes:   1 << 20,
		Observability: ObservabilityConfig{
			ServiceName:   "afrochain-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "afrochain_gateway",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
		Idempotency: IdempotencyConfig{Enabled: true},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read gateway config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode gateway config: %w", err)
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
	if listen := strings.TrimSpace(os.Getenv(EnvListen)); listen != "" {
		cfg.ListenAddress = listen
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate gateway config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and normalises auth.optionalPaths in
// place.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("gateway config is nil")
	}
	if err := cfg.validateTLS(); err != nil {
		return err
	}
	if err := cfg.validateAuth(); err != nil {
		return err
	}
	if cfg.RequestTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("maxBodyBytes must be positive")
	}
	return cfg.validateRateLimits()
}

func (cfg *Config) validateTLS() error {
	certSet := strings.TrimSpace(cfg.Security.TLSCertFile) != ""
	keySet := strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
	if certSet != keySet {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must be set together")
	}
	if certSet && !cfg.Auth.explicit.enabled {
		return ErrImplicitAuthWithTLS
	}
	return nil
}

func (cfg *Config) validateAuth() error {
	if cfg.Auth.AllowAnonymous && !cfg.Auth.explicit.anonymous {
		return ErrImplicitAnonymous
	}
	paths := make([]string, len(cfg.Auth.OptionalPaths))
	for i, p := range cfg.Auth.OptionalPaths {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		case !strings.HasPrefix(p, "/"):
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		paths[i] = p
	}
	cfg.Auth.OptionalPaths = paths
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(paths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	return nil
}

func (cfg *Config) validateRateLimits() error {
	seen := make(map[string]bool, len(cfg.RateLimits))
	for i, rl := range cfg.RateLimits {
		id := strings.TrimSpace(rl.ID)
		switch {
		case id == "":
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		case !slices.Contains(RateLimitKeys, id):
			return fmt.Errorf("rateLimits[%d].id %q is not one of %s", i, id, strings.Join(RateLimitKeys, ", "))
		case seen[id]:
			return fmt.Errorf("rateLimits[%d].id %q is duplicated", i, id)
		case rl.RequestsPerMinute <= 0:
			return fmt.Errorf("rateLimits[%d].requestsPerMinute must be positive", i)
		case rl.Burst < 0:
			return fmt.Errorf("rateLimits[%d].burst must not be negative", i)
		}
		seen[id] = true
	}
	return nil
}
