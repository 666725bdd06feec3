package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if cfg.Auth.explicit.enabled {
		t.Fatalf("expected the default auth.enabled to be implicit")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false")
	}
	if !cfg.Idempotency.Enabled {
		t.Fatalf("expected idempotency to default to enabled")
	}
	if cfg.RequestTimeout <= 0 || cfg.MaxBodyBytes <= 0 {
		t.Fatalf("expected positive request timeout and body limit, got %v / %d", cfg.RequestTimeout, cfg.MaxBodyBytes)
	}
}

func TestLoadDefaultsAllowAnonymousDisabledWhenAuthEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false when auth.enabled is true")
	}
}

func TestLoadRequiresOptionalPathsWhenAllowAnonymousEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n  allowAnonymous: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when auth.allowAnonymous is true without optional paths")
	}
}

func TestLoadRequiresExplicitAuthForTLS(t *testing.T) {
	yaml := "auth:\n  issuer: afrochain\nsecurity:\n  tlsCertFile: /etc/afrochain/cert.pem\n  tlsKeyFile: /etc/afrochain/key.pem\n"
	_, err := Load(writeConfig(t, yaml))
	if !errors.Is(err, ErrImplicitAuthWithTLS) {
		t.Fatalf("expected ErrImplicitAuthWithTLS, got %v", err)
	}
}

func TestLoadAllowsExplicitAuthDisabledForTLS(t *testing.T) {
	yaml := "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/afrochain/cert.pem\n  tlsKeyFile: /etc/afrochain/key.pem\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Security.TLSEnabled() {
		t.Fatalf("expected TLS to be enabled")
	}
}

func TestLoadRejectsHalfTLSConfig(t *testing.T) {
	path := writeConfig(t, "security:\n  tlsCertFile: /etc/afrochain/cert.pem\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when only the certificate is configured")
	}
}

func TestLoadNormalizesOptionalPaths(t *testing.T) {
	yaml := "auth:\n  enabled: true\n  allowAnonymous: true\n  optionalPaths:\n    - /v1/certificates\n    - \"   /v1/batches   \"\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	expected := []string{"/v1/certificates", "/v1/batches"}
	if len(cfg.Auth.OptionalPaths) != len(expected) {
		t.Fatalf("expected %d optional paths, got %d", len(expected), len(cfg.Auth.OptionalPaths))
	}
	for i, path := range expected {
		if cfg.Auth.OptionalPaths[i] != path {
			t.Fatalf("optional path %d mismatch: expected %q, got %q", i, path, cfg.Auth.OptionalPaths[i])
		}
	}
}

func TestLoadRejectsOptionalPathsWithoutLeadingSlash(t *testing.T) {
	yaml := "auth:\n  enabled: true\n  allowAnonymous: true\n  optionalPaths:\n    - v1/certificates\n"
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for optional path without leading slash")
	}
}

func TestValidateRejectsImplicitAnonymousAccess(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			Enabled:        true,
			OptionalPaths:  []string{"/v1/certificates"},
			AllowAnonymous: true,
		},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrImplicitAnonymous) {
		t.Fatalf("expected ErrImplicitAnonymous, got %v", err)
	}
}

func TestLoadSecretFromEnvironment(t *testing.T) {
	t.Setenv(EnvJWTSecret, "  s3cret ")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.HMACSecret != "s3cret" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.HMACSecret)
	}
}

func TestLoadRejectsBadRateLimits(t *testing.T) {
	cases := map[string]string{
		"missing id":   "rateLimits:\n  - requestsPerMinute: 60\n",
		"duplicate id": "rateLimits:\n  - id: payments\n    requestsPerMinute: 60\n  - id: payments\n    requestsPerMinute: 10\n",
		"zero rate":    "rateLimits:\n  - id: payments\n",
		"unknown id":   "rateLimits:\n  - id: swaps\n    requestsPerMinute: 60\n",
		"negative":     "rateLimits:\n  - id: reads\n    requestsPerMinute: 60\n    burst: -1\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadKeepsDefaultsForUnsetAuthFields(t *testing.T) {
	t.Setenv(EnvListen, "127.0.0.1:9090")
	cfg, err := Load(writeConfig(t, "auth:\n  issuer: afrochain\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Auth.Issuer != "afrochain" {
		t.Fatalf("expected issuer from file, got %q", cfg.Auth.Issuer)
	}
	if cfg.ListenAddress != "127.0.0.1:9090" {
		t.Fatalf("expected listen override, got %q", cfg.ListenAddress)
	}
}

func TestDisableMarksAuthExplicit(t *testing.T) {
	cfg := defaults()
	cfg.Auth.Disable()
	cfg.Security = SecurityConfig{TLSCertFile: "/etc/afrochain/cert.pem", TLSKeyFile: "/etc/afrochain/key.pem"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected explicit disable to satisfy TLS check, got %v", err)
	}
}
