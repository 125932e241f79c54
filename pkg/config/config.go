// Package config holds the process-wide firewall configuration: the
// tokenization secret, pipeline thresholds, the extractor endpoint, and the
// audit/server wiring. Loaded once at startup and read-only thereafter.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AuditConfig selects the audit sinks. All fields optional; empty disables
// that sink.
type AuditConfig struct {
	RedisAddr   string `yaml:"redis_addr"`
	RedisStream string `yaml:"redis_stream"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Config is the full runtime configuration.
type Config struct {
	// SecretKey keys token derivation. Required: without it token ids are
	// not stable across processes. Overridden by AEGIS_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`

	// DefaultConfidenceThreshold gates detections whose label no policy
	// references, and stands in for any referencing policy that sets no
	// min_confidence. Must be in (0, 1].
	DefaultConfidenceThreshold float64 `yaml:"default_confidence_threshold"`

	// ThrowOnDeny surfaces denials as errors instead of DENY verdicts.
	ThrowOnDeny bool `yaml:"throw_on_deny"`

	// TokenFormat is "bracket" or "markdown".
	TokenFormat string `yaml:"token_format"`

	// ExtractorTimeoutMs bounds each oracle call; expiry denies the
	// request (fail-closed).
	ExtractorTimeoutMs int `yaml:"extractor_timeout_ms"`

	// ExtractorURL is the entity extraction service endpoint. Empty
	// disables the oracle path. Overridden by AEGIS_EXTRACTOR_URL.
	ExtractorURL string `yaml:"extractor_url"`

	// MaskedValuesExempt leaves already-masked surfaces (4532-****-****-3456)
	// untokenized instead of treating them as distinct surfaces.
	MaskedValuesExempt bool `yaml:"masked_values_exempt"`

	// PublicRecordMarkers overrides the publicRecord guard markers.
	PublicRecordMarkers []string `yaml:"public_record_markers"`

	// CatalogPath and PolicyPath point at the YAML definitions. Empty
	// CatalogPath selects the built-in catalog.
	CatalogPath string `yaml:"catalog_path"`
	PolicyPath  string `yaml:"policy_path"`

	// ListenAddr is the HTTP API bind address. Overridden by
	// AEGIS_LISTEN_ADDR.
	ListenAddr string `yaml:"listen_addr"`

	Audit AuditConfig `yaml:"audit"`
}

// NewDefaultConfig returns the baseline configuration. The secret key is
// taken from the environment, or generated for the lifetime of the process
// when unset — generated keys mean token ids do not survive restarts.
func NewDefaultConfig() *Config {
	return &Config{
		SecretKey:                  getSecretKey(),
		DefaultConfidenceThreshold: 0.5,
		TokenFormat:                "bracket",
		ExtractorTimeoutMs:         5000,
		ListenAddr:                 ":8090",
	}
}

// NewHighSecurityConfig returns a stricter preset: lower confidence gate
// (more detections survive to policy evaluation) and deny surfaced as an
// error so callers cannot ignore it.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.DefaultConfidenceThreshold = 0.3
	cfg.ThrowOnDeny = true
	return cfg
}

// Load reads a YAML config file and applies environment overrides. Missing
// optional fields fall back to the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv copies environment overrides into the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("AEGIS_SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("AEGIS_EXTRACTOR_URL"); v != "" {
		c.ExtractorURL = v
	}
	if v := os.Getenv("AEGIS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// Validate checks field ranges. Violations are fatal at process start.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required")
	}
	if c.DefaultConfidenceThreshold <= 0 || c.DefaultConfidenceThreshold > 1 {
		return fmt.Errorf("default_confidence_threshold must be in (0, 1], got %f", c.DefaultConfidenceThreshold)
	}
	switch c.TokenFormat {
	case "bracket", "markdown":
	default:
		return fmt.Errorf("token_format must be bracket or markdown, got %q", c.TokenFormat)
	}
	if c.ExtractorTimeoutMs <= 0 {
		return fmt.Errorf("extractor_timeout_ms must be positive, got %d", c.ExtractorTimeoutMs)
	}
	return nil
}

// getSecretKey returns the env-provided key, or a random per-process key
// when unset. 32 random bytes, hex encoded.
func getSecretKey() string {
	if v := os.Getenv("AEGIS_SECRET_KEY"); v != "" {
		return v
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform RNG is broken; refuse to
		// continue with a predictable key.
		panic(fmt.Sprintf("generate secret key: %v", err))
	}
	return hex.EncodeToString(buf)
}
