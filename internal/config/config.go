// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

// Package config loads the passkeyd server configuration from a YAML file
// and applies environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/passkeyhq/go-passkey/pkg/passkey"
)

// Config represents the complete server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	TLS          TLSConfig          `yaml:"tls"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Storage      StorageConfig      `yaml:"storage"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Token        TokenConfig        `yaml:"token"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeouts in seconds. Zero means the built-in default.
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig controls TLS settings for the listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// StorageConfig selects the credential/user/challenge store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `yaml:"path"`
}

// RelyingPartyConfig describes the WebAuthn relying party.
type RelyingPartyConfig struct {
	ID               string   `yaml:"id"`
	DisplayName      string   `yaml:"display_name"`
	Origins          []string `yaml:"origins"`
	AllowSubdomains  bool     `yaml:"allow_subdomains"`
	InsecureIDs      []string `yaml:"insecure_ids"`
	ChallengeTTLSecs int      `yaml:"challenge_ttl_secs"`
	TimeoutSecs      int      `yaml:"timeout_secs"`
	UserVerification string   `yaml:"user_verification"`
	ResidentKey      string   `yaml:"resident_key"`
	Debug            bool     `yaml:"debug"`
}

// TokenConfig controls session token issuance after authentication.
type TokenConfig struct {
	Issuer   string   `yaml:"issuer"`
	Audience []string `yaml:"audience"`
	TTLSecs  int      `yaml:"ttl_secs"`

	// KeyFile is a PEM-encoded private key used to sign tokens. When empty
	// an ephemeral ECDSA P-256 key is generated at startup, which means
	// tokens do not survive a restart.
	KeyFile string `yaml:"key_file"`
}

// Default returns a development configuration: in-memory stores, plain HTTP
// on localhost, relying party "localhost" with the usual dev origins.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		RelyingParty: RelyingPartyConfig{
			ID:          "localhost",
			DisplayName: "go-passkey dev",
			Origins:     []string{"http://localhost:8080"},
			InsecureIDs: []string{"localhost"},
		},
		Token: TokenConfig{
			Issuer: "go-passkey",
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. An empty path yields the default development configuration with
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies PASSKEYD_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEYD_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PASSKEYD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p >= 1 && p <= 65535 {
			cfg.Server.Port = p
		}
	}

	if level := os.Getenv("PASSKEYD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEYD_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if backend := os.Getenv("PASSKEYD_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("PASSKEYD_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	if rpID := os.Getenv("PASSKEYD_RP_ID"); rpID != "" {
		cfg.RelyingParty.ID = rpID
	}
	if origins := os.Getenv("PASSKEYD_RP_ORIGINS"); origins != "" {
		var list []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				list = append(list, o)
			}
		}
		cfg.RelyingParty.Origins = list
	}

	if keyFile := os.Getenv("PASSKEYD_TOKEN_KEY_FILE"); keyFile != "" {
		cfg.Token.KeyFile = keyFile
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying_party.id must be specified")
	}
	if len(c.RelyingParty.Origins) == 0 {
		return fmt.Errorf("relying_party.origins must list at least one trusted origin")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics path must be specified when metrics are enabled")
		}
	}

	return nil
}

// PasskeyConfig builds the ceremony engine configuration from the relying
// party section.
func (c *Config) PasskeyConfig() *passkey.Config {
	rp := c.RelyingParty
	return &passkey.Config{
		RPID:             rp.ID,
		RPDisplayName:    rp.DisplayName,
		RPOrigins:        rp.Origins,
		AllowSubdomains:  rp.AllowSubdomains,
		InsecureRPIDs:    rp.InsecureIDs,
		ChallengeTTL:     time.Duration(rp.ChallengeTTLSecs) * time.Second,
		Timeout:          time.Duration(rp.TimeoutSecs) * time.Second,
		UserVerification: passkey.UserVerificationRequirement(rp.UserVerification),
		ResidentKey:      passkey.ResidentKeyRequirement(rp.ResidentKey),
		Debug:            rp.Debug,
	}
}
