// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing RPID",
			mutate:  func(c *Config) { c.RPID = "" },
			wantErr: "RPID is required",
		},
		{
			name:    "missing display name",
			mutate:  func(c *Config) { c.RPDisplayName = "" },
			wantErr: "RPDisplayName is required",
		},
		{
			name:    "no origins",
			mutate:  func(c *Config) { c.RPOrigins = nil },
			wantErr: "at least one RPOrigin is required",
		},
		{
			name:   "no origins but subdomains allowed",
			mutate: func(c *Config) { c.RPOrigins = nil; c.AllowSubdomains = true },
		},
		{
			name:    "bad origin",
			mutate:  func(c *Config) { c.RPOrigins = []string{"not a url"} },
			wantErr: "invalid origin",
		},
		{
			name:    "bad user verification",
			mutate:  func(c *Config) { c.UserVerification = "sometimes" },
			wantErr: "invalid user verification",
		},
		{
			name:    "bad resident key",
			mutate:  func(c *Config) { c.ResidentKey = "maybe" },
			wantErr: "invalid resident key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	config := validConfig()
	config.SetDefaults()

	assert.Equal(t, 2*time.Minute, config.ChallengeTTL)
	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, VerificationPreferred, config.UserVerification)
	assert.Equal(t, ResidentKeyPreferred, config.ResidentKey)
}

func TestConfigSetDefaultsKeepsExplicitValues(t *testing.T) {
	config := validConfig()
	config.ChallengeTTL = 5 * time.Minute
	config.UserVerification = VerificationRequired
	config.SetDefaults()

	assert.Equal(t, 5*time.Minute, config.ChallengeTTL)
	assert.Equal(t, VerificationRequired, config.UserVerification)
}

func TestConfigOriginTrusted(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		origin string
		want   bool
	}{
		{
			name: "exact match",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://example.com"},
			},
			origin: "https://example.com",
			want:   true,
		},
		{
			name: "exact match case insensitive",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://Example.COM"},
			},
			origin: "https://example.com",
			want:   true,
		},
		{
			name: "unlisted origin",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://example.com"},
			},
			origin: "https://evil.com",
			want:   false,
		},
		{
			name: "scheme matters",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://app.example.net"},
			},
			origin: "http://app.example.net",
			want:   false,
		},
		{
			name: "subdomain allowed",
			config: Config{
				RPID:            "example.com",
				AllowSubdomains: true,
			},
			origin: "https://login.example.com",
			want:   true,
		},
		{
			name: "subdomain rejected without flag",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://example.com"},
			},
			origin: "https://login.example.com",
			want:   false,
		},
		{
			name: "suffix trick rejected",
			config: Config{
				RPID:            "example.com",
				AllowSubdomains: true,
			},
			origin: "https://evilexample.com",
			want:   false,
		},
		{
			name: "http localhost with insecure RPID",
			config: Config{
				RPID:          "localhost",
				InsecureRPIDs: []string{"localhost"},
			},
			origin: "http://localhost",
			want:   true,
		},
		{
			name: "http rejected without insecure RPID",
			config: Config{
				RPID: "localhost",
			},
			origin: "http://localhost",
			want:   false,
		},
		{
			name: "port does not break host match",
			config: Config{
				RPID: "example.com",
			},
			origin: "https://example.com:8443",
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.OriginTrusted(tt.origin))
		})
	}
}
