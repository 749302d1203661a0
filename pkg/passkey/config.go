// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// UserVerificationRequirement expresses how strongly the relying party wants
// the authenticator to verify the user (PIN, biometric).
type UserVerificationRequirement string

// Valid user verification requirements.
const (
	VerificationRequired    UserVerificationRequirement = "required"
	VerificationPreferred   UserVerificationRequirement = "preferred"
	VerificationDiscouraged UserVerificationRequirement = "discouraged"
)

// ResidentKeyRequirement expresses whether the authenticator should create a
// discoverable (resident) credential.
type ResidentKeyRequirement string

// Valid resident key requirements.
const (
	ResidentKeyRequired    ResidentKeyRequirement = "required"
	ResidentKeyPreferred   ResidentKeyRequirement = "preferred"
	ResidentKeyDiscouraged ResidentKeyRequirement = "discouraged"
)

// Config is the immutable relying party context. It identifies the verifying
// party and carries the origin trust policy. No field may be mutated after
// the config is handed to NewService.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	// Example: "Example Corp"
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins is an exact-match allow-list of trusted origins.
	// Example: []string{"https://example.com", "https://www.example.com"}
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// AllowSubdomains trusts any https origin whose host is a subdomain of
	// RPID, in addition to the RPOrigins list.
	AllowSubdomains bool `yaml:"allow_subdomains" json:"allow_subdomains" mapstructure:"allow_subdomains"`

	// InsecureRPIDs lists RP IDs for which plain http origins are accepted.
	// Intended for local development only (e.g. "localhost").
	InsecureRPIDs []string `yaml:"insecure_ids,omitempty" json:"insecure_ids,omitempty" mapstructure:"insecure_ids"`

	// ChallengeTTL is how long an issued challenge remains valid.
	// Default: 2 minutes.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// Timeout is the ceremony timeout hint sent to clients.
	// Default: 60 seconds.
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// UserVerification specifies the user verification requirement for both
	// ceremonies. Default: "preferred".
	UserVerification UserVerificationRequirement `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// ResidentKey specifies the resident key requirement sent with creation
	// options. Default: "preferred".
	ResidentKey ResidentKeyRequirement `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// Debug enables verbose logging of individual verification gates.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 && !c.AllowSubdomains {
		return fmt.Errorf("at least one RPOrigin is required unless AllowSubdomains is set")
	}

	switch c.UserVerification {
	case "", VerificationRequired, VerificationPreferred, VerificationDiscouraged:
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.ResidentKey {
	case "", ResidentKeyRequired, ResidentKeyPreferred, ResidentKeyDiscouraged:
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKey)
	}

	for _, origin := range c.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid origin %q", origin)
		}
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 2 * time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = VerificationPreferred
	}
	if c.ResidentKey == "" {
		c.ResidentKey = ResidentKeyPreferred
	}
}

// OriginTrusted reports whether the relying party trusts the given web origin.
//
// An origin is trusted when it appears verbatim in RPOrigins, or when its host
// equals RPID (or is a subdomain of RPID with AllowSubdomains set) over a
// secure scheme. Plain http is accepted only when RPID is listed in
// InsecureRPIDs.
func (c *Config) OriginTrusted(origin string) bool {
	for _, allowed := range c.RPOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := u.Hostname()
	if !strings.EqualFold(host, c.RPID) {
		if !c.AllowSubdomains || !hasSuffixFold(host, "."+c.RPID) {
			return false
		}
	}

	if u.Scheme == "https" {
		return true
	}
	if u.Scheme == "http" {
		for _, id := range c.InsecureRPIDs {
			if strings.EqualFold(id, c.RPID) {
				return true
			}
		}
	}
	return false
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) > len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
