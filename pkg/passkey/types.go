// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"encoding/base64"
	"time"
)

// User is the protocol-visible view of an account. Applications implement
// this interface to integrate their own user model; DefaultUser is provided
// for development and testing.
//
// The handle is the stable opaque identifier the authenticator stores. It
// must never be reused for a different account: reuse would let an old
// credential authenticate a new identity.
type User interface {
	// Handle returns the opaque stable user handle.
	Handle() []byte

	// Name returns the human login identifier, typically an email address.
	Name() string

	// DisplayName returns the human-friendly display name.
	DisplayName() string
}

// AuthenticatorTransport hints how a client reaches an authenticator.
type AuthenticatorTransport string

// Valid transport values.
const (
	TransportUSB      AuthenticatorTransport = "usb"
	TransportNFC      AuthenticatorTransport = "nfc"
	TransportBLE      AuthenticatorTransport = "ble"
	TransportInternal AuthenticatorTransport = "internal"
	TransportHybrid   AuthenticatorTransport = "hybrid"
)

// CredentialFlags records the authenticator flags observed at registration.
type CredentialFlags struct {
	// UserPresent indicates the user was present during the operation.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (e.g., biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// Credential is a registered public-key credential source stored by the
// relying party. One user may own many credentials (multiple authenticators);
// a credential ID is globally unique across all users.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserHandle is the handle of the owning user.
	UserHandle []byte `json:"user_handle"`

	// PublicKey is the credential's public key in raw COSE format.
	PublicKey []byte `json:"public_key"`

	// Algorithm is the COSE algorithm identifier decoded at registration.
	Algorithm COSEAlgorithm `json:"algorithm"`

	// AttestationType records the attestation statement format conveyed at
	// registration ("none", "packed", ...).
	AttestationType string `json:"attestation_type"`

	// Transports lists the transports the client reported for the authenticator.
	Transports []AuthenticatorTransport `json:"transports,omitempty"`

	// AAGUID is the authenticator model identifier (16 bytes).
	AAGUID []byte `json:"aaguid"`

	// SignCount is the monotonic signature counter used for clone detection.
	// Zero means the authenticator does not maintain a counter.
	SignCount uint32 `json:"sign_count"`

	// Flags are the authenticator flags observed at registration.
	Flags CredentialFlags `json:"flags"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// KeyID returns the credential ID as a base64url string, the form used in
// wire messages and logs.
func (c *Credential) KeyID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// Descriptor returns the wire descriptor for allow/exclude lists.
func (c *Credential) Descriptor() CredentialDescriptor {
	return CredentialDescriptor{
		Type:       PublicKeyCredentialType,
		ID:         c.ID,
		Transports: c.Transports,
	}
}

// DefaultUser is a minimal User implementation backed by plain fields.
type DefaultUser struct {
	handle      []byte
	name        string
	displayName string
}

// NewDefaultUser creates a DefaultUser with the given handle and names.
func NewDefaultUser(handle []byte, name, displayName string) *DefaultUser {
	return &DefaultUser{
		handle:      handle,
		name:        name,
		displayName: displayName,
	}
}

// Handle returns the user's opaque handle.
func (u *DefaultUser) Handle() []byte {
	return u.handle
}

// Name returns the user's login name.
func (u *DefaultUser) Name() string {
	return u.name
}

// DisplayName returns the user's display name, falling back to the login name.
func (u *DefaultUser) DisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}
