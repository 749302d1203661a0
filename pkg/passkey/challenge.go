// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"crypto/rand"
	"time"
)

// ChallengeLength is the size in bytes of generated challenge values. The
// WebAuthn specification requires at least 16 bytes; 32 gives 256 bits of
// entropy.
const ChallengeLength = 32

// CeremonyKind distinguishes the two ceremony types a challenge can serve.
type CeremonyKind string

// Ceremony kinds.
const (
	CeremonyRegistration   CeremonyKind = "registration"
	CeremonyAuthentication CeremonyKind = "authentication"
)

// Challenge is a single-use cryptographic challenge issued for one ceremony
// attempt. It is keyed by its own value; the finish step recovers it from the
// value embedded in clientData, so no ambient session state is needed.
//
// The ceremony parameters recorded at issue time (bound handle, verification
// requirement, exclude flag) travel with the challenge so the finish step
// verifies against exactly what was offered to the client.
type Challenge struct {
	// Value is the random challenge bytes, also the storage key.
	Value []byte `json:"value"`

	// Kind is the ceremony this challenge was issued for.
	Kind CeremonyKind `json:"kind"`

	// BoundHandle is the user handle this challenge is bound to. Nil means
	// "any user" and is used for the discoverable authentication flow.
	BoundHandle []byte `json:"bound_handle,omitempty"`

	// UserVerification is the verification requirement announced in the
	// options this challenge accompanied.
	UserVerification UserVerificationRequirement `json:"user_verification"`

	// ExcludeExisting records whether registration asked to reject
	// re-registration of an authenticator the user already owns.
	ExcludeExisting bool `json:"exclude_existing,omitempty"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the challenge stops being valid.
	ExpiresAt time.Time `json:"expires_at"`

	// Consumed marks a spent challenge. Only the issuing store may flip it.
	Consumed bool `json:"consumed"`
}

// Expired reports whether the challenge is past its TTL at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ChallengeParams carries the ceremony parameters recorded on an issued
// challenge.
type ChallengeParams struct {
	// Kind is the ceremony the challenge will serve.
	Kind CeremonyKind

	// BoundHandle binds the challenge to one user. Nil issues an unbound
	// challenge for the discoverable flow.
	BoundHandle []byte

	// UserVerification is the requirement announced with the options.
	UserVerification UserVerificationRequirement

	// ExcludeExisting is the registration duplicate-rejection flag.
	ExcludeExisting bool

	// TTL is how long the challenge stays valid.
	TTL time.Duration
}

// NewChallenge builds a Challenge with fresh random bytes. It is exported
// for ChallengeStore implementations outside this package. Returns
// ErrEntropyUnavailable if the random source cannot be read.
func NewChallenge(params ChallengeParams) (*Challenge, error) {
	value := make([]byte, ChallengeLength)
	if _, err := rand.Read(value); err != nil {
		return nil, WrapError("generate challenge", ErrEntropyUnavailable)
	}

	now := time.Now().UTC()
	return &Challenge{
		Value:            value,
		Kind:             params.Kind,
		BoundHandle:      params.BoundHandle,
		UserVerification: params.UserVerification,
		ExcludeExisting:  params.ExcludeExisting,
		CreatedAt:        now,
		ExpiresAt:        now.Add(params.TTL),
	}, nil
}
