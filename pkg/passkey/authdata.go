// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator data flag bits.
const (
	flagUserPresent       byte = 0x01
	flagUserVerified      byte = 0x04
	flagBackupEligible    byte = 0x08
	flagBackupState       byte = 0x10
	flagAttestedData      byte = 0x40
	flagExtensionsPresent byte = 0x80
)

const (
	authDataMinLength     = 37
	aaguidLength          = 16
	credentialIDMaxLength = 1023
)

// AttestedCredentialData is the credential material an authenticator embeds
// in registration responses.
type AttestedCredentialData struct {
	AAGUID       []byte
	CredentialID []byte
	PublicKey    *PublicKey
}

// AuthenticatorData is the parsed binary structure every authenticator signs
// over.
type AuthenticatorData struct {
	RPIDHash  []byte
	Flags     byte
	SignCount uint32

	// AttestedCredential is nil unless the AT flag is set.
	AttestedCredential *AttestedCredentialData

	// Raw holds the bytes as received, needed to reassemble the signed
	// payload during verification.
	Raw []byte
}

// UserPresent reports the UP flag.
func (a *AuthenticatorData) UserPresent() bool { return a.Flags&flagUserPresent != 0 }

// UserVerified reports the UV flag.
func (a *AuthenticatorData) UserVerified() bool { return a.Flags&flagUserVerified != 0 }

// BackupEligible reports the BE flag.
func (a *AuthenticatorData) BackupEligible() bool { return a.Flags&flagBackupEligible != 0 }

// BackedUp reports the BS flag.
func (a *AuthenticatorData) BackedUp() bool { return a.Flags&flagBackupState != 0 }

// MatchesRPID compares the embedded hash against SHA-256 of the given RP ID
// in constant time.
func (a *AuthenticatorData) MatchesRPID(rpID string) bool {
	want := sha256.Sum256([]byte(rpID))
	return subtle.ConstantTimeCompare(a.RPIDHash, want[:]) == 1
}

// ParseAuthenticatorData decodes the fixed header, then the attested
// credential data and extension map when their flags are set. Trailing bytes
// beyond the declared structures are rejected.
func ParseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < authDataMinLength {
		return nil, WrapError("authenticator data too short", ErrMalformedMessage)
	}

	ad := &AuthenticatorData{
		RPIDHash:  raw[:32],
		Flags:     raw[32],
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
		Raw:       raw,
	}
	rest := raw[authDataMinLength:]

	if ad.Flags&flagAttestedData != 0 {
		attested, remaining, err := parseAttestedCredentialData(rest)
		if err != nil {
			return nil, err
		}
		ad.AttestedCredential = attested
		rest = remaining
	}

	if ad.Flags&flagExtensionsPresent != 0 {
		remaining, err := skipExtensions(rest)
		if err != nil {
			return nil, err
		}
		rest = remaining
	}

	if len(rest) != 0 {
		return nil, WrapError("authenticator data trailing bytes", ErrMalformedMessage)
	}
	return ad, nil
}

func parseAttestedCredentialData(rest []byte) (*AttestedCredentialData, []byte, error) {
	if len(rest) < aaguidLength+2 {
		return nil, nil, WrapError("attested credential data truncated", ErrMalformedMessage)
	}
	aaguid := rest[:aaguidLength]
	idLen := int(binary.BigEndian.Uint16(rest[aaguidLength : aaguidLength+2]))
	rest = rest[aaguidLength+2:]

	if idLen == 0 || idLen > credentialIDMaxLength {
		return nil, nil, WrapError("credential ID length", ErrMalformedMessage)
	}
	if len(rest) < idLen {
		return nil, nil, WrapError("credential ID truncated", ErrMalformedMessage)
	}
	credID := rest[:idLen]
	rest = rest[idLen:]

	// The COSE key is a CBOR item of variable length. Decode one item and
	// measure how many bytes it consumed.
	dec := cbor.NewDecoder(bytes.NewReader(rest))
	var rawKey cbor.RawMessage
	if err := dec.Decode(&rawKey); err != nil {
		return nil, nil, WrapError("credential public key", ErrMalformedMessage)
	}
	consumed := dec.NumBytesRead()

	pub, err := DecodePublicKey(rest[:consumed])
	if err != nil {
		return nil, nil, err
	}

	return &AttestedCredentialData{
		AAGUID:       aaguid,
		CredentialID: credID,
		PublicKey:    pub,
	}, rest[consumed:], nil
}

func skipExtensions(rest []byte) ([]byte, error) {
	dec := cbor.NewDecoder(bytes.NewReader(rest))
	var ext cbor.RawMessage
	if err := dec.Decode(&ext); err != nil {
		return nil, WrapError("extension data", ErrMalformedMessage)
	}
	return rest[dec.NumBytesRead():], nil
}
