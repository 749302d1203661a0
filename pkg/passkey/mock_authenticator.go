// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

// MockAuthenticator simulates a WebAuthn authenticator for testing. It signs
// with a real ECDSA P-256 key, so the responses it produces verify end to end
// against the ceremony engine.
type MockAuthenticator struct {
	// AAGUID is the authenticator model identifier (16 bytes).
	AAGUID []byte

	// CredentialID is the credential identifier.
	CredentialID []byte

	// SignCount is the counter reported on the next assertion.
	SignCount uint32

	// UserPresent controls the UP flag.
	UserPresent bool

	// UserVerified controls the UV flag.
	UserVerified bool

	// Format is the attestation format emitted at registration.
	Format string

	privateKey *ecdsa.PrivateKey
	rpIDHash   [32]byte
}

// MockAuthenticatorOption configures a MockAuthenticator.
type MockAuthenticatorOption func(*MockAuthenticator)

// WithCredentialID sets a custom credential ID.
func WithCredentialID(credID []byte) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.CredentialID = credID
	}
}

// WithSignCount sets the counter reported on the next assertion.
func WithSignCount(count uint32) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.SignCount = count
	}
}

// WithUserPresent sets the UP flag.
func WithUserPresent(up bool) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.UserPresent = up
	}
}

// WithUserVerified sets the UV flag.
func WithUserVerified(uv bool) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.UserVerified = uv
	}
}

// WithAttestationFormat sets the attestation format emitted at registration.
func WithAttestationFormat(format string) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.Format = format
	}
}

// NewMockAuthenticator creates a mock authenticator bound to the given RP ID.
func NewMockAuthenticator(rpID string, opts ...MockAuthenticatorOption) (*MockAuthenticator, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, err
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}

	m := &MockAuthenticator{
		AAGUID:       aaguid,
		CredentialID: credID,
		UserPresent:  true,
		UserVerified: true,
		Format:       AttestationFormatNone,
		privateKey:   privateKey,
		rpIDHash:     sha256.Sum256([]byte(rpID)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateRegistrationResponse produces the JSON body a browser would post back
// after navigator.credentials.create() against the given challenge.
func (m *MockAuthenticator) CreateRegistrationResponse(challenge []byte, origin string) ([]byte, error) {
	clientDataJSON, err := m.clientData(clientDataTypeCreate, challenge, origin)
	if err != nil {
		return nil, err
	}

	coseKey, err := m.coseKey()
	if err != nil {
		return nil, err
	}

	authData := m.authData(flagAttestedData)
	authData = append(authData, m.AAGUID...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(m.CredentialID)))
	authData = append(authData, m.CredentialID...)
	authData = append(authData, coseKey...)

	attObj, err := m.attestationObject(authData, clientDataJSON)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(m.CredentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(m.CredentialID),
		"type":  PublicKeyCredentialType,
		"response": map[string]any{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(clientDataJSON),
			"attestationObject": base64.RawURLEncoding.EncodeToString(attObj),
			"transports":        []string{"usb"},
		},
	}
	return json.Marshal(resp)
}

// CreateAssertionResponse produces the JSON body a browser would post back
// after navigator.credentials.get(). The sign counter advances before
// signing; userHandle may be nil for non-discoverable assertions.
func (m *MockAuthenticator) CreateAssertionResponse(challenge []byte, origin string, userHandle []byte) ([]byte, error) {
	clientDataJSON, err := m.clientData(clientDataTypeGet, challenge, origin)
	if err != nil {
		return nil, err
	}

	m.SignCount++
	authData := m.authData(0)

	sig, err := m.sign(authData, clientDataJSON)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"clientDataJSON":    base64.RawURLEncoding.EncodeToString(clientDataJSON),
		"authenticatorData": base64.RawURLEncoding.EncodeToString(authData),
		"signature":         base64.RawURLEncoding.EncodeToString(sig),
	}
	if userHandle != nil {
		response["userHandle"] = base64.RawURLEncoding.EncodeToString(userHandle)
	}

	resp := map[string]any{
		"id":       base64.RawURLEncoding.EncodeToString(m.CredentialID),
		"rawId":    base64.RawURLEncoding.EncodeToString(m.CredentialID),
		"type":     PublicKeyCredentialType,
		"response": response,
	}
	return json.Marshal(resp)
}

func (m *MockAuthenticator) clientData(ceremonyType string, challenge []byte, origin string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      ceremonyType,
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
}

func (m *MockAuthenticator) authData(extraFlags byte) []byte {
	flags := extraFlags
	if m.UserPresent {
		flags |= flagUserPresent
	}
	if m.UserVerified {
		flags |= flagUserVerified
	}

	data := make([]byte, 0, authDataMinLength)
	data = append(data, m.rpIDHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, m.SignCount)
	return data
}

func (m *MockAuthenticator) coseKey() ([]byte, error) {
	pub := m.privateKey.PublicKey
	return cbor.Marshal(map[int64]any{
		1:  coseKeyTypeEC2,
		3:  int64(AlgES256),
		-1: coseCurveP256,
		-2: pub.X.FillBytes(make([]byte, 32)),
		-3: pub.Y.FillBytes(make([]byte, 32)),
	})
}

func (m *MockAuthenticator) attestationObject(authData, clientDataJSON []byte) ([]byte, error) {
	obj := map[string]any{
		"fmt":      m.Format,
		"attStmt":  map[string]any{},
		"authData": authData,
	}

	if m.Format == AttestationFormatPacked {
		sig, err := m.sign(authData, clientDataJSON)
		if err != nil {
			return nil, err
		}
		obj["attStmt"] = map[string]any{
			"alg": int64(AlgES256),
			"sig": sig,
		}
	}
	return cbor.Marshal(obj)
}

func (m *MockAuthenticator) sign(authData, clientDataJSON []byte) ([]byte, error) {
	digest := sha256.Sum256(signedPayload(authData, clientDataJSON))
	return ecdsa.SignASN1(rand.Reader, m.privateKey, digest[:])
}
