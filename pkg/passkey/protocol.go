// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"encoding/base64"
	"encoding/json"
	"io"
)

// clientData type flags. The authenticator binds each signature to one of
// these, preventing a registration response from replaying as an assertion.
const (
	clientDataTypeCreate = "webauthn.create"
	clientDataTypeGet    = "webauthn.get"
)

// PublicKeyCredentialType is the only credential type WebAuthn defines.
const PublicKeyCredentialType = "public-key"

// URLEncodedBase64 marshals byte strings as unpadded base64url, the encoding
// WebAuthn uses for every binary field on the wire.
type URLEncodedBase64 []byte

// MarshalJSON encodes the bytes as a base64url JSON string.
func (e URLEncodedBase64) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.RawURLEncoding.EncodeToString(e))
}

// UnmarshalJSON decodes a base64url JSON string, tolerating padded input.
func (e *URLEncodedBase64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := base64.RawURLEncoding.DecodeString(trimBase64Padding(s))
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func trimBase64Padding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

// RelyingPartyEntity is the rp member of creation options.
type RelyingPartyEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserEntity is the user member of creation options.
type UserEntity struct {
	ID          URLEncodedBase64 `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
}

// CredentialParameter pairs the credential type with an acceptable algorithm.
type CredentialParameter struct {
	Type string        `json:"type"`
	Alg  COSEAlgorithm `json:"alg"`
}

// CredentialDescriptor refers to an existing credential in allow and exclude
// lists.
type CredentialDescriptor struct {
	Type       string                   `json:"type"`
	ID         URLEncodedBase64         `json:"id"`
	Transports []AuthenticatorTransport `json:"transports,omitempty"`
}

// AuthenticatorSelection narrows which authenticators may respond to a
// creation request.
type AuthenticatorSelection struct {
	ResidentKey      ResidentKeyRequirement      `json:"residentKey,omitempty"`
	UserVerification UserVerificationRequirement `json:"userVerification,omitempty"`
}

// CreationOptions is the publicKey dictionary returned by BeginRegistration,
// consumed by navigator.credentials.create().
type CreationOptions struct {
	RP                     RelyingPartyEntity     `json:"rp"`
	User                   UserEntity             `json:"user"`
	Challenge              URLEncodedBase64       `json:"challenge"`
	PubKeyCredParams       []CredentialParameter  `json:"pubKeyCredParams"`
	Timeout                int64                  `json:"timeout,omitempty"`
	ExcludeCredentials     []CredentialDescriptor `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection,omitempty"`
	Attestation            string                 `json:"attestation,omitempty"`
}

// RequestOptions is the publicKey dictionary returned by BeginAuthentication,
// consumed by navigator.credentials.get().
type RequestOptions struct {
	Challenge        URLEncodedBase64            `json:"challenge"`
	Timeout          int64                       `json:"timeout,omitempty"`
	RPID             string                      `json:"rpId,omitempty"`
	AllowCredentials []CredentialDescriptor      `json:"allowCredentials,omitempty"`
	UserVerification UserVerificationRequirement `json:"userVerification,omitempty"`
}

// CollectedClientData is the client's contextual binding, reconstructed from
// the clientDataJSON a browser attaches to every response.
type CollectedClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin,omitempty"`
}

// ChallengeBytes decodes the embedded base64url challenge value.
func (c *CollectedClientData) ChallengeBytes() ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(trimBase64Padding(c.Challenge))
	if err != nil {
		return nil, WrapError("decode clientData challenge", ErrMalformedMessage)
	}
	return decoded, nil
}

// RegistrationResponse is the credential returned by
// navigator.credentials.create(), as posted back to the relying party.
type RegistrationResponse struct {
	ID    string           `json:"id"`
	RawID URLEncodedBase64 `json:"rawId"`
	Type  string           `json:"type"`

	Response struct {
		ClientDataJSON    URLEncodedBase64 `json:"clientDataJSON"`
		AttestationObject URLEncodedBase64 `json:"attestationObject"`
		Transports        []string         `json:"transports,omitempty"`
	} `json:"response"`
}

// AssertionResponse is the credential returned by
// navigator.credentials.get(), as posted back to the relying party.
type AssertionResponse struct {
	ID    string           `json:"id"`
	RawID URLEncodedBase64 `json:"rawId"`
	Type  string           `json:"type"`

	Response struct {
		ClientDataJSON    URLEncodedBase64 `json:"clientDataJSON"`
		AuthenticatorData URLEncodedBase64 `json:"authenticatorData"`
		Signature         URLEncodedBase64 `json:"signature"`
		UserHandle        URLEncodedBase64 `json:"userHandle,omitempty"`
	} `json:"response"`
}

// ParseRegistrationResponse decodes a registration result from its JSON body.
func ParseRegistrationResponse(r io.Reader) (*RegistrationResponse, error) {
	var resp RegistrationResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, WrapError("parse registration response", ErrMalformedMessage)
	}
	if err := validateCredentialEnvelope(resp.Type, resp.RawID, resp.Response.ClientDataJSON); err != nil {
		return nil, err
	}
	if len(resp.Response.AttestationObject) == 0 {
		return nil, WrapError("parse registration response", ErrMalformedMessage)
	}
	return &resp, nil
}

// ParseAssertionResponse decodes an authentication result from its JSON body.
func ParseAssertionResponse(r io.Reader) (*AssertionResponse, error) {
	var resp AssertionResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, WrapError("parse assertion response", ErrMalformedMessage)
	}
	if err := validateCredentialEnvelope(resp.Type, resp.RawID, resp.Response.ClientDataJSON); err != nil {
		return nil, err
	}
	if len(resp.Response.AuthenticatorData) == 0 || len(resp.Response.Signature) == 0 {
		return nil, WrapError("parse assertion response", ErrMalformedMessage)
	}
	return &resp, nil
}

func validateCredentialEnvelope(credType string, rawID, clientDataJSON []byte) error {
	if credType != PublicKeyCredentialType {
		return WrapError("credential type", ErrMalformedMessage)
	}
	if len(rawID) == 0 || len(clientDataJSON) == 0 {
		return WrapError("credential envelope", ErrMalformedMessage)
	}
	return nil
}

func parseClientData(clientDataJSON []byte) (*CollectedClientData, error) {
	var c CollectedClientData
	if err := json.Unmarshal(clientDataJSON, &c); err != nil {
		return nil, WrapError("parse clientData", ErrMalformedMessage)
	}
	return &c, nil
}

func parseTransports(raw []string) []AuthenticatorTransport {
	var transports []AuthenticatorTransport
	for _, t := range raw {
		switch AuthenticatorTransport(t) {
		case TransportUSB, TransportNFC, TransportBLE, TransportInternal, TransportHybrid:
			transports = append(transports, AuthenticatorTransport(t))
		}
	}
	return transports
}
