// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package http

import "github.com/passkeyhq/go-passkey/pkg/passkey"

// HeaderUserName carries the login name on finish-registration requests,
// whose body is the raw credential JSON produced by the browser.
const HeaderUserName = "X-User-Name"

// BeginRegistrationRequest is the request body for starting registration.
type BeginRegistrationRequest struct {
	// UserName is the login identifier (required).
	UserName string `json:"user_name"`

	// DisplayName is the human-friendly name (optional, defaults to UserName).
	DisplayName string `json:"display_name,omitempty"`

	// ExcludeExisting lists the user's current credentials in the creation
	// options and rejects re-registering one of them. Defaults to true; set
	// false to let the user refresh an authenticator they already own.
	ExcludeExisting *bool `json:"exclude_existing,omitempty"`
}

// BeginLoginRequest is the request body for starting authentication.
type BeginLoginRequest struct {
	// UserName is the login identifier. Empty (or an empty body) selects the
	// discoverable credentials flow.
	UserName string `json:"user_name,omitempty"`
}

// CreationResponse wraps creation options the way browsers expect them:
// the argument object for navigator.credentials.create().
type CreationResponse struct {
	PublicKey *passkey.CreationOptions `json:"publicKey"`
}

// RequestResponse wraps request options for navigator.credentials.get().
type RequestResponse struct {
	PublicKey *passkey.RequestOptions `json:"publicKey"`
}

// RegistrationStatusResponse reports whether a user owns credentials.
type RegistrationStatusResponse struct {
	Registered bool `json:"registered"`
}

// CredentialSummary is the management view of a stored credential. Key
// material stays server-side.
type CredentialSummary struct {
	ID              string   `json:"id"`
	AttestationType string   `json:"attestation_type"`
	Algorithm       string   `json:"algorithm"`
	Transports      []string `json:"transports,omitempty"`
	SignCount       uint32   `json:"sign_count"`
	CreatedAt       string   `json:"created_at"`
	LastUsedAt      string   `json:"last_used_at,omitempty"`
}

// RegisteredResponse is returned after a successful registration.
type RegisteredResponse struct {
	// CredentialID is the base64url credential identifier.
	CredentialID string `json:"credential_id"`

	// UserID is the base64url user handle.
	UserID string `json:"user_id"`
}

// AuthResponse is returned after a successful authentication.
type AuthResponse struct {
	// Token is the session bootstrap token (JWT or base64 user handle).
	Token string `json:"token"`

	// UserID is the base64url user handle.
	UserID string `json:"user_id"`

	// UserName is the login identifier of the authenticated user.
	UserName string `json:"user_name"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeChallengeExpired   = "challenge_expired"
	ErrorCodeUserNotFound       = "user_not_found"
	ErrorCodeNoCredentials      = "no_credentials"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeDuplicate          = "duplicate_credential"
	ErrorCodeCloneWarning       = "clone_warning"
	ErrorCodeOwnerMismatch      = "owner_mismatch"
	ErrorCodeInternalError      = "internal_error"
)
