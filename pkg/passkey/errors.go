// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony verification. Every verification step maps to
// exactly one of these so callers can present precise diagnostics internally
// while keeping public-facing messages generic.
var (
	// ErrChallengeExpiredOrConsumed is returned when the challenge embedded
	// in a ceremony result does not exist, has expired, was already consumed,
	// or is bound to a different user handle.
	ErrChallengeExpiredOrConsumed = errors.New("challenge expired or already consumed")

	// ErrOriginUntrusted is returned when the clientData origin is not an
	// origin the relying party trusts.
	ErrOriginUntrusted = errors.New("origin not trusted by relying party")

	// ErrRPIDMismatch is returned when the RP-ID hash in the authenticator
	// data does not match the relying party's configured ID.
	ErrRPIDMismatch = errors.New("relying party ID hash mismatch")

	// ErrUserPresenceMissing is returned when the authenticator did not set
	// the user-present flag.
	ErrUserPresenceMissing = errors.New("user present flag not set")

	// ErrUserVerificationRequired is returned when user verification was
	// required but the user-verified flag is not set.
	ErrUserVerificationRequired = errors.New("user verification required but not performed")

	// ErrUnknownCredential is returned when an assertion references a
	// credential ID that is not registered.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrCredentialOwnerMismatch is returned when a credential exists but is
	// owned by a different user than the ceremony was bound to.
	ErrCredentialOwnerMismatch = errors.New("credential owned by a different user")

	// ErrDuplicateCredential is returned when registering a credential ID
	// that already exists.
	ErrDuplicateCredential = errors.New("credential already registered")

	// ErrSignatureInvalid is returned when the assertion signature does not
	// verify against the stored public key.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrCloneWarning is returned when a counter-supporting authenticator
	// reports a non-increasing sign counter, indicating the private key may
	// have been cloned.
	ErrCloneWarning = errors.New("sign counter regression: possible cloned authenticator")

	// ErrMalformedMessage is returned when any part of a ceremony result
	// cannot be decoded.
	ErrMalformedMessage = errors.New("malformed ceremony message")

	// ErrEntropyUnavailable is returned when the random source cannot supply
	// challenge bytes.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")

	// ErrAttestationInvalid is returned when an attestation statement fails
	// its format's verification procedure.
	ErrAttestationInvalid = errors.New("attestation statement invalid")

	// ErrUserNotFound is returned when a user cannot be resolved.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when creating a user whose name is taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// Error wraps a sentinel with the operation that surfaced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsUnknownCredential returns true if the error indicates an unregistered credential.
func IsUnknownCredential(err error) bool {
	return errors.Is(err, ErrUnknownCredential)
}

// IsNoCredentials returns true if the error indicates a user with no credentials.
func IsNoCredentials(err error) bool {
	return errors.Is(err, ErrNoCredentials)
}

// IsChallengeExpiredOrConsumed returns true if the error indicates a dead challenge.
func IsChallengeExpiredOrConsumed(err error) bool {
	return errors.Is(err, ErrChallengeExpiredOrConsumed)
}

// IsCloneWarning returns true if the error indicates a sign counter regression.
func IsCloneWarning(err error) bool {
	return errors.Is(err, ErrCloneWarning)
}

// IsVerificationFailure returns true for any error kind that terminates a
// ceremony at a verification gate, as opposed to storage or configuration
// failures. The caller must restart the ceremony with a fresh challenge.
func IsVerificationFailure(err error) bool {
	for _, kind := range []error{
		ErrChallengeExpiredOrConsumed,
		ErrOriginUntrusted,
		ErrRPIDMismatch,
		ErrUserPresenceMissing,
		ErrUserVerificationRequired,
		ErrUnknownCredential,
		ErrCredentialOwnerMismatch,
		ErrDuplicateCredential,
		ErrSignatureInvalid,
		ErrCloneWarning,
		ErrMalformedMessage,
		ErrAttestationInvalid,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
