// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"context"
)

// UserStore is the user directory contract the ceremonies depend on.
// Applications bring their own account storage behind this interface.
type UserStore interface {
	// GetByHandle retrieves a user by their opaque handle.
	// Returns ErrUserNotFound if the user does not exist.
	GetByHandle(ctx context.Context, handle []byte) (User, error)

	// GetByName retrieves a user by their login name.
	// Returns ErrUserNotFound if the user does not exist.
	GetByName(ctx context.Context, name string) (User, error)

	// Create creates a new user with a freshly allocated, never-reused handle.
	// Returns ErrUserAlreadyExists if the name is taken.
	Create(ctx context.Context, name, displayName string) (User, error)

	// Delete removes a user by handle.
	// Returns ErrUserNotFound if the user does not exist.
	Delete(ctx context.Context, handle []byte) error
}

// ChallengeStore issues and single-use-consumes ceremony challenges.
// Implementations own the challenge lifetime exclusively: nothing else may
// flip a challenge's consumed flag.
type ChallengeStore interface {
	// Issue generates a cryptographically random challenge, persists it keyed
	// by its own value, and returns it.
	// Returns ErrEntropyUnavailable if the random source cannot be read.
	Issue(ctx context.Context, params ChallengeParams) (*Challenge, error)

	// Consume atomically checks existence, non-expiry and non-consumption,
	// then marks the challenge consumed. Exactly one concurrent caller for a
	// given value succeeds; every failure mode surfaces
	// ErrChallengeExpiredOrConsumed. A successful consume is irreversible.
	//
	// When expectedHandle is non-nil and the challenge was bound at issue
	// time, the two handles must match or the challenge is spent and the
	// consume fails. A nil expectedHandle defers the identity check to the
	// caller, which must compare BoundHandle itself.
	Consume(ctx context.Context, value []byte, expectedHandle []byte) (*Challenge, error)
}

// CredentialStore is the durable store of registered credentials. It owns the
// credentialID -> Credential mapping and the ownerHandle -> credentialIDs
// secondary index.
type CredentialStore interface {
	// Save inserts a new credential.
	// Returns ErrDuplicateCredential if the credential ID already exists.
	Save(ctx context.Context, cred *Credential) error

	// GetByCredentialID retrieves a credential by its ID.
	// Returns ErrUnknownCredential if it does not exist.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// GetByUserHandle retrieves all credentials owned by a user.
	// Returns an empty slice if the user owns none.
	GetByUserHandle(ctx context.Context, handle []byte) ([]*Credential, error)

	// UpdateSignCounter advances the stored sign counter for a credential.
	// The check-and-set is atomic against concurrent callers for the same
	// credential ID. Returns ErrCloneWarning when newCount is non-zero and
	// does not exceed the stored counter; a zero newCount is accepted
	// without touching the stored value (counter-less authenticator).
	// Returns ErrUnknownCredential if the credential does not exist.
	UpdateSignCounter(ctx context.Context, credID []byte, newCount uint32) error

	// Delete removes a credential by its ID.
	// Returns ErrUnknownCredential if it does not exist.
	Delete(ctx context.Context, credID []byte) error

	// DeleteByUserHandle removes all credentials owned by a user.
	DeleteByUserHandle(ctx context.Context, handle []byte) error
}

// TokenGenerator optionally mints a session bootstrap token after a
// successful ceremony. If absent, the service returns the base64url-encoded
// user handle.
type TokenGenerator interface {
	// GenerateToken creates a token for the authenticated user.
	GenerateToken(ctx context.Context, user User) (string, error)
}

// CloneWarningEvent describes a detected sign counter regression.
type CloneWarningEvent struct {
	// CredentialID identifies the suspect credential.
	CredentialID []byte

	// UserHandle is the credential owner's handle.
	UserHandle []byte

	// StoredCount is the counter value on record.
	StoredCount uint32

	// ReportedCount is the non-increasing value the authenticator reported.
	ReportedCount uint32
}

// AuditSink receives security events worth follow-up action beyond the
// rejected ceremony. A clone warning may indicate key compromise.
type AuditSink interface {
	// ReportCloneWarning is invoked when an authentication is rejected due
	// to a sign counter regression.
	ReportCloneWarning(ctx context.Context, event CloneWarningEvent)
}
