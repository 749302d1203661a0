// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"time"
)

// RegistrationOption customizes BeginRegistration.
type RegistrationOption func(*registrationOptions)

type registrationOptions struct {
	excludeExisting bool
}

// WithExcludeExisting controls whether the creation options exclude the
// user's existing credentials and whether re-registering one of them is
// rejected as a duplicate at finish. Defaults to true; with false, finishing
// with a credential ID the same user already owns replaces the stored
// credential instead.
func WithExcludeExisting(exclude bool) RegistrationOption {
	return func(o *registrationOptions) { o.excludeExisting = exclude }
}

// BeginRegistration starts a registration ceremony for the named user,
// creating the user record when it does not exist yet. The returned options
// carry a fresh single-use challenge bound to the user's handle, and by
// default exclude every credential the user already registered.
func (s *Service) BeginRegistration(ctx context.Context, userName, displayName string, options ...RegistrationOption) (*CreationOptions, error) {
	regOpts := registrationOptions{excludeExisting: true}
	for _, opt := range options {
		opt(&regOpts)
	}

	user, err := s.users.GetByName(ctx, userName)
	if IsUserNotFound(err) {
		user, err = s.users.Create(ctx, userName, displayName)
	}
	if err != nil {
		return nil, NewError("begin registration", err)
	}

	var exclude []CredentialDescriptor
	if regOpts.excludeExisting {
		existing, err := s.credentials.GetByUserHandle(ctx, user.Handle())
		if err != nil {
			return nil, NewError("begin registration", err)
		}
		for _, cred := range existing {
			exclude = append(exclude, cred.Descriptor())
		}
	}

	challenge, err := s.challenges.Issue(ctx, ChallengeParams{
		Kind:             CeremonyRegistration,
		BoundHandle:      user.Handle(),
		UserVerification: s.config.UserVerification,
		ExcludeExisting:  regOpts.excludeExisting,
		TTL:              s.config.ChallengeTTL,
	})
	if err != nil {
		return nil, NewError("begin registration", err)
	}

	opts := &CreationOptions{
		RP: RelyingPartyEntity{
			ID:   s.config.RPID,
			Name: s.config.RPDisplayName,
		},
		User: UserEntity{
			ID:          user.Handle(),
			Name:        user.Name(),
			DisplayName: user.DisplayName(),
		},
		Challenge:          challenge.Value,
		PubKeyCredParams:   DefaultCredentialParameters(),
		Timeout:            s.config.Timeout.Milliseconds(),
		ExcludeCredentials: exclude,
		AuthenticatorSelection: AuthenticatorSelection{
			ResidentKey:      s.config.ResidentKey,
			UserVerification: s.config.UserVerification,
		},
		Attestation: AttestationFormatNone,
	}

	s.logger.Debug("registration ceremony started",
		"user", user.Name(),
		"exclude_credentials", len(exclude))
	s.metrics.CeremonyStarted(CeremonyRegistration)
	return opts, nil
}

// FinishRegistration completes a registration ceremony from the credential
// the client posted back. On success the new credential is persisted and
// returned.
func (s *Service) FinishRegistration(ctx context.Context, userName string, body io.Reader) (*Credential, error) {
	const op = "finish registration"

	user, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return nil, NewError(op, err)
	}

	resp, err := ParseRegistrationResponse(body)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}

	clientData, err := parseClientData(resp.Response.ClientDataJSON)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}
	if clientData.Type != clientDataTypeCreate {
		return nil, s.ceremonyFailed(op, CeremonyRegistration,
			WrapError("clientData type "+clientData.Type, ErrMalformedMessage))
	}

	challengeBytes, err := clientData.ChallengeBytes()
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}
	challenge, err := s.challenges.Consume(ctx, challengeBytes, user.Handle())
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}
	if challenge.Kind != CeremonyRegistration {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, ErrChallengeExpiredOrConsumed)
	}

	if !s.config.OriginTrusted(clientData.Origin) {
		return nil, s.ceremonyFailed(op, CeremonyRegistration,
			WrapError("origin "+clientData.Origin, ErrOriginUntrusted))
	}

	attObj, err := ParseAttestationObject(resp.Response.AttestationObject)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}
	authData := attObj.AuthenticatorData()

	if !authData.MatchesRPID(s.config.RPID) {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, ErrRPIDMismatch)
	}
	if !authData.UserPresent() {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, ErrUserPresenceMissing)
	}
	if s.requiresUserVerification(challenge.UserVerification) && !authData.UserVerified() {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, ErrUserVerificationRequired)
	}

	attested := authData.AttestedCredential
	if subtle.ConstantTimeCompare(resp.RawID, attested.CredentialID) != 1 {
		return nil, s.ceremonyFailed(op, CeremonyRegistration,
			WrapError("credential ID mismatch", ErrMalformedMessage))
	}

	// Duplicate credential IDs are rejected before the attestation statement
	// is checked: a collision with another account fails regardless of
	// signature validity.
	var replacing bool
	existing, err := s.credentials.GetByCredentialID(ctx, attested.CredentialID)
	switch {
	case err == nil:
		if !bytes.Equal(existing.UserHandle, user.Handle()) || challenge.ExcludeExisting {
			return nil, s.ceremonyFailed(op, CeremonyRegistration, ErrDuplicateCredential)
		}
		replacing = true
	case !IsUnknownCredential(err):
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}

	attestationType, err := attObj.Verify(resp.Response.ClientDataJSON)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}

	now := time.Now()
	cred := &Credential{
		ID:              attested.CredentialID,
		UserHandle:      user.Handle(),
		PublicKey:       attested.PublicKey.Bytes(),
		Algorithm:       attested.PublicKey.Algorithm,
		AttestationType: attestationType,
		Transports:      parseTransports(resp.Response.Transports),
		AAGUID:          attested.AAGUID,
		SignCount:       authData.SignCount,
		Flags: CredentialFlags{
			UserPresent:    authData.UserPresent(),
			UserVerified:   authData.UserVerified(),
			BackupEligible: authData.BackupEligible(),
			BackupState:    authData.BackedUp(),
		},
		CreatedAt:  now,
		LastUsedAt: now,
	}

	// The user is re-registering an authenticator they already own: the new
	// credential material replaces the stored record.
	if replacing {
		if err := s.credentials.Delete(ctx, existing.ID); err != nil {
			return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
		}
	}
	if err := s.credentials.Save(ctx, cred); err != nil {
		return nil, s.ceremonyFailed(op, CeremonyRegistration, err)
	}

	s.logger.Info("credential registered",
		"user", user.Name(),
		"credential_id", cred.KeyID(),
		"algorithm", cred.Algorithm.String(),
		"attestation", attestationType)
	s.metrics.CeremonyCompleted(CeremonyRegistration)
	return cred, nil
}

func (s *Service) requiresUserVerification(req UserVerificationRequirement) bool {
	return req == VerificationRequired
}

func (s *Service) ceremonyFailed(op string, kind CeremonyKind, err error) error {
	s.logger.Warn("ceremony failed", "ceremony", string(kind), "op", op, "error", err)
	s.metrics.CeremonyFailed(kind, err)
	return NewError(op, err)
}
