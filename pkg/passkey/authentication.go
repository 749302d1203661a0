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
	"encoding/base64"
	"io"
)

// AuthenticationResult is the outcome of a completed assertion ceremony.
type AuthenticationResult struct {
	// User is the authenticated account.
	User User

	// Credential is the credential that produced the assertion, with its
	// counter already advanced.
	Credential *Credential

	// Token is the session bootstrap token minted after verification. When
	// no TokenGenerator is configured it is the base64url user handle.
	Token string
}

// BeginAuthentication starts an assertion ceremony. With a user name the
// options carry that user's credentials in allowCredentials and the challenge
// is bound to their handle. With an empty name a discoverable (usernameless)
// ceremony is started: allowCredentials stays empty and the authenticator
// picks a resident credential.
func (s *Service) BeginAuthentication(ctx context.Context, userName string) (*RequestOptions, error) {
	var boundHandle []byte
	var allow []CredentialDescriptor

	if userName != "" {
		user, err := s.users.GetByName(ctx, userName)
		if err != nil {
			return nil, NewError("begin authentication", err)
		}
		creds, err := s.credentials.GetByUserHandle(ctx, user.Handle())
		if err != nil {
			return nil, NewError("begin authentication", err)
		}
		if len(creds) == 0 {
			return nil, NewError("begin authentication", ErrNoCredentials)
		}
		for _, cred := range creds {
			allow = append(allow, cred.Descriptor())
		}
		boundHandle = user.Handle()
	}

	challenge, err := s.challenges.Issue(ctx, ChallengeParams{
		Kind:             CeremonyAuthentication,
		BoundHandle:      boundHandle,
		UserVerification: s.config.UserVerification,
		TTL:              s.config.ChallengeTTL,
	})
	if err != nil {
		return nil, NewError("begin authentication", err)
	}

	opts := &RequestOptions{
		Challenge:        challenge.Value,
		Timeout:          s.config.Timeout.Milliseconds(),
		RPID:             s.config.RPID,
		AllowCredentials: allow,
		UserVerification: s.config.UserVerification,
	}

	s.logger.Debug("authentication ceremony started",
		"discoverable", userName == "",
		"allow_credentials", len(allow))
	s.metrics.CeremonyStarted(CeremonyAuthentication)
	return opts, nil
}

// FinishAuthentication completes an assertion ceremony from the credential
// the client posted back. The credential is looked up before any
// cryptographic work so a response referencing an unregistered credential
// fails fast without consuming verifier resources; the challenge is still
// consumed, so the attempt cannot be retried.
func (s *Service) FinishAuthentication(ctx context.Context, body io.Reader) (*AuthenticationResult, error) {
	const op = "finish authentication"

	resp, err := ParseAssertionResponse(body)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}

	clientData, err := parseClientData(resp.Response.ClientDataJSON)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}
	if clientData.Type != clientDataTypeGet {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication,
			WrapError("clientData type "+clientData.Type, ErrMalformedMessage))
	}
	challengeBytes, err := clientData.ChallengeBytes()
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}

	challenge, err := s.challenges.Consume(ctx, challengeBytes, nil)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}
	if challenge.Kind != CeremonyAuthentication {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrChallengeExpiredOrConsumed)
	}

	cred, err := s.credentials.GetByCredentialID(ctx, resp.RawID)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}

	// Bound ceremony: the asserted credential must belong to the user the
	// challenge was issued for.
	if challenge.BoundHandle != nil && !bytes.Equal(challenge.BoundHandle, cred.UserHandle) {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrCredentialOwnerMismatch)
	}
	// Discoverable ceremony: the authenticator reports the owner handle and
	// it must match the stored owner.
	if len(resp.Response.UserHandle) > 0 && !bytes.Equal(resp.Response.UserHandle, cred.UserHandle) {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrCredentialOwnerMismatch)
	}

	if !s.config.OriginTrusted(clientData.Origin) {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication,
			WrapError("origin "+clientData.Origin, ErrOriginUntrusted))
	}

	authData, err := ParseAuthenticatorData(resp.Response.AuthenticatorData)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}
	if !authData.MatchesRPID(s.config.RPID) {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrRPIDMismatch)
	}
	if !authData.UserPresent() {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrUserPresenceMissing)
	}
	if s.requiresUserVerification(challenge.UserVerification) && !authData.UserVerified() {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, ErrUserVerificationRequired)
	}

	pub, err := DecodePublicKey(cred.PublicKey)
	if err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}
	if err := VerifySignature(pub, resp.Response.AuthenticatorData,
		resp.Response.ClientDataJSON, resp.Response.Signature); err != nil {
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}

	if err := s.credentials.UpdateSignCounter(ctx, cred.ID, authData.SignCount); err != nil {
		if IsCloneWarning(err) {
			s.audit.ReportCloneWarning(ctx, CloneWarningEvent{
				CredentialID:  cred.ID,
				UserHandle:    cred.UserHandle,
				StoredCount:   cred.SignCount,
				ReportedCount: authData.SignCount,
			})
			s.metrics.CloneWarning()
		}
		return nil, s.ceremonyFailed(op, CeremonyAuthentication, err)
	}
	if authData.SignCount > 0 {
		cred.SignCount = authData.SignCount
	}

	user, err := s.users.GetByHandle(ctx, cred.UserHandle)
	if err != nil {
		return nil, NewError(op, err)
	}

	token, err := s.mintToken(ctx, user)
	if err != nil {
		return nil, NewError(op, err)
	}

	s.logger.Info("authentication verified",
		"user", user.Name(),
		"credential_id", cred.KeyID(),
		"sign_count", authData.SignCount)
	s.metrics.CeremonyCompleted(CeremonyAuthentication)
	return &AuthenticationResult{
		User:       user,
		Credential: cred,
		Token:      token,
	}, nil
}

func (s *Service) mintToken(ctx context.Context, user User) (string, error) {
	if s.tokens == nil {
		return base64.RawURLEncoding.EncodeToString(user.Handle()), nil
	}
	return s.tokens.GenerateToken(ctx, user)
}
