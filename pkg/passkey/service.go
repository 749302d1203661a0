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
	"log/slog"
)

// Service implements the registration and authentication ceremonies on top of
// pluggable stores. All methods are safe for concurrent use; the stores carry
// the synchronization.
type Service struct {
	config      *Config
	logger      *slog.Logger
	users       UserStore
	challenges  ChallengeStore
	credentials CredentialStore
	tokens      TokenGenerator
	audit       AuditSink
	metrics     *Metrics
}

// ServiceParams collects the dependencies for NewService. Only Config is
// mandatory; every other field falls back to an in-memory or no-op default
// suitable for development.
type ServiceParams struct {
	// Config is the relying party configuration. Required.
	Config *Config

	// Logger receives structured ceremony logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Users is the user directory. Defaults to an in-memory store.
	Users UserStore

	// Challenges is the challenge store. Defaults to an in-memory store.
	Challenges ChallengeStore

	// Credentials is the credential store. Defaults to an in-memory store.
	Credentials CredentialStore

	// Tokens mints session bootstrap tokens after authentication. Optional;
	// without it the service returns the base64url user handle.
	Tokens TokenGenerator

	// Audit receives clone warning events. Defaults to a logger-backed sink.
	Audit AuditSink

	// Metrics records ceremony counters. Optional.
	Metrics *Metrics
}

// NewService validates the configuration, applies defaults and assembles a
// ceremony service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, NewError("new service", ErrNotConfigured)
	}
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "passkey")

	svc := &Service{
		config:      params.Config,
		logger:      logger,
		users:       params.Users,
		challenges:  params.Challenges,
		credentials: params.Credentials,
		tokens:      params.Tokens,
		audit:       params.Audit,
		metrics:     params.Metrics,
	}
	if svc.users == nil {
		svc.users = NewMemoryUserStore()
	}
	if svc.challenges == nil {
		svc.challenges = NewMemoryChallengeStore()
	}
	if svc.credentials == nil {
		svc.credentials = NewMemoryCredentialStore()
	}
	if svc.audit == nil {
		svc.audit = NewLogAuditSink(logger)
	}

	return svc, nil
}

// Config returns the relying party configuration.
func (s *Service) Config() *Config {
	return s.config
}

// IsRegistered reports whether the named user exists and owns at least one
// credential.
func (s *Service) IsRegistered(ctx context.Context, userName string) bool {
	user, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return false
	}
	creds, err := s.credentials.GetByUserHandle(ctx, user.Handle())
	return err == nil && len(creds) > 0
}

// ListCredentials returns the credentials registered to the named user.
func (s *Service) ListCredentials(ctx context.Context, userName string) ([]*Credential, error) {
	user, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return nil, NewError("list credentials", err)
	}
	creds, err := s.credentials.GetByUserHandle(ctx, user.Handle())
	if err != nil {
		return nil, NewError("list credentials", err)
	}
	return creds, nil
}

// DeleteCredential removes one credential after verifying the named user owns
// it.
func (s *Service) DeleteCredential(ctx context.Context, userName string, credID []byte) error {
	const op = "delete credential"

	user, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return NewError(op, err)
	}
	cred, err := s.credentials.GetByCredentialID(ctx, credID)
	if err != nil {
		return NewError(op, err)
	}
	if !bytes.Equal(cred.UserHandle, user.Handle()) {
		return NewError(op, ErrCredentialOwnerMismatch)
	}
	if err := s.credentials.Delete(ctx, credID); err != nil {
		return NewError(op, err)
	}

	s.logger.Info("credential deleted", "user", userName, "credential_id", cred.KeyID())
	return nil
}

// DeleteUser removes the named user and every credential they own.
func (s *Service) DeleteUser(ctx context.Context, userName string) error {
	const op = "delete user"

	user, err := s.users.GetByName(ctx, userName)
	if err != nil {
		return NewError(op, err)
	}
	if err := s.credentials.DeleteByUserHandle(ctx, user.Handle()); err != nil {
		return NewError(op, err)
	}
	if err := s.users.Delete(ctx, user.Handle()); err != nil {
		return NewError(op, err)
	}

	s.logger.Info("user deleted", "user", userName)
	return nil
}
