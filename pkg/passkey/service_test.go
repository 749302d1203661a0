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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin   = "https://example.com"
	testUserName = "alice@example.com"
)

func newTestService(t *testing.T, opts ...func(*ServiceParams)) *Service {
	t.Helper()

	params := ServiceParams{
		Config: &Config{
			RPID:          testRPID,
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{testOrigin},
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&params)
	}

	svc, err := NewService(params)
	require.NoError(t, err)
	return svc
}

// registerCredential walks a complete registration ceremony with the mock
// authenticator and returns the stored credential.
func registerCredential(t *testing.T, svc *Service, mock *MockAuthenticator, userName string) *Credential {
	t.Helper()
	ctx := context.Background()

	opts, err := svc.BeginRegistration(ctx, userName, "")
	require.NoError(t, err)
	require.Len(t, []byte(opts.Challenge), ChallengeLength)

	body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)

	cred, err := svc.FinishRegistration(ctx, userName, bytes.NewReader(body))
	require.NoError(t, err)
	return cred
}

// corruptAttestationSignature flips a byte of the packed attestation signature
// inside a registration response body, leaving everything else intact.
func corruptAttestationSignature(t *testing.T, body []byte) []byte {
	t.Helper()

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &resp))
	var inner map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp["response"], &inner))

	var attB64 string
	require.NoError(t, json.Unmarshal(inner["attestationObject"], &attB64))
	raw, err := base64.RawURLEncoding.DecodeString(attB64)
	require.NoError(t, err)

	var obj struct {
		Format   string         `cbor:"fmt"`
		AttStmt  map[string]any `cbor:"attStmt"`
		AuthData []byte         `cbor:"authData"`
	}
	require.NoError(t, cbor.Unmarshal(raw, &obj))

	sig, ok := obj.AttStmt["sig"].([]byte)
	require.True(t, ok, "attestation statement carries no signature")
	sig[len(sig)-1] ^= 0xff

	raw, err = cbor.Marshal(map[string]any{
		"fmt":      obj.Format,
		"attStmt":  obj.AttStmt,
		"authData": obj.AuthData,
	})
	require.NoError(t, err)

	encoded, err := json.Marshal(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	inner["attestationObject"] = encoded

	innerRaw, err := json.Marshal(inner)
	require.NoError(t, err)
	resp["response"] = innerRaw

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return out
}

func TestNewService(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewService(ServiceParams{})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewService(ServiceParams{Config: &Config{}})
		assert.Error(t, err)
	})

	t.Run("defaults to memory stores", func(t *testing.T) {
		svc := newTestService(t)
		assert.IsType(t, &MemoryUserStore{}, svc.users)
		assert.IsType(t, &MemoryChallengeStore{}, svc.challenges)
		assert.IsType(t, &MemoryCredentialStore{}, svc.credentials)
	})
}

func TestRegistrationCeremony(t *testing.T) {
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID, WithSignCount(10))
	require.NoError(t, err)

	cred := registerCredential(t, svc, mock, testUserName)

	assert.Equal(t, mock.CredentialID, cred.ID)
	assert.Equal(t, AlgES256, cred.Algorithm)
	assert.Equal(t, AttestationFormatNone, cred.AttestationType)
	assert.Equal(t, uint32(10), cred.SignCount)
	assert.Equal(t, mock.AAGUID, cred.AAGUID)
	assert.True(t, cred.Flags.UserPresent)
	assert.True(t, svc.IsRegistered(context.Background(), testUserName))
}

func TestBeginRegistration_ExcludesExistingCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	cred := registerCredential(t, svc, mock, testUserName)

	opts, err := svc.BeginRegistration(ctx, testUserName, "")
	require.NoError(t, err)
	require.Len(t, opts.ExcludeCredentials, 1)
	assert.Equal(t, []byte(cred.ID), []byte(opts.ExcludeCredentials[0].ID))
}

func TestRegistration_ExcludeExistingDisabled(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID, WithSignCount(3))
	require.NoError(t, err)

	first := registerCredential(t, svc, mock, testUserName)

	opts, err := svc.BeginRegistration(ctx, testUserName, "", WithExcludeExisting(false))
	require.NoError(t, err)
	assert.Empty(t, opts.ExcludeCredentials)

	// Finishing with the credential ID the user already owns replaces the
	// stored record instead of failing.
	mock.SignCount = 7
	body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)

	replaced, err := svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, first.ID, replaced.ID)
	assert.Equal(t, uint32(7), replaced.SignCount)

	creds, err := svc.credentials.GetByUserHandle(ctx, replaced.UserHandle)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint32(7), creds[0].SignCount)

	// Another account still cannot claim the credential, flag or no flag.
	opts, err = svc.BeginRegistration(ctx, "bob@example.com", "Bob", WithExcludeExisting(false))
	require.NoError(t, err)
	body, err = mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "bob@example.com", bytes.NewReader(body))
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestFinishRegistration_Rejections(t *testing.T) {
	ctx := context.Background()

	beginFor := func(t *testing.T, svc *Service) *CreationOptions {
		t.Helper()
		opts, err := svc.BeginRegistration(ctx, testUserName, "Alice")
		require.NoError(t, err)
		return opts
	}

	t.Run("untrusted origin", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		opts := beginFor(t, svc)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, "https://evil.example")
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrOriginUntrusted)
	})

	t.Run("challenge replay", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		opts := beginFor(t, svc)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		require.NoError(t, err)

		// Same response again: the challenge is spent. Duplicate credential
		// detection never enters the picture because the challenge gate
		// rejects first.
		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrChallengeExpiredOrConsumed)
	})

	t.Run("wrong RPID", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator("other.example")
		require.NoError(t, err)
		opts := beginFor(t, svc)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrRPIDMismatch)
	})

	t.Run("user not present", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID, WithUserPresent(false))
		require.NoError(t, err)
		opts := beginFor(t, svc)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrUserPresenceMissing)
	})

	t.Run("user verification required", func(t *testing.T) {
		svc := newTestService(t, func(p *ServiceParams) {
			p.Config.UserVerification = VerificationRequired
		})
		mock, err := NewMockAuthenticator(testRPID, WithUserVerified(false))
		require.NoError(t, err)
		opts := beginFor(t, svc)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrUserVerificationRequired)
	})

	t.Run("duplicate credential ID", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, mock, testUserName)

		// The same authenticator registered under a different account.
		opts, err := svc.BeginRegistration(ctx, "bob@example.com", "Bob")
		require.NoError(t, err)
		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, "bob@example.com", bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrDuplicateCredential)
	})

	t.Run("duplicate check precedes attestation verification", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, mock, testUserName)

		// Another account presents the same credential ID with a packed
		// attestation whose signature does not verify. The collision must
		// surface, not the broken signature.
		imposter, err := NewMockAuthenticator(testRPID,
			WithCredentialID(mock.CredentialID),
			WithAttestationFormat(AttestationFormatPacked))
		require.NoError(t, err)

		opts, err := svc.BeginRegistration(ctx, "bob@example.com", "Bob")
		require.NoError(t, err)
		body, err := imposter.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, "bob@example.com", bytes.NewReader(corruptAttestationSignature(t, body)))
		assert.ErrorIs(t, err, ErrDuplicateCredential)
		assert.NotErrorIs(t, err, ErrAttestationInvalid)
	})

	t.Run("re-registration of own credential", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, mock, testUserName)

		opts := beginFor(t, svc)
		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishRegistration(ctx, testUserName, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrDuplicateCredential)
	})

	t.Run("challenge bound to another user", func(t *testing.T) {
		svc := newTestService(t)
		mock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		opts := beginFor(t, svc)

		_, err = svc.BeginRegistration(ctx, "bob@example.com", "Bob")
		require.NoError(t, err)

		// Bob finishes with Alice's challenge.
		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)
		_, err = svc.FinishRegistration(ctx, "bob@example.com", bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrChallengeExpiredOrConsumed)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := newTestService(t)
		beginFor(t, svc)

		_, err := svc.FinishRegistration(ctx, testUserName, strings.NewReader("not json"))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.FinishRegistration(ctx, "nobody@example.com", strings.NewReader("{}"))
		assert.True(t, IsUserNotFound(err))
	})
}

func TestAuthenticationCeremony(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID, WithSignCount(10))
	require.NoError(t, err)

	registerCredential(t, svc, mock, testUserName)

	opts, err := svc.BeginAuthentication(ctx, testUserName)
	require.NoError(t, err)
	require.Len(t, opts.AllowCredentials, 1)
	assert.Equal(t, testRPID, opts.RPID)

	body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
	require.NoError(t, err)

	result, err := svc.FinishAuthentication(ctx, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, testUserName, result.User.Name())
	assert.Equal(t, uint32(11), result.Credential.SignCount)
	assert.Equal(t,
		base64.RawURLEncoding.EncodeToString(result.User.Handle()),
		result.Token)
}

func TestAuthenticationCeremony_Discoverable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	cred := registerCredential(t, svc, mock, testUserName)

	// Empty user name: no allow list, the authenticator reports the owner.
	opts, err := svc.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, opts.AllowCredentials)

	body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, cred.UserHandle)
	require.NoError(t, err)

	result, err := svc.FinishAuthentication(ctx, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, testUserName, result.User.Name())
}

func TestBeginAuthentication_NoCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.users.Create(ctx, testUserName, "Alice")
	require.NoError(t, err)

	_, err = svc.BeginAuthentication(ctx, testUserName)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestFinishAuthentication_Rejections(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, opts ...func(*ServiceParams)) (*Service, *MockAuthenticator) {
		t.Helper()
		svc := newTestService(t, opts...)
		mock, err := NewMockAuthenticator(testRPID, WithSignCount(10))
		require.NoError(t, err)
		registerCredential(t, svc, mock, testUserName)
		return svc, mock
	}

	begin := func(t *testing.T, svc *Service, userName string) *RequestOptions {
		t.Helper()
		opts, err := svc.BeginAuthentication(ctx, userName)
		require.NoError(t, err)
		return opts
	}

	t.Run("unknown credential fails fast", func(t *testing.T) {
		svc, _ := setup(t)
		opts := begin(t, svc, testUserName)

		stranger, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		body, err := stranger.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.True(t, IsUnknownCredential(err))

		// The attempt consumed the challenge: retrying with the right
		// authenticator is too late.
		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrChallengeExpiredOrConsumed)
	})

	t.Run("assertion replay", func(t *testing.T) {
		svc, mock := setup(t)
		opts := begin(t, svc, testUserName)

		body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrChallengeExpiredOrConsumed)
	})

	t.Run("untrusted origin", func(t *testing.T) {
		svc, mock := setup(t)
		opts := begin(t, svc, testUserName)

		body, err := mock.CreateAssertionResponse(opts.Challenge, "https://evil.example", nil)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrOriginUntrusted)
	})

	t.Run("credential of another user", func(t *testing.T) {
		svc, _ := setup(t)

		bobMock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		registerCredential(t, svc, bobMock, "bob@example.com")

		// Challenge bound to Alice, answered with Bob's credential.
		opts := begin(t, svc, testUserName)
		body, err := bobMock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrCredentialOwnerMismatch)
	})

	t.Run("user handle mismatch", func(t *testing.T) {
		svc, mock := setup(t)
		opts := begin(t, svc, "")

		body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, []byte("someone-else"))
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrCredentialOwnerMismatch)
	})

	t.Run("clone warning", func(t *testing.T) {
		sink := &recordingAuditSink{}
		svc, mock := setup(t, func(p *ServiceParams) { p.Audit = sink })

		opts := begin(t, svc, testUserName)
		mock.SignCount = 2 // below the stored counter of 10
		body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.True(t, IsCloneWarning(err))

		require.Len(t, sink.events, 1)
		assert.Equal(t, mock.CredentialID, sink.events[0].CredentialID)
		assert.Equal(t, uint32(10), sink.events[0].StoredCount)
		assert.Equal(t, uint32(3), sink.events[0].ReportedCount)
	})

	t.Run("tampered signature", func(t *testing.T) {
		svc, mock := setup(t)
		opts := begin(t, svc, testUserName)

		body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
		require.NoError(t, err)
		tampered := bytes.Replace(body, []byte(`"origin":"https://example.com"`),
			[]byte(`"origin":"https://example.com/"`), 1)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(tampered))
		assert.True(t, IsVerificationFailure(err))
	})

	t.Run("registration response rejected as assertion", func(t *testing.T) {
		svc, mock := setup(t)
		opts := begin(t, svc, testUserName)

		body, err := mock.CreateRegistrationResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)

		_, err = svc.FinishAuthentication(ctx, bytes.NewReader(body))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})
}

type recordingAuditSink struct {
	events []CloneWarningEvent
}

func (s *recordingAuditSink) ReportCloneWarning(ctx context.Context, event CloneWarningEvent) {
	s.events = append(s.events, event)
}

func TestServiceManagement(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	other, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	cred := registerCredential(t, svc, mock, testUserName)
	registerCredential(t, svc, other, testUserName)

	t.Run("ListCredentials", func(t *testing.T) {
		creds, err := svc.ListCredentials(ctx, testUserName)
		require.NoError(t, err)
		assert.Len(t, creds, 2)
	})

	t.Run("DeleteCredential wrong owner", func(t *testing.T) {
		bobMock, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		bobCred := registerCredential(t, svc, bobMock, "bob@example.com")

		err = svc.DeleteCredential(ctx, testUserName, bobCred.ID)
		assert.ErrorIs(t, err, ErrCredentialOwnerMismatch)
	})

	t.Run("DeleteCredential", func(t *testing.T) {
		require.NoError(t, svc.DeleteCredential(ctx, testUserName, cred.ID))

		creds, err := svc.ListCredentials(ctx, testUserName)
		require.NoError(t, err)
		assert.Len(t, creds, 1)
	})

	t.Run("DeleteUser", func(t *testing.T) {
		require.NoError(t, svc.DeleteUser(ctx, testUserName))
		assert.False(t, svc.IsRegistered(ctx, testUserName))

		_, err := svc.ListCredentials(ctx, testUserName)
		assert.True(t, IsUserNotFound(err))
	})
}

func TestAuthenticationWithJWTGenerator(t *testing.T) {
	ctx := context.Background()

	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	generator, err := NewJWTGenerator(&JWTGeneratorConfig{
		PrivateKey: signingKey,
		Issuer:     "example.com",
	})
	require.NoError(t, err)

	svc := newTestService(t, func(p *ServiceParams) { p.Tokens = generator })
	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, mock, testUserName)

	opts, err := svc.BeginAuthentication(ctx, testUserName)
	require.NoError(t, err)
	body, err := mock.CreateAssertionResponse(opts.Challenge, testOrigin, nil)
	require.NoError(t, err)

	result, err := svc.FinishAuthentication(ctx, bytes.NewReader(body))
	require.NoError(t, err)

	token, err := jwt.Parse(result.Token, func(token *jwt.Token) (any, error) {
		return &signingKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "example.com", claims["iss"])
	assert.Equal(t, testUserName, claims["name"])
}
