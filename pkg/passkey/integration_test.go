// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

// Integration tests driving the ceremony engine with a virtual authenticator
// that produces real browser-shaped responses, rather than this package's own
// mock.

package passkey

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrationService(t *testing.T) (*Service, virtualwebauthn.RelyingParty) {
	t.Helper()

	config := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
	svc, err := NewService(ServiceParams{
		Config: config,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	rp := virtualwebauthn.RelyingParty{
		Name:   config.RPDisplayName,
		ID:     config.RPID,
		Origin: config.RPOrigins[0],
	}
	return svc, rp
}

func marshalOptions(t *testing.T, options any) string {
	t.Helper()
	data, err := json.Marshal(options)
	require.NoError(t, err)
	return string(data)
}

func TestIntegration_RegistrationFlow(t *testing.T) {
	ctx := context.Background()
	svc, rp := integrationService(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
	require.NoError(t, err)
	assert.Equal(t, "example.com", options.RP.ID)
	assert.Equal(t, "Test User", options.User.DisplayName)
	require.NotEmpty(t, options.Challenge)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(marshalOptions(t, options))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)

	cred, err := svc.FinishRegistration(ctx, "testuser@example.com", strings.NewReader(attestationResponse))
	require.NoError(t, err)
	assert.Equal(t, credential.ID, []byte(cred.ID))
	assert.True(t, svc.IsRegistered(ctx, "testuser@example.com"))
}

func TestIntegration_LoginFlow(t *testing.T) {
	ctx := context.Background()
	svc, rp := integrationService(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	regOptions, err := svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
	require.NoError(t, err)
	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(marshalOptions(t, regOptions))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)

	_, err = svc.FinishRegistration(ctx, "testuser@example.com", strings.NewReader(attestationResponse))
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	loginOptions, err := svc.BeginAuthentication(ctx, "testuser@example.com")
	require.NoError(t, err)
	require.Len(t, loginOptions.AllowCredentials, 1)

	parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(marshalOptions(t, loginOptions))
	require.NoError(t, err)
	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedLoginOptions)

	result, err := svc.FinishAuthentication(ctx, strings.NewReader(assertionResponse))
	require.NoError(t, err)
	assert.Equal(t, "testuser@example.com", result.User.Name())
	assert.NotEmpty(t, result.Token)
}

func TestIntegration_DiscoverableLogin(t *testing.T) {
	ctx := context.Background()
	svc, rp := integrationService(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	regOptions, err := svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
	require.NoError(t, err)
	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(marshalOptions(t, regOptions))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)
	cred, err := svc.FinishRegistration(ctx, "testuser@example.com", strings.NewReader(attestationResponse))
	require.NoError(t, err)

	// Usernameless: empty allow list, the authenticator reports the handle.
	loginOptions, err := svc.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, loginOptions.AllowCredentials)

	parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(marshalOptions(t, loginOptions))
	require.NoError(t, err)

	discoverableAuth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: cred.UserHandle,
	})
	discoverableAuth.AddCredential(credential)
	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, discoverableAuth, credential, *parsedLoginOptions)

	result, err := svc.FinishAuthentication(ctx, strings.NewReader(assertionResponse))
	require.NoError(t, err)
	assert.Equal(t, "testuser@example.com", result.User.Name())
}

func TestIntegration_MultipleAuthenticators(t *testing.T) {
	ctx := context.Background()
	svc, rp := integrationService(t)

	register := func(t *testing.T) (*virtualwebauthn.Authenticator, virtualwebauthn.Credential) {
		authenticator := virtualwebauthn.NewAuthenticator()
		credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

		options, err := svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
		require.NoError(t, err)
		parsed, err := virtualwebauthn.ParseAttestationOptions(marshalOptions(t, options))
		require.NoError(t, err)
		response := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsed)
		_, err = svc.FinishRegistration(ctx, "testuser@example.com", strings.NewReader(response))
		require.NoError(t, err)

		authenticator.AddCredential(credential)
		return &authenticator, credential
	}

	auth1, cred1 := register(t)
	_, _ = register(t)

	creds, err := svc.ListCredentials(ctx, "testuser@example.com")
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Either authenticator can log in.
	loginOptions, err := svc.BeginAuthentication(ctx, "testuser@example.com")
	require.NoError(t, err)
	require.Len(t, loginOptions.AllowCredentials, 2)

	parsed, err := virtualwebauthn.ParseAssertionOptions(marshalOptions(t, loginOptions))
	require.NoError(t, err)
	response := virtualwebauthn.CreateAssertionResponse(rp, *auth1, cred1, *parsed)

	result, err := svc.FinishAuthentication(ctx, strings.NewReader(response))
	require.NoError(t, err)
	assert.Equal(t, "testuser@example.com", result.User.Name())
}

func TestIntegration_RepeatedLogins(t *testing.T) {
	ctx := context.Background()
	svc, rp := integrationService(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := svc.BeginRegistration(ctx, "testuser@example.com", "Test User")
	require.NoError(t, err)
	parsed, err := virtualwebauthn.ParseAttestationOptions(marshalOptions(t, options))
	require.NoError(t, err)
	response := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsed)
	_, err = svc.FinishRegistration(ctx, "testuser@example.com", strings.NewReader(response))
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	// The virtual authenticator advances its counter on every assertion, so
	// each login must observe a strictly increasing value.
	var lastCount uint32
	for i := 0; i < 3; i++ {
		loginOptions, err := svc.BeginAuthentication(ctx, "testuser@example.com")
		require.NoError(t, err)
		parsedLogin, err := virtualwebauthn.ParseAssertionOptions(marshalOptions(t, loginOptions))
		require.NoError(t, err)
		assertion := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedLogin)

		result, err := svc.FinishAuthentication(ctx, strings.NewReader(assertion))
		require.NoError(t, err)
		assert.Greater(t, result.Credential.SignCount, lastCount)
		lastCount = result.Credential.SignCount
	}
}
