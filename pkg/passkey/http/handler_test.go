// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passkeyhq/go-passkey/pkg/passkey"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
	testUser   = "alice@example.com"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	svc, err := passkey.NewService(passkey.ServiceParams{
		Config: &passkey.Config{
			RPID:          testRPID,
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{testOrigin},
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	handler := NewHandler(svc).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	MountChi(router, handler)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	return postRaw(t, url, data, headers)
}

func postRaw(t *testing.T, url string, body []byte, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// register drives a full registration over HTTP with the mock authenticator.
func register(t *testing.T, server *httptest.Server, mock *passkey.MockAuthenticator, userName string) RegisteredResponse {
	t.Helper()

	resp := postJSON(t, server.URL+"/registration/begin",
		BeginRegistrationRequest{UserName: userName}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decodeJSON[CreationResponse](t, resp)
	require.NotNil(t, options.PublicKey)
	require.Equal(t, testRPID, options.PublicKey.RP.ID)

	body, err := mock.CreateRegistrationResponse(options.PublicKey.Challenge, testOrigin)
	require.NoError(t, err)

	resp = postRaw(t, server.URL+"/registration/finish", body,
		map[string]string{HeaderUserName: userName})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[RegisteredResponse](t, resp)
}

func TestRegistrationFlow(t *testing.T) {
	server := newTestServer(t)
	mock, err := passkey.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	registered := register(t, server, mock, testUser)
	assert.NotEmpty(t, registered.CredentialID)
	assert.NotEmpty(t, registered.UserID)

	resp, err := http.Get(server.URL + "/registration/status?user_name=" + testUser)
	require.NoError(t, err)
	defer resp.Body.Close()
	status := decodeJSON[RegistrationStatusResponse](t, resp)
	assert.True(t, status.Registered)
}

func TestRegistrationFlow_ExcludeExisting(t *testing.T) {
	server := newTestServer(t)
	mock, err := passkey.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	register(t, server, mock, testUser)

	resp := postJSON(t, server.URL+"/registration/begin",
		BeginRegistrationRequest{UserName: testUser}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decodeJSON[CreationResponse](t, resp)
	assert.Len(t, options.PublicKey.ExcludeCredentials, 1)

	// Opting out clears the exclusion list so the same authenticator can be
	// re-registered.
	exclude := false
	resp = postJSON(t, server.URL+"/registration/begin",
		BeginRegistrationRequest{UserName: testUser, ExcludeExisting: &exclude}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options = decodeJSON[CreationResponse](t, resp)
	assert.Empty(t, options.PublicKey.ExcludeCredentials)

	body, err := mock.CreateRegistrationResponse(options.PublicKey.Challenge, testOrigin)
	require.NoError(t, err)
	resp = postRaw(t, server.URL+"/registration/finish", body,
		map[string]string{HeaderUserName: testUser})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestLoginFlow(t *testing.T) {
	server := newTestServer(t)
	mock, err := passkey.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registered := register(t, server, mock, testUser)

	resp := postJSON(t, server.URL+"/login/begin", BeginLoginRequest{UserName: testUser}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decodeJSON[RequestResponse](t, resp)
	require.NotNil(t, options.PublicKey)
	require.Len(t, options.PublicKey.AllowCredentials, 1)

	body, err := mock.CreateAssertionResponse(options.PublicKey.Challenge, testOrigin, nil)
	require.NoError(t, err)

	resp = postRaw(t, server.URL+"/login/finish", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	auth := decodeJSON[AuthResponse](t, resp)
	assert.Equal(t, testUser, auth.UserName)
	assert.Equal(t, registered.UserID, auth.UserID)
	assert.NotEmpty(t, auth.Token)
}

func TestLoginFlow_Discoverable(t *testing.T) {
	server := newTestServer(t)
	mock, err := passkey.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registered := register(t, server, mock, testUser)

	// Empty body selects the discoverable flow.
	resp := postRaw(t, server.URL+"/login/begin", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decodeJSON[RequestResponse](t, resp)
	assert.Empty(t, options.PublicKey.AllowCredentials)

	userHandle, err := base64.RawURLEncoding.DecodeString(registered.UserID)
	require.NoError(t, err)
	body, err := mock.CreateAssertionResponse(options.PublicKey.Challenge, testOrigin, userHandle)
	require.NoError(t, err)

	resp = postRaw(t, server.URL+"/login/finish", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	auth := decodeJSON[AuthResponse](t, resp)
	assert.Equal(t, testUser, auth.UserName)
}

func TestErrorStatuses(t *testing.T) {
	t.Run("begin registration without user_name", func(t *testing.T) {
		server := newTestServer(t)
		resp := postJSON(t, server.URL+"/registration/begin", BeginRegistrationRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ErrorCodeInvalidRequest, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("finish registration without header", func(t *testing.T) {
		server := newTestServer(t)
		resp := postRaw(t, server.URL+"/registration/finish", []byte("{}"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("begin login for unknown user", func(t *testing.T) {
		server := newTestServer(t)
		resp := postJSON(t, server.URL+"/login/begin",
			BeginLoginRequest{UserName: "nobody@example.com"}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ErrorCodeUserNotFound, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("begin login with undecodable body", func(t *testing.T) {
		server := newTestServer(t)
		resp := postRaw(t, server.URL+"/login/begin", []byte("{not json"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ErrorCodeInvalidRequest, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("begin login without credentials", func(t *testing.T) {
		server := newTestServer(t)
		resp := postJSON(t, server.URL+"/registration/begin",
			BeginRegistrationRequest{UserName: testUser}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, server.URL+"/login/begin", BeginLoginRequest{UserName: testUser}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ErrorCodeNoCredentials, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("finish login with malformed body", func(t *testing.T) {
		server := newTestServer(t)
		resp := postRaw(t, server.URL+"/login/finish", []byte("junk"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("untrusted origin is unauthorized", func(t *testing.T) {
		server := newTestServer(t)
		mock, err := passkey.NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		register(t, server, mock, testUser)

		resp := postJSON(t, server.URL+"/login/begin", BeginLoginRequest{UserName: testUser}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		options := decodeJSON[RequestResponse](t, resp)

		body, err := mock.CreateAssertionResponse(options.PublicKey.Challenge, "https://evil.example", nil)
		require.NoError(t, err)
		resp = postRaw(t, server.URL+"/login/finish", body, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, ErrorCodeVerificationFailed, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("replayed assertion is challenge_expired", func(t *testing.T) {
		server := newTestServer(t)
		mock, err := passkey.NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		register(t, server, mock, testUser)

		resp := postJSON(t, server.URL+"/login/begin", BeginLoginRequest{UserName: testUser}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		options := decodeJSON[RequestResponse](t, resp)

		body, err := mock.CreateAssertionResponse(options.PublicKey.Challenge, testOrigin, nil)
		require.NoError(t, err)
		resp = postRaw(t, server.URL+"/login/finish", body, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postRaw(t, server.URL+"/login/finish", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ErrorCodeChallengeExpired, decodeJSON[ErrorResponse](t, resp).Error)
	})

	t.Run("duplicate registration is conflict", func(t *testing.T) {
		server := newTestServer(t)
		mock, err := passkey.NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		register(t, server, mock, testUser)

		resp := postJSON(t, server.URL+"/registration/begin",
			BeginRegistrationRequest{UserName: "bob@example.com"}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		options := decodeJSON[CreationResponse](t, resp)

		body, err := mock.CreateRegistrationResponse(options.PublicKey.Challenge, testOrigin)
		require.NoError(t, err)
		resp = postRaw(t, server.URL+"/registration/finish", body,
			map[string]string{HeaderUserName: "bob@example.com"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, ErrorCodeDuplicate, decodeJSON[ErrorResponse](t, resp).Error)
	})
}

func TestCredentialManagement(t *testing.T) {
	server := newTestServer(t)
	mock, err := passkey.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registered := register(t, server, mock, testUser)

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/credentials?user_name=" + testUser)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		creds := decodeJSON[[]CredentialSummary](t, resp)
		require.Len(t, creds, 1)
		assert.Equal(t, registered.CredentialID, creds[0].ID)
		assert.Equal(t, "ES256", creds[0].Algorithm)
	})

	t.Run("delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete,
			server.URL+"/credentials/"+registered.CredentialID+"?user_name="+testUser, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		listResp, err := http.Get(server.URL + "/credentials?user_name=" + testUser)
		require.NoError(t, err)
		defer listResp.Body.Close()
		assert.Empty(t, decodeJSON[[]CredentialSummary](t, listResp))
	})
}
