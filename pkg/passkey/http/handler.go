// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/passkeyhq/go-passkey/pkg/passkey"
)

// Handler provides HTTP handlers for the passkey ceremonies. The handlers
// can be mounted on any router.
type Handler struct {
	service *passkey.Service
	logger  *slog.Logger
}

// NewHandler creates a new passkey HTTP handler.
func NewHandler(service *passkey.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// BeginRegistration handles POST /registration/begin
//
// Request body:
//
//	{
//	    "user_name": "user@example.com",
//	    "display_name": "User Name",  // optional
//	    "exclude_existing": true      // optional, defaults to true
//	}
//
// Response: {"publicKey": <PublicKeyCredentialCreationOptions>}
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.UserName == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_name is required")
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.UserName
	}

	var opts []passkey.RegistrationOption
	if req.ExcludeExisting != nil {
		opts = append(opts, passkey.WithExcludeExisting(*req.ExcludeExisting))
	}

	options, err := h.service.BeginRegistration(r.Context(), req.UserName, displayName, opts...)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, CreationResponse{PublicKey: options})
}

// FinishRegistration handles POST /registration/finish
//
// Header: X-User-Name (the login name registration was begun for)
// Request body: the credential JSON from navigator.credentials.create()
// Response: RegisteredResponse
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	userName := r.Header.Get(HeaderUserName)
	if userName == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user name header is required")
		return
	}

	cred, err := h.service.FinishRegistration(r.Context(), userName, r.Body)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, RegisteredResponse{
		CredentialID: cred.KeyID(),
		UserID:       base64.RawURLEncoding.EncodeToString(cred.UserHandle),
	})
}

// RegistrationStatus handles GET /registration/status?user_name=...
//
// Response: {"registered": true/false}
func (h *Handler) RegistrationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	userName := r.URL.Query().Get("user_name")
	if userName == "" {
		h.writeJSON(w, http.StatusOK, RegistrationStatusResponse{Registered: false})
		return
	}

	h.writeJSON(w, http.StatusOK, RegistrationStatusResponse{
		Registered: h.service.IsRegistered(r.Context(), userName),
	})
}

// BeginLogin handles POST /login/begin
//
// Request body:
//
//	{
//	    "user_name": "user@example.com" // optional
//	}
//
// An empty body or empty user_name starts the discoverable credentials flow.
// Response: {"publicKey": <PublicKeyCredentialRequestOptions>}
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req BeginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An absent body selects the discoverable flow; a body that fails
		// to decode is a client error.
		if !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
			return
		}
		req = BeginLoginRequest{}
	}

	options, err := h.service.BeginAuthentication(r.Context(), req.UserName)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RequestResponse{PublicKey: options})
}

// FinishLogin handles POST /login/finish
//
// Request body: the credential JSON from navigator.credentials.get()
// Response: AuthResponse with token and user identity
func (h *Handler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	result, err := h.service.FinishAuthentication(r.Context(), r.Body)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AuthResponse{
		Token:    result.Token,
		UserID:   base64.RawURLEncoding.EncodeToString(result.User.Handle()),
		UserName: result.User.Name(),
	})
}

// ListCredentials handles GET /credentials?user_name=...
//
// Response: array of CredentialSummary
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	userName := r.URL.Query().Get("user_name")
	if userName == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_name is required")
		return
	}

	creds, err := h.service.ListCredentials(r.Context(), userName)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	summaries := make([]CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		summaries = append(summaries, summarize(cred))
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

// DeleteCredential handles DELETE /credentials/{credentialID}?user_name=...
//
// credentialID is base64url. Deletion requires ownership by the named user.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request, credentialID string) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	userName := r.URL.Query().Get("user_name")
	if userName == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_name is required")
		return
	}
	credID, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential ID encoding")
		return
	}

	if err := h.service.DeleteCredential(r.Context(), userName, credID); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func summarize(cred *passkey.Credential) CredentialSummary {
	transports := make([]string, 0, len(cred.Transports))
	for _, t := range cred.Transports {
		transports = append(transports, string(t))
	}

	summary := CredentialSummary{
		ID:              cred.KeyID(),
		AttestationType: cred.AttestationType,
		Algorithm:       cred.Algorithm.String(),
		Transports:      transports,
		SignCount:       cred.SignCount,
		CreatedAt:       cred.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if !cred.LastUsedAt.IsZero() {
		summary.LastUsedAt = cred.LastUsedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return summary
}

// handleServiceError maps ceremony errors onto HTTP statuses. Verification
// gate failures are 401: the response looked structurally fine but did not
// prove what it claimed. Conflicting state (duplicates, counter regressions,
// ownership) is 409.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrMalformedMessage):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed ceremony message")
	case errors.Is(err, passkey.ErrChallengeExpiredOrConsumed):
		h.writeError(w, http.StatusBadRequest, ErrorCodeChallengeExpired, "challenge expired or already used")
	case errors.Is(err, passkey.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case errors.Is(err, passkey.ErrNoCredentials):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "user has no registered credentials")
	case errors.Is(err, passkey.ErrDuplicateCredential):
		h.writeError(w, http.StatusConflict, ErrorCodeDuplicate, "credential already registered")
	case errors.Is(err, passkey.ErrCloneWarning):
		h.writeError(w, http.StatusConflict, ErrorCodeCloneWarning, "authenticator counter regression")
	case errors.Is(err, passkey.ErrCredentialOwnerMismatch):
		h.writeError(w, http.StatusConflict, ErrorCodeOwnerMismatch, "credential owned by a different user")
	case passkey.IsVerificationFailure(err):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	default:
		h.logger.Error("unexpected service error", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already written, can only log.
		h.logger.Error("failed to encode JSON response", "error", err, "status", status)
	}
}
