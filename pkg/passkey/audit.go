// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"context"
	"encoding/base64"
	"log/slog"
)

// LogAuditSink is the default AuditSink: it writes security events to the
// service logger. Deployments that page on clone warnings supply their own
// sink.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink creates an AuditSink backed by the given logger.
func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

// ReportCloneWarning logs the counter regression with both counter values.
func (s *LogAuditSink) ReportCloneWarning(ctx context.Context, event CloneWarningEvent) {
	s.logger.WarnContext(ctx, "possible cloned authenticator",
		"credential_id", base64.RawURLEncoding.EncodeToString(event.CredentialID),
		"user_handle", base64.RawURLEncoding.EncodeToString(event.UserHandle),
		"stored_count", event.StoredCount,
		"reported_count", event.ReportedCount)
}
