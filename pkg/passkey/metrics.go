// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace prefixes every metric this package exports.
const MetricsNamespace = "passkey"

// Metrics records ceremony outcomes. A nil *Metrics is a valid no-op
// recorder, so callers that do not scrape metrics pass nothing.
type Metrics struct {
	ceremoniesStarted   *prometheus.CounterVec
	ceremoniesCompleted *prometheus.CounterVec
	ceremoniesFailed    *prometheus.CounterVec
	cloneWarnings       prometheus.Counter
}

// NewMetrics registers the ceremony metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ceremoniesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ceremonies_started_total",
			Help:      "Number of ceremonies started, by ceremony kind.",
		}, []string{"ceremony"}),
		ceremoniesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ceremonies_completed_total",
			Help:      "Number of ceremonies completed successfully, by ceremony kind.",
		}, []string{"ceremony"}),
		ceremoniesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "ceremonies_failed_total",
			Help:      "Number of ceremonies rejected, by ceremony kind and failure reason.",
		}, []string{"ceremony", "reason"}),
		cloneWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "clone_warnings_total",
			Help:      "Number of sign counter regressions detected.",
		}),
	}
}

// CeremonyStarted counts a begun ceremony.
func (m *Metrics) CeremonyStarted(kind CeremonyKind) {
	if m == nil {
		return
	}
	m.ceremoniesStarted.WithLabelValues(string(kind)).Inc()
}

// CeremonyCompleted counts a successful ceremony.
func (m *Metrics) CeremonyCompleted(kind CeremonyKind) {
	if m == nil {
		return
	}
	m.ceremoniesCompleted.WithLabelValues(string(kind)).Inc()
}

// CeremonyFailed counts a rejected ceremony under its failure reason.
func (m *Metrics) CeremonyFailed(kind CeremonyKind, err error) {
	if m == nil {
		return
	}
	m.ceremoniesFailed.WithLabelValues(string(kind), failureReason(err)).Inc()
}

// CloneWarning counts a detected sign counter regression.
func (m *Metrics) CloneWarning() {
	if m == nil {
		return
	}
	m.cloneWarnings.Inc()
}

// failureReason maps an error to a bounded label value.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrChallengeExpiredOrConsumed):
		return "challenge"
	case errors.Is(err, ErrOriginUntrusted):
		return "origin"
	case errors.Is(err, ErrRPIDMismatch):
		return "rpid"
	case errors.Is(err, ErrUserPresenceMissing):
		return "user_presence"
	case errors.Is(err, ErrUserVerificationRequired):
		return "user_verification"
	case errors.Is(err, ErrUnknownCredential):
		return "unknown_credential"
	case errors.Is(err, ErrCredentialOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, ErrDuplicateCredential):
		return "duplicate_credential"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature"
	case errors.Is(err, ErrCloneWarning):
		return "clone_warning"
	case errors.Is(err, ErrAttestationInvalid):
		return "attestation"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed"
	default:
		return "other"
	}
}
