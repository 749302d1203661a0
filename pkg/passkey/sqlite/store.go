// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

// Package sqlite provides durable passkey storage over a single SQLite file.
// It implements the user, challenge and credential store interfaces of the
// passkey package; the single-use and compare-and-set guarantees are enforced
// with guarded UPDATE statements, so multiple connections and multiple
// processes sharing the file stay correct.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/passkeyhq/go-passkey/pkg/passkey"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    handle        BLOB PRIMARY KEY,
    name          TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS challenges (
    value             BLOB PRIMARY KEY,
    kind              TEXT NOT NULL,
    bound_handle      BLOB,
    user_verification TEXT NOT NULL,
    exclude_existing  INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    expires_at        INTEGER NOT NULL,
    consumed          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credentials (
    id               BLOB PRIMARY KEY,
    user_handle      BLOB NOT NULL,
    public_key       BLOB NOT NULL,
    algorithm        INTEGER NOT NULL,
    attestation_type TEXT NOT NULL,
    transports       TEXT NOT NULL DEFAULT '',
    aaguid           BLOB,
    sign_count       INTEGER NOT NULL DEFAULT 0,
    flags            INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    last_used_at     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_credentials_user_handle ON credentials(user_handle);
CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges(expires_at);
`

// Credential flag bits as packed into the flags column.
const (
	storedFlagUserPresent    = 1 << 0
	storedFlagUserVerified   = 1 << 1
	storedFlagBackupEligible = 1 << 2
	storedFlagBackupState    = 1 << 3
)

// Store implements passkey persistence over SQLite. A single file backs
// users, challenges and credentials so ceremonies share one transaction
// boundary.
type Store struct {
	db *sql.DB
}

// Interface checks.
var (
	_ passkey.UserStore       = (*Store)(nil)
	_ passkey.ChallengeStore  = (*Store)(nil)
	_ passkey.CredentialStore = (*Store)(nil)
)

// Open opens the SQLite store at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// GetByHandle retrieves a user by handle.
func (s *Store) GetByHandle(ctx context.Context, handle []byte) (passkey.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT handle, name, display_name FROM users WHERE handle = ?`, handle)
	return scanUser(row)
}

// GetByName retrieves a user by login name.
func (s *Store) GetByName(ctx context.Context, name string) (passkey.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT handle, name, display_name FROM users WHERE name = ?`, name)
	return scanUser(row)
}

func scanUser(row *sql.Row) (passkey.User, error) {
	var handle []byte
	var name, displayName string
	if err := row.Scan(&handle, &name, &displayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return passkey.NewDefaultUser(handle, name, displayName), nil
}

// Create inserts a user with a fresh random handle.
func (s *Store) Create(ctx context.Context, name, displayName string) (passkey.User, error) {
	handle := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (handle, name, display_name, created_at) VALUES (?, ?, ?, ?)`,
		handle[:], name, displayName, toMillis(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, passkey.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return passkey.NewDefaultUser(handle[:], name, displayName), nil
}

// Delete removes a user by handle.
func (s *Store) Delete(ctx context.Context, handle []byte) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passkey.ErrUserNotFound
	}
	return nil
}

// Issue generates a challenge and persists it keyed by its value. Expired
// rows are evicted opportunistically on every issue.
func (s *Store) Issue(ctx context.Context, params passkey.ChallengeParams) (*passkey.Challenge, error) {
	challenge, err := passkey.NewChallenge(params)
	if err != nil {
		return nil, err
	}

	now := toMillis(challenge.CreatedAt)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE expires_at < ? OR consumed = 1`, now); err != nil {
		return nil, fmt.Errorf("evict challenges: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO challenges (value, kind, bound_handle, user_verification, exclude_existing, created_at, expires_at, consumed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		challenge.Value, string(challenge.Kind), challenge.BoundHandle,
		string(challenge.UserVerification), boolToInt(challenge.ExcludeExisting),
		now, toMillis(challenge.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("insert challenge: %w", err)
	}
	return challenge, nil
}

// Consume spends a challenge inside an immediate transaction. The UPDATE
// guarded on consumed = 0 is the atomic step: a concurrent consumer of the
// same value updates zero rows and fails.
func (s *Store) Consume(ctx context.Context, value []byte, expectedHandle []byte) (*passkey.Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE challenges SET consumed = 1 WHERE value = ? AND consumed = 0`, value)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, passkey.ErrChallengeExpiredOrConsumed
	}

	var challenge passkey.Challenge
	var kind, userVerification string
	var excludeExisting int
	var createdAt, expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT value, kind, bound_handle, user_verification, exclude_existing, created_at, expires_at
		 FROM challenges WHERE value = ?`, value).
		Scan(&challenge.Value, &kind, &challenge.BoundHandle, &userVerification,
			&excludeExisting, &createdAt, &expiresAt)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}

	challenge.Kind = passkey.CeremonyKind(kind)
	challenge.UserVerification = passkey.UserVerificationRequirement(userVerification)
	challenge.ExcludeExisting = excludeExisting != 0
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	challenge.Consumed = true

	// The row is already spent; expiry and binding failures report the same
	// generic error after the fact.
	if challenge.Expired(time.Now().UTC()) {
		return nil, passkey.ErrChallengeExpiredOrConsumed
	}
	if expectedHandle != nil && challenge.BoundHandle != nil &&
		!bytes.Equal(challenge.BoundHandle, expectedHandle) {
		return nil, passkey.ErrChallengeExpiredOrConsumed
	}
	return &challenge, nil
}

// Save inserts a new credential.
func (s *Store) Save(ctx context.Context, cred *passkey.Credential) error {
	transports := make([]string, 0, len(cred.Transports))
	for _, t := range cred.Transports {
		transports = append(transports, string(t))
	}

	var lastUsed sql.NullInt64
	if !cred.LastUsedAt.IsZero() {
		lastUsed = sql.NullInt64{Int64: toMillis(cred.LastUsedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_handle, public_key, algorithm, attestation_type, transports, aaguid, sign_count, flags, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.UserHandle, cred.PublicKey, int64(cred.Algorithm),
		cred.AttestationType, strings.Join(transports, ","), cred.AAGUID,
		cred.SignCount, packFlags(cred.Flags), toMillis(cred.CreatedAt), lastUsed)
	if err != nil {
		if isUniqueViolation(err) {
			return passkey.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

const credentialColumns = `id, user_handle, public_key, algorithm, attestation_type, transports, aaguid, sign_count, flags, created_at, last_used_at`

// GetByCredentialID retrieves a credential by its ID.
func (s *Store) GetByCredentialID(ctx context.Context, credID []byte) (*passkey.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, credID)
	cred, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUnknownCredential
		}
		return nil, err
	}
	return cred, nil
}

// GetByUserHandle retrieves all credentials owned by a user.
func (s *Store) GetByUserHandle(ctx context.Context, handle []byte) ([]*passkey.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_handle = ? ORDER BY created_at`, handle)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	creds := make([]*passkey.Credential, 0)
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// UpdateSignCounter advances the counter with a guarded UPDATE. The
// sign_count predicate makes the compare-and-set atomic; a lost race or a
// regression both update zero rows and are told apart by re-reading.
func (s *Store) UpdateSignCounter(ctx context.Context, credID []byte, newCount uint32) error {
	now := toMillis(time.Now())

	if newCount == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE credentials SET last_used_at = ? WHERE id = ?`, now, credID)
		if err != nil {
			return fmt.Errorf("touch credential: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return passkey.ErrUnknownCredential
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE id = ? AND sign_count < ?`,
		newCount, now, credID, newCount)
	if err != nil {
		return fmt.Errorf("update sign counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var stored uint32
	err = s.db.QueryRowContext(ctx,
		`SELECT sign_count FROM credentials WHERE id = ?`, credID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return passkey.ErrUnknownCredential
	}
	if err != nil {
		return fmt.Errorf("read sign counter: %w", err)
	}
	return passkey.ErrCloneWarning
}

// Delete removes a credential by its ID.
func (s *Store) Delete(ctx context.Context, credID []byte) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, credID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passkey.ErrUnknownCredential
	}
	return nil
}

// DeleteByUserHandle removes all credentials owned by a user.
func (s *Store) DeleteByUserHandle(ctx context.Context, handle []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_handle = ?`, handle); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (*passkey.Credential, error) {
	var cred passkey.Credential
	var algorithm, flags, createdAt int64
	var transports string
	var lastUsed sql.NullInt64

	err := scan(&cred.ID, &cred.UserHandle, &cred.PublicKey, &algorithm,
		&cred.AttestationType, &transports, &cred.AAGUID, &cred.SignCount,
		&flags, &createdAt, &lastUsed)
	if err != nil {
		return nil, err
	}

	cred.Algorithm = passkey.COSEAlgorithm(algorithm)
	cred.Flags = unpackFlags(flags)
	cred.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		cred.LastUsedAt = fromMillis(lastUsed.Int64)
	}
	if transports != "" {
		for _, t := range strings.Split(transports, ",") {
			cred.Transports = append(cred.Transports, passkey.AuthenticatorTransport(t))
		}
	}
	return &cred, nil
}

func packFlags(flags passkey.CredentialFlags) int64 {
	var packed int64
	if flags.UserPresent {
		packed |= storedFlagUserPresent
	}
	if flags.UserVerified {
		packed |= storedFlagUserVerified
	}
	if flags.BackupEligible {
		packed |= storedFlagBackupEligible
	}
	if flags.BackupState {
		packed |= storedFlagBackupState
	}
	return packed
}

func unpackFlags(packed int64) passkey.CredentialFlags {
	return passkey.CredentialFlags{
		UserPresent:    packed&storedFlagUserPresent != 0,
		UserVerified:   packed&storedFlagUserVerified != 0,
		BackupEligible: packed&storedFlagBackupEligible != 0,
		BackupState:    packed&storedFlagBackupState != 0,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
