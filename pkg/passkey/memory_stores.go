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
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-memory implementation of UserStore.
// This is intended for development and testing only.
type MemoryUserStore struct {
	mu       sync.RWMutex
	byHandle map[string]*DefaultUser
	byName   map[string]*DefaultUser
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byHandle: make(map[string]*DefaultUser),
		byName:   make(map[string]*DefaultUser),
	}
}

// GetByHandle retrieves a user by their handle.
func (s *MemoryUserStore) GetByHandle(ctx context.Context, handle []byte) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byHandle[hex.EncodeToString(handle)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetByName retrieves a user by their login name.
func (s *MemoryUserStore) GetByName(ctx context.Context, name string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byName[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Create creates a new user with a fresh random handle. Handles are UUIDs,
// never derived from the name, so a deleted account's handle is never reissued.
func (s *MemoryUserStore) Create(ctx context.Context, name, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return nil, ErrUserAlreadyExists
	}

	handle := uuid.New()
	user := NewDefaultUser(handle[:], name, displayName)

	s.byHandle[hex.EncodeToString(handle[:])] = user
	s.byName[name] = user

	return user, nil
}

// Delete removes a user by handle.
func (s *MemoryUserStore) Delete(ctx context.Context, handle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(handle)
	user, ok := s.byHandle[key]
	if !ok {
		return ErrUserNotFound
	}

	delete(s.byHandle, key)
	delete(s.byName, user.Name())
	return nil
}

// Count returns the number of users in the store.
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHandle)
}

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// This is intended for development and testing only; challenges are lost on
// restart, which simply forces clients to begin a fresh ceremony.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
	}
}

// Issue generates and stores a fresh challenge.
func (s *MemoryChallengeStore) Issue(ctx context.Context, params ChallengeParams) (*Challenge, error) {
	challenge, err := NewChallenge(params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(time.Now().UTC())
	s.challenges[hex.EncodeToString(challenge.Value)] = challenge

	return challenge, nil
}

// Consume atomically spends a challenge. The mutex makes the
// check-and-mark a single step: of any number of concurrent callers with the
// same value, exactly one observes Consumed == false.
func (s *MemoryChallengeStore) Consume(ctx context.Context, value []byte, expectedHandle []byte) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(value)
	challenge, ok := s.challenges[key]
	if !ok {
		return nil, WrapError("consume challenge", ErrChallengeExpiredOrConsumed)
	}

	now := time.Now().UTC()
	if challenge.Consumed || challenge.Expired(now) {
		delete(s.challenges, key)
		return nil, WrapError("consume challenge", ErrChallengeExpiredOrConsumed)
	}

	if expectedHandle != nil && challenge.BoundHandle != nil && !bytes.Equal(challenge.BoundHandle, expectedHandle) {
		// A bound challenge presented for the wrong identity is spent: the
		// value has been seen and must never verify again.
		challenge.Consumed = true
		return nil, WrapError("consume challenge", ErrChallengeExpiredOrConsumed)
	}

	challenge.Consumed = true
	return challenge, nil
}

// Count returns the number of live challenge records.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// Cleanup removes expired and consumed challenges, returning how many were
// evicted.
func (s *MemoryChallengeStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked(time.Now().UTC())
}

func (s *MemoryChallengeStore) evictExpiredLocked(now time.Time) int {
	removed := 0
	for key, challenge := range s.challenges {
		if challenge.Consumed || challenge.Expired(now) {
			delete(s.challenges, key)
			removed++
		}
	}
	return removed
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// This is intended for development and testing only.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byOwner  map[string][]string
	idToUser map[string]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:     make(map[string]*Credential),
		byOwner:  make(map[string][]string),
		idToUser: make(map[string]string),
	}
}

// Save stores a new credential.
func (s *MemoryCredentialStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	ownerKey := hex.EncodeToString(cred.UserHandle)

	if _, ok := s.byID[credKey]; ok {
		return ErrDuplicateCredential
	}

	stored := *cred
	s.byID[credKey] = &stored
	s.byOwner[ownerKey] = append(s.byOwner[ownerKey], credKey)
	s.idToUser[credKey] = ownerKey

	return nil
}

// GetByCredentialID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrUnknownCredential
	}

	copied := *cred
	return &copied, nil
}

// GetByUserHandle retrieves all credentials owned by a user.
func (s *MemoryCredentialStore) GetByUserHandle(ctx context.Context, handle []byte) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byOwner[hex.EncodeToString(handle)]
	result := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		if cred, ok := s.byID[key]; ok {
			copied := *cred
			result = append(result, &copied)
		}
	}
	return result, nil
}

// UpdateSignCounter advances the stored counter with compare-and-set
// semantics under the store mutex.
func (s *MemoryCredentialStore) UpdateSignCounter(ctx context.Context, credID []byte, newCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return ErrUnknownCredential
	}

	if newCount == 0 {
		// Counter-less authenticator: accepted, never used for clone
		// detection, stored value untouched.
		cred.LastUsedAt = time.Now().UTC()
		return nil
	}

	if newCount <= cred.SignCount {
		return ErrCloneWarning
	}

	cred.SignCount = newCount
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

// Delete removes a credential by its ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(credID)
	ownerKey, ok := s.idToUser[credKey]
	if !ok {
		return ErrUnknownCredential
	}

	delete(s.byID, credKey)
	delete(s.idToUser, credKey)

	keys := s.byOwner[ownerKey]
	for i, key := range keys {
		if key == credKey {
			s.byOwner[ownerKey] = append(keys[:i], keys[i+1:]...)
			break
		}
	}

	return nil
}

// DeleteByUserHandle removes all credentials owned by a user.
func (s *MemoryCredentialStore) DeleteByUserHandle(ctx context.Context, handle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerKey := hex.EncodeToString(handle)
	for _, credKey := range s.byOwner[ownerKey] {
		delete(s.byID, credKey)
		delete(s.idToUser, credKey)
	}
	delete(s.byOwner, ownerKey)

	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
