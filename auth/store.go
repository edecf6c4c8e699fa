// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jeranaias/streamchat/kvstore"
)

// Fixed logical keys for the persisted credential.
const (
	keyToken     = "auth_token"
	keySessionID = "auth_session_id"
	keyExpiresAt = "auth_expires_at"
)

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// CredentialStore persists a single Credential in a key/value store under
// three fixed keys. A stored credential is either absent or fully populated:
// Load treats any missing or unparseable field as "absent" and clears the
// leftovers, so a write interrupted mid-credential can never be adopted.
type CredentialStore struct {
	store kvstore.Store
}

// NewCredentialStore wraps a key/value store.
func NewCredentialStore(store kvstore.Store) *CredentialStore {
	return &CredentialStore{store: store}
}

// Save persists all three credential fields. The expiry lands last: a
// credential mixed from two generations then carries the older expiry and
// fails adoption instead of passing as fresh.
func (s *CredentialStore) Save(cred *Credential) error {
	if !cred.IsValid() {
		return errors.New("refusing to persist a partial credential")
	}

	writes := []struct {
		key   string
		value string
	}{
		{keyToken, cred.Token},
		{keySessionID, cred.SessionID},
		{keyExpiresAt, strconv.FormatInt(cred.ExpiresAt.Unix(), 10)},
	}

	for _, w := range writes {
		if err := s.store.Set(w.key, w.value); err != nil {
			// Restore the absent state rather than leave a torn credential.
			_ = s.Clear()
			return fmt.Errorf("failed to persist credential: %w", err)
		}
	}
	return nil
}

// Load reads the persisted credential. It returns (nil, nil) when no
// complete credential is stored; partial leftovers are removed on the way
// out.
func (s *CredentialStore) Load() (*Credential, error) {
	token, err := s.store.Get(keyToken)
	if err != nil {
		return s.absent(err)
	}

	sessionID, err := s.store.Get(keySessionID)
	if err != nil {
		return s.absent(err)
	}

	expiresRaw, err := s.store.Get(keyExpiresAt)
	if err != nil {
		return s.absent(err)
	}

	expiresUnix, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		// Unparseable expiry counts as a gap.
		_ = s.Clear()
		return nil, nil
	}

	cred := &Credential{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: time.Unix(expiresUnix, 0),
	}
	if !cred.IsValid() {
		_ = s.Clear()
		return nil, nil
	}
	return cred, nil
}

// absent maps a per-key read result to the store-level answer: a missing key
// means no credential (clearing strays), anything else is a real error.
func (s *CredentialStore) absent(err error) (*Credential, error) {
	if errors.Is(err, kvstore.ErrNotFound) {
		_ = s.Clear()
		return nil, nil
	}
	return nil, fmt.Errorf("failed to load credential: %w", err)
}

// Clear removes all credential keys. Clearing an absent credential is a
// no-op.
func (s *CredentialStore) Clear() error {
	var firstErr error
	for _, key := range []string{keyToken, keySessionID, keyExpiresAt} {
		if err := s.store.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
