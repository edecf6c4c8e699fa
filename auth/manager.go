// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/api"
	"github.com/jeranaias/streamchat/kvstore"
)

// ExpiryHorizon is how close to expiry a credential may get before
// CheckExpiry refreshes it.
const ExpiryHorizon = 300 * time.Second

// ErrThrottled indicates authentication attempts are arriving faster than
// the attempt limiter allows.
var ErrThrottled = errors.New("authentication attempts throttled")

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the credential lifecycle: acquisition, proactive refresh
// before expiry, and reactive re-authentication after a rejection. It is the
// only writer of the current Credential; everyone else reads snapshots.
//
// Authentication failures are never retried automatically. The failure
// handler receives a retry closure so the user can trigger another attempt.
type Manager struct {
	client *api.Client
	store  *CredentialStore

	mu   sync.Mutex
	cred *Credential

	// authMu serializes authentication flows so concurrent triggers reach
	// the endpoint one at a time.
	authMu sync.Mutex

	// limiter caps how often the auth endpoint can be hit, whatever the
	// trigger.
	limiter *rate.Limiter

	onAuthFailure func(message string, retry func())
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithAuthFailureHandler sets the callback invoked when an authentication
// attempt fails. The retry closure performs one more attempt when called.
func WithAuthFailureHandler(fn func(message string, retry func())) ManagerOption {
	return func(m *Manager) {
		m.onAuthFailure = fn
	}
}

// WithAttemptLimit overrides the default authentication attempt limiter.
func WithAttemptLimit(limit rate.Limit, burst int) ManagerOption {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewManager creates a credential manager backed by the given store.
func NewManager(client *api.Client, store kvstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		client: client,
		store:  NewCredentialStore(store),
		// Three quick attempts, then one every two seconds.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Initialize loads the persisted credential and adopts it when its expiry is
// still in the future; otherwise it authenticates fresh. After a nil return
// the manager holds a populated credential.
func (m *Manager) Initialize(ctx context.Context) error {
	cred, err := m.store.Load()
	if err != nil {
		log.Printf("Auth: credential load failed: %v", err)
	}

	if cred != nil && !cred.IsExpired() {
		m.mu.Lock()
		m.cred = cred
		m.mu.Unlock()
		log.Printf("Auth: adopted stored credential %s (expires in %s)",
			cred.Fingerprint(), cred.TimeRemaining().Round(time.Second))
		return nil
	}

	return m.Authenticate(ctx)
}

// Authenticate requests a new credential from the service. On success the
// credential is persisted first and swapped into memory second, so a reader
// that sees the new credential can trust the store to match. On failure the
// prior credential, if any, stays untouched and the failure handler fires
// with a retry closure.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.authMu.Lock()
	err := m.authenticate(ctx)
	m.authMu.Unlock()

	// Throttled attempts stay quiet: the handler exists to prompt a user
	// retry, and prompting would defeat the limiter.
	if err != nil && !errors.Is(err, ErrThrottled) {
		m.notifyFailure(err)
	}
	return err
}

// authenticate runs one attempt. Callers hold authMu.
func (m *Manager) authenticate(ctx context.Context) error {
	if !m.limiter.Allow() {
		return ErrThrottled
	}

	resp, err := m.client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	cred := &Credential{
		Token:     resp.Token,
		SessionID: resp.SessionID,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
	}

	// Persist-then-confirm. A store failure is logged, not fatal: the
	// credential still serves this process.
	if err := m.store.Save(cred); err != nil {
		log.Printf("Auth: credential persist failed: %v", err)
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	log.Printf("Auth: authenticated %s (expires in %s)",
		cred.Fingerprint(), cred.TimeRemaining().Round(time.Second))
	return nil
}

func (m *Manager) notifyFailure(err error) {
	handler := m.onAuthFailure
	if handler == nil {
		return
	}
	retry := func() { _ = m.Authenticate(context.Background()) }
	handler(fmt.Sprintf("Could not authenticate with the chat service: %v", err), retry)
}

// CheckExpiry refreshes the credential when it expires within ExpiryHorizon.
// The refresh is synchronous: a nil return means the credential is good for
// at least the horizon.
func (m *Manager) CheckExpiry(ctx context.Context) error {
	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	if cred == nil || cred.ExpiresWithin(ExpiryHorizon) {
		return m.Authenticate(ctx)
	}
	return nil
}

// Clear drops the persisted and in-memory credential, then immediately
// authenticates again: the session always tries to hold a valid credential.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		log.Printf("Auth: credential clear failed: %v", err)
	}
	return m.Authenticate(ctx)
}

// =============================================================================
// STATE
// =============================================================================

// IsAuthenticated reports whether a populated credential is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.IsValid()
}

// Credential returns the current credential, or nil before authentication.
func (m *Manager) Credential() *Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// =============================================================================
// EXTERNAL REFRESH
// =============================================================================

// ReloadFromStore adopts a credential another process wrote to the shared
// store, when it is fresher than the one in memory and not yet expired.
func (m *Manager) ReloadFromStore() {
	cred, err := m.store.Load()
	if err != nil || cred == nil || cred.IsExpired() {
		return
	}

	m.mu.Lock()
	fresher := m.cred == nil || cred.ExpiresAt.After(m.cred.ExpiresAt)
	if fresher {
		m.cred = cred
	}
	m.mu.Unlock()

	if fresher {
		log.Printf("Auth: adopted externally refreshed credential %s", cred.Fingerprint())
	}
}

// WatchStore starts watching a file-backed store and adopts credentials
// refreshed by other processes as they land.
func (m *Manager) WatchStore(fs *kvstore.FileStore) error {
	return fs.Watch(m.ReloadFromStore)
}
