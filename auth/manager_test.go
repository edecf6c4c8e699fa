// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/api"
	"github.com/jeranaias/streamchat/kvstore"
)

// =============================================================================
// TEST SERVER
// =============================================================================

// authServer is a fake auth endpoint. Each successful call issues tok-N for
// call number N, so tests can tell credentials apart.
type authServer struct {
	srv       *httptest.Server
	calls     atomic.Int32
	fail      atomic.Bool
	expiresIn atomic.Int64 // seconds
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()

	as := &authServer{}
	as.expiresIn.Store(3600)

	as.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth" {
			http.NotFound(w, r)
			return
		}
		n := as.calls.Add(1)
		if as.fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"code": 401, "message": "credentials rejected"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token":      fmt.Sprintf("tok-%d", n),
			"session_id": "sess-1",
			"expires_at": time.Now().Add(time.Duration(as.expiresIn.Load()) * time.Second).Unix(),
		})
	}))
	t.Cleanup(as.srv.Close)
	return as
}

func (as *authServer) client() *api.Client {
	return api.NewClient(as.srv.URL)
}

// =============================================================================
// INITIALIZE TESTS
// =============================================================================

func TestManager_InitializeEmptyStoreAuthenticates(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()
	m := NewManager(server.client(), backing)

	require.NoError(t, m.Initialize(context.Background()))
	require.True(t, m.IsAuthenticated())
	require.Equal(t, int32(1), server.calls.Load())

	// The fresh credential must be persisted.
	persisted, err := NewCredentialStore(backing).Load()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.Equal(t, "tok-1", persisted.Token)
}

func TestManager_InitializeAdoptsStoredCredential(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()

	stored := &Credential{Token: "stored-tok", SessionID: "stored-sess", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, NewCredentialStore(backing).Save(stored))

	m := NewManager(server.client(), backing)
	require.NoError(t, m.Initialize(context.Background()))

	require.True(t, m.IsAuthenticated())
	require.Equal(t, "stored-tok", m.Credential().Token)
	require.Equal(t, int32(0), server.calls.Load(), "A still-valid credential should be adopted without a network call")
}

func TestManager_InitializeRefreshesExpiredCredential(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()

	expired := &Credential{Token: "old-tok", SessionID: "old-sess", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, NewCredentialStore(backing).Save(expired))

	m := NewManager(server.client(), backing)
	require.NoError(t, m.Initialize(context.Background()))

	require.Equal(t, int32(1), server.calls.Load())
	require.Equal(t, "tok-1", m.Credential().Token)
}

// =============================================================================
// AUTHENTICATE TESTS
// =============================================================================

func TestManager_AuthenticateFailureKeepsPriorCredential(t *testing.T) {
	server := newAuthServer(t)

	var notifications atomic.Int32
	var lastRetry func()
	m := NewManager(server.client(), kvstore.NewMemoryStore(),
		WithAttemptLimit(rate.Inf, 1),
		WithAuthFailureHandler(func(message string, retry func()) {
			notifications.Add(1)
			lastRetry = retry
			require.NotEmpty(t, message)
		}))

	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, "tok-1", m.Credential().Token)

	server.fail.Store(true)
	err := m.Authenticate(context.Background())
	require.Error(t, err)
	require.Equal(t, "tok-1", m.Credential().Token, "A failed attempt must leave the prior credential in place")
	require.True(t, m.IsAuthenticated())
	require.Equal(t, int32(1), notifications.Load())
	require.NotNil(t, lastRetry)

	// The retry affordance performs one more attempt on user action.
	server.fail.Store(false)
	lastRetry()
	require.NotEqual(t, "tok-1", m.Credential().Token)
}

func TestManager_AuthenticateThrottled(t *testing.T) {
	server := newAuthServer(t)

	var notifications atomic.Int32
	m := NewManager(server.client(), kvstore.NewMemoryStore(),
		WithAttemptLimit(rate.Every(time.Hour), 1),
		WithAuthFailureHandler(func(message string, retry func()) {
			notifications.Add(1)
		}))

	require.NoError(t, m.Authenticate(context.Background()))

	err := m.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrThrottled)
	require.Equal(t, int32(1), server.calls.Load(), "Throttled attempts must not reach the endpoint")
	require.Equal(t, int32(0), notifications.Load(), "Throttling should not prompt a user retry")
}

// =============================================================================
// EXPIRY TESTS
// =============================================================================

func TestManager_CheckExpiryRefreshesSoonToExpire(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()

	soon := &Credential{Token: "soon-tok", SessionID: "s", ExpiresAt: time.Now().Add(200 * time.Second)}
	require.NoError(t, NewCredentialStore(backing).Save(soon))

	m := NewManager(server.client(), backing)
	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, int32(0), server.calls.Load())

	require.NoError(t, m.CheckExpiry(context.Background()))
	require.Equal(t, int32(1), server.calls.Load(), "A credential expiring in 200s must refresh")
	require.Equal(t, "tok-1", m.Credential().Token)
}

func TestManager_CheckExpiryKeepsDistantCredential(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()

	distant := &Credential{Token: "distant-tok", SessionID: "s", ExpiresAt: time.Now().Add(400 * time.Second)}
	require.NoError(t, NewCredentialStore(backing).Save(distant))

	m := NewManager(server.client(), backing)
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.CheckExpiry(context.Background()))
	require.Equal(t, int32(0), server.calls.Load(), "A credential expiring in 400s must not refresh")
	require.Equal(t, "distant-tok", m.Credential().Token)
}

func TestManager_CheckExpiryWithoutCredentialAuthenticates(t *testing.T) {
	server := newAuthServer(t)
	m := NewManager(server.client(), kvstore.NewMemoryStore())

	require.NoError(t, m.CheckExpiry(context.Background()))
	require.Equal(t, int32(1), server.calls.Load())
	require.True(t, m.IsAuthenticated())
}

// =============================================================================
// CLEAR TESTS
// =============================================================================

func TestManager_ClearReauthenticates(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()
	m := NewManager(server.client(), backing, WithAttemptLimit(rate.Inf, 1))

	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, "tok-1", m.Credential().Token)

	require.NoError(t, m.Clear(context.Background()))
	require.True(t, m.IsAuthenticated())
	require.Equal(t, "tok-2", m.Credential().Token)

	persisted, err := NewCredentialStore(backing).Load()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.Equal(t, "tok-2", persisted.Token)
}

// =============================================================================
// EXTERNAL REFRESH TESTS
// =============================================================================

func TestManager_ReloadFromStoreAdoptsFresher(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()
	m := NewManager(server.client(), backing)

	require.NoError(t, m.Initialize(context.Background())) // tok-1, expires in 1h

	// Another process refreshed the credential with a later expiry.
	external := &Credential{Token: "ext-tok", SessionID: "ext-sess", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, NewCredentialStore(backing).Save(external))

	m.ReloadFromStore()
	require.Equal(t, "ext-tok", m.Credential().Token)

	// An older credential in the store must not displace a fresher one.
	stale := &Credential{Token: "stale-tok", SessionID: "s", ExpiresAt: time.Now().Add(30 * time.Minute)}
	require.NoError(t, NewCredentialStore(backing).Save(stale))

	m.ReloadFromStore()
	require.Equal(t, "ext-tok", m.Credential().Token)
}

func TestManager_ReloadFromStoreIgnoresExpired(t *testing.T) {
	server := newAuthServer(t)
	backing := kvstore.NewMemoryStore()
	m := NewManager(server.client(), backing)

	require.NoError(t, m.Initialize(context.Background()))
	before := m.Credential().Token

	// Expired credentials never get adopted, whatever their provenance.
	expired := &Credential{Token: "expired-tok", SessionID: "s", ExpiresAt: time.Now().Add(-time.Minute)}
	// Save refuses nothing here: the fields are populated, just stale.
	require.NoError(t, NewCredentialStore(backing).Save(expired))

	m.ReloadFromStore()
	require.Equal(t, before, m.Credential().Token)
}

func TestManager_WatchStoreAdoptsExternalRefresh(t *testing.T) {
	server := newAuthServer(t)
	path := filepath.Join(t.TempDir(), "credentials.json")

	backing, err := kvstore.NewFileStore(path)
	require.NoError(t, err)
	defer backing.Close()

	m := NewManager(server.client(), backing)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.WatchStore(backing))

	// A second store instance on the same path stands in for another
	// process refreshing the credential.
	otherProcess, err := kvstore.NewFileStore(path)
	require.NoError(t, err)
	external := &Credential{Token: "ext-tok", SessionID: "ext-sess", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, NewCredentialStore(otherProcess).Save(external))

	require.Eventually(t, func() bool {
		return m.Credential().Token == "ext-tok"
	}, 5*time.Second, 50*time.Millisecond, "Watcher should adopt the externally refreshed credential")
}
