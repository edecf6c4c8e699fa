// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential is the token/session/expiry triple issued by the chat service.
// A Credential is replaced wholesale on refresh, never mutated in place, so a
// snapshot handed to a caller stays coherent.
type Credential struct {
	// Token is the opaque bearer token sent with every request.
	Token string

	// SessionID identifies the server-side session the token belongs to.
	SessionID string

	// ExpiresAt is when the token stops being accepted.
	ExpiresAt time.Time
}

// IsValid returns true if every field is populated.
func (c *Credential) IsValid() bool {
	if c == nil {
		return false
	}
	return c.Token != "" && c.SessionID != "" && !c.ExpiresAt.IsZero()
}

// IsExpired returns true once the expiry time has been reached.
func (c *Credential) IsExpired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// TimeRemaining returns the duration until expiry, or zero if already expired.
func (c *Credential) TimeRemaining() time.Duration {
	remaining := time.Until(c.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpiresWithin returns true if the credential expires inside the horizon.
func (c *Credential) ExpiresWithin(horizon time.Duration) bool {
	return time.Until(c.ExpiresAt) <= horizon
}

// Fingerprint returns a short hash of the token for log lines.
// SECURITY: Tokens never appear in logs, only fingerprints.
func (c *Credential) Fingerprint() string {
	if c == nil || c.Token == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:4])
}
