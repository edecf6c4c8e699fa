// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides small persistent key/value stores for local state.
package kvstore

import "errors"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested key does not exist in the store.
	ErrNotFound = errors.New("key not found")
	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a string key/value store with durable semantics left to the
// implementation. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound if the key is absent.
	Get(key string) (string, error)

	// Set stores value under key, replacing any existing value.
	Set(key, value string) error

	// Delete removes key from the store. Deleting an absent key is not
	// an error.
	Delete(key string) error
}
