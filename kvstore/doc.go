// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides small persistent key/value stores for local state
// such as credentials and session metadata.
//
// # Key Types
//
//   - Store: the string key/value interface all backends implement
//   - MemoryStore: process-local map for tests and ephemeral state
//   - FileStore: single JSON file with atomic writes, optional AES-256-GCM
//     encryption of values at rest, and fsnotify-based change watching
//   - SQLiteStore: SQLite-backed store for state shared between processes
//   - Cipher: AES-256-GCM value encryption with PBKDF2-SHA-256 key
//     derivation from a machine-local key file
//
// # Usage
//
//	store, err := kvstore.NewEncryptedFileStore(statePath, keyPath)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Set("session_token", token); err != nil {
//		return err
//	}
//
//	token, err := store.Get("session_token")
//	if errors.Is(err, kvstore.ErrNotFound) {
//		// first run, nothing persisted yet
//	}
//
// FileStore.Watch observes rewrites of the backing file by other processes,
// reloads the store, and invokes a callback so callers can adopt externally
// refreshed state.
package kvstore
