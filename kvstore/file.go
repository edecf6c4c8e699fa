// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore is a Store backed by a single JSON file. Every write lands
// atomically with fsync, so a crash never leaves a torn store. With a Cipher
// attached, values are encrypted at rest; keys stay in the clear.
type FileStore struct {
	path   string
	cipher *Cipher

	mu     sync.RWMutex
	data   map[string]string
	closed bool

	// Watch state, nil until Watch is called.
	watch *fileWatch
}

// NewFileStore opens the store at path, creating an empty store if the file
// does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// NewEncryptedFileStore opens the store at path with values encrypted at
// rest. The encryption key is derived from the key file at keyPath, which is
// created on first use. Plaintext values already present in the file are
// still readable and get encrypted on their next write.
func NewEncryptedFileStore(path, keyPath string) (*FileStore, error) {
	cipher, err := NewCipherFromKeyFile(keyPath)
	if err != nil {
		return nil, err
	}

	fs := &FileStore{
		path:   path,
		cipher: cipher,
		data:   make(map[string]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// load reads the backing file into memory. A missing file is an empty store.
func (fs *FileStore) load() error {
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse store file %s: %w", fs.path, err)
	}

	fs.mu.Lock()
	fs.data = data
	fs.mu.Unlock()
	return nil
}

// persistLocked writes the current map to disk. Callers must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(fs.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound if the key is absent.
func (fs *FileStore) Get(key string) (string, error) {
	fs.mu.RLock()
	closed := fs.closed
	value, ok := fs.data[key]
	fs.mu.RUnlock()

	if closed {
		return "", ErrStoreClosed
	}
	if !ok {
		return "", ErrNotFound
	}
	if fs.cipher != nil {
		return fs.cipher.DecryptString(value)
	}
	return value, nil
}

// Set stores value under key and persists the store. When the write fails,
// the in-memory map is rolled back so memory and disk stay consistent.
func (fs *FileStore) Set(key, value string) error {
	if fs.cipher != nil {
		encrypted, err := fs.cipher.EncryptString(value)
		if err != nil {
			return err
		}
		value = encrypted
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}

	prev, existed := fs.data[key]
	fs.data[key] = value

	if err := fs.persistLocked(); err != nil {
		if existed {
			fs.data[key] = prev
		} else {
			delete(fs.data, key)
		}
		return err
	}
	return nil
}

// Delete removes key and persists the store. Deleting an absent key is a
// no-op and touches nothing on disk.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}

	prev, existed := fs.data[key]
	if !existed {
		return nil
	}
	delete(fs.data, key)

	if err := fs.persistLocked(); err != nil {
		fs.data[key] = prev
		return err
	}
	return nil
}

// Len returns the number of keys in the store.
func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.data)
}

// Path returns the backing file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Close stops the file watcher if one is running. Operations after Close
// return ErrStoreClosed. Closing twice is harmless.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	watch := fs.watch
	fs.mu.Unlock()

	if watch != nil {
		return watch.close()
	}
	return nil
}
