// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits after the last change event
// before reloading. Editors and atomic renames produce event bursts; the
// debounce collapses each burst into one reload.
const watchDebounce = 500 * time.Millisecond

// =============================================================================
// FILE WATCH
// =============================================================================

// fileWatch tracks changes to a FileStore's backing file via fsnotify.
type fileWatch struct {
	store    *FileStore
	watcher  *fsnotify.Watcher
	onChange func()
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	changedAt time.Time
	dirty     bool
}

// Watch reloads the store whenever another process rewrites the backing file
// and then invokes onChange. Change notifications are a hint to re-read
// state: the store's own writes also produce events, so onChange may fire
// for changes the caller made itself.
//
// Watch may be called at most once per store. Close stops the watcher.
func (fs *FileStore) Watch(onChange func()) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}
	if fs.watch != nil {
		return errors.New("watch already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// The parent directory gets watched rather than the file itself:
	// atomic writes replace the file by rename, which would silently
	// detach a watch on the old inode.
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch store directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &fileWatch{
		store:    fs,
		watcher:  watcher,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
	fs.watch = fw

	go fw.processEvents()
	go fw.processPending()

	return nil
}

// processEvents filters directory events down to the store file.
func (fw *fileWatch) processEvents() {
	base := filepath.Base(fw.store.path)

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				fw.markDirty()
			}

		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next event still reloads.
		}
	}
}

func (fw *fileWatch) markDirty() {
	fw.mu.Lock()
	fw.dirty = true
	fw.changedAt = time.Now()
	fw.mu.Unlock()
}

// processPending reloads the store once events have settled for the
// debounce interval.
func (fw *fileWatch) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case <-ticker.C:
			fw.mu.Lock()
			ready := fw.dirty && time.Since(fw.changedAt) >= watchDebounce
			if ready {
				fw.dirty = false
			}
			fw.mu.Unlock()

			if !ready {
				continue
			}

			// A parse failure keeps the previous contents; a half-written
			// file from a non-atomic writer settles on a later event.
			if err := fw.store.load(); err != nil {
				continue
			}
			if fw.onChange != nil {
				fw.onChange()
			}
		}
	}
}

// close stops the watch goroutines and releases the fsnotify watcher.
func (fw *fileWatch) close() error {
	fw.cancel()
	return fw.watcher.Close()
}
