// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/streamchat/api"
	"github.com/jeranaias/streamchat/model"
)

// =============================================================================
// TURN STATE
// =============================================================================

// TurnState identifies where a turn is in its lifecycle.
type TurnState int

const (
	// TurnIdle means no turn is in flight. Sessions report it between turns;
	// a Turn handle itself never carries it.
	TurnIdle TurnState = iota

	// TurnOpening means the request is being prepared and sent.
	TurnOpening

	// TurnStreaming means reply fragments are arriving.
	TurnStreaming

	// TurnReplaying means the credential was rejected mid-turn and the turn
	// is re-authenticating for its single replay.
	TurnReplaying

	// TurnCompleted means the reply finished normally.
	TurnCompleted

	// TurnCancelled means the turn was cancelled or superseded; any partial
	// reply is kept.
	TurnCancelled

	// TurnFailed means the turn ended in an error, rendered as readable
	// text in the assistant message.
	TurnFailed
)

// String returns the state name for logs.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnOpening:
		return "opening"
	case TurnStreaming:
		return "streaming"
	case TurnReplaying:
		return "replaying"
	case TurnCompleted:
		return "completed"
	case TurnCancelled:
		return "cancelled"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true for states a turn cannot leave.
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnCancelled || s == TurnFailed
}

// =============================================================================
// TURN HANDLE
// =============================================================================

// Turn is a handle to one streaming exchange: one user message and the
// assistant reply streamed in response.
//
// The session runs the exchange on its own goroutine; the handle is the
// caller's window into it. Done is closed when the turn reaches a terminal
// state.
type Turn struct {
	id         string
	generation uint64
	userText   string

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state TurnState
	err   error
	stats *model.Statistics
}

// MessageID returns the ID of the assistant message this turn streams into.
func (t *Turn) MessageID() string {
	return t.id
}

// Done returns a channel closed once the turn reaches a terminal state.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// State returns the turn's current lifecycle state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error. It is nil until Done is closed, and stays
// nil for completed and cancelled turns.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// setState moves the turn to a non-terminal state. Once a terminal state is
// reached the turn no longer moves.
func (t *Turn) setState(st TurnState) {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = st
	}
	t.mu.Unlock()
}

// setStats installs the statistics for the current transfer attempt.
func (t *Turn) setStats(stats *model.Statistics) {
	t.mu.Lock()
	t.stats = stats
	t.mu.Unlock()
}

// turnStats returns the statistics of the last transfer attempt.
func (t *Turn) turnStats() *model.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// finish moves the turn to a terminal state and closes Done. The first
// caller wins; later calls are no-ops, so a superseded turn's goroutine
// cannot overwrite the cancellation already recorded.
func (t *Turn) finish(st TurnState, err error) {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = st
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// =============================================================================
// FAILURE RENDERING
// =============================================================================

// failureText renders a turn-ending error as reply text. The text lands in
// the assistant message, so it is written for the person reading the chat,
// not for a log.
func failureText(err error) string {
	var httpErr *api.HTTPError
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return "Error: Authentication failed. Please try again."
	case errors.Is(err, api.ErrRateLimited):
		return "Error: The service is rate limiting requests. Please wait a moment and try again."
	case errors.Is(err, api.ErrNotConfigured):
		return "Error: No chat service endpoint is configured."
	case errors.Is(err, context.DeadlineExceeded):
		return "Error: The reply took too long and was stopped."
	case errors.As(err, &httpErr):
		msg := strings.TrimSpace(httpErr.Message)
		if msg == "" {
			return fmt.Sprintf("Error: The service returned HTTP %d.", httpErr.Status)
		}
		return fmt.Sprintf("Error: The service returned HTTP %d: %s", httpErr.Status, msg)
	default:
		return fmt.Sprintf("Error: Could not reach the chat service: %v", err)
	}
}
