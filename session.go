// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/streamchat/api"
	"github.com/jeranaias/streamchat/auth"
	"github.com/jeranaias/streamchat/config"
	"github.com/jeranaias/streamchat/internal/util"
	"github.com/jeranaias/streamchat/kvstore"
	"github.com/jeranaias/streamchat/model"
	"github.com/jeranaias/streamchat/sse"
)

// DefaultTurnTimeout caps a single streaming turn unless configured
// otherwise.
const DefaultTurnTimeout = 5 * time.Minute

// Errors returned by Session operations.
var (
	// ErrEmptyMessage is returned when a turn is started with no text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrNotAuthenticated is returned when a turn cannot start because no
	// valid credential could be obtained.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// =============================================================================
// OPTIONS
// =============================================================================

type sessionOptions struct {
	turnTimeout   time.Duration
	historyLimit  int
	onUpdate      func()
	onAuthFailure func(message string, retry func())
}

// SessionOption configures a Session at construction.
type SessionOption func(*sessionOptions)

// WithTurnTimeout caps a single streaming turn. Zero keeps the configured
// or default cap.
func WithTurnTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.turnTimeout = d }
}

// WithHistoryLimit overrides the number of messages retained per
// conversation.
func WithHistoryLimit(n int) SessionOption {
	return func(o *sessionOptions) { o.historyLimit = n }
}

// WithUpdateListener registers fn to run after every conversation change:
// new messages, arriving fragments, finalization. fn runs on the session's
// goroutines and must return quickly.
func WithUpdateListener(fn func()) SessionOption {
	return func(o *sessionOptions) { o.onUpdate = fn }
}

// WithAuthFailureHandler surfaces authentication failures to the embedding
// client together with a retry closure to invoke on explicit user action.
//
// The handler is honored by NewFromConfig, which constructs the session's
// auth manager. Sessions built around an existing manager via NewSession
// configure the handler on the manager directly.
func WithAuthFailureHandler(fn func(message string, retry func())) SessionOption {
	return func(o *sessionOptions) { o.onAuthFailure = fn }
}

func applyOptions(opts []SessionOption) sessionOptions {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns one conversation against the chat service.
//
// All conversation mutations are serialized under the session lock. Network
// transfers run on session goroutines; a generation counter gates their
// callbacks so a cancelled or superseded turn can never touch the
// conversation again.
type Session struct {
	client *api.Client
	auth   *auth.Manager

	turnTimeout  time.Duration
	historyLimit int
	onUpdate     func()

	mu         sync.Mutex
	conv       *model.Conversation
	active     *Turn
	generation uint64
	closed     bool
	closers    []io.Closer
}

// NewSession creates a session around an existing client and auth manager.
func NewSession(client *api.Client, manager *auth.Manager, opts ...SessionOption) *Session {
	return newSession(client, manager, applyOptions(opts))
}

func newSession(client *api.Client, manager *auth.Manager, o sessionOptions) *Session {
	s := &Session{
		client:       client,
		auth:         manager,
		turnTimeout:  o.turnTimeout,
		historyLimit: o.historyLimit,
		onUpdate:     o.onUpdate,
		conv:         model.NewConversation(),
	}
	if s.turnTimeout <= 0 {
		s.turnTimeout = DefaultTurnTimeout
	}
	if s.historyLimit > 0 {
		s.conv.SetMaxMessages(s.historyLimit)
	}
	return s
}

// NewFromConfig builds a fully wired session: credential store per the
// configured backend, API client, and auth manager. The session owns the
// store handle; Close releases it.
func NewFromConfig(cfg *config.Config, opts ...SessionOption) (*Session, error) {
	o := applyOptions(opts)

	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.Service.BaseURL).WithTimeout(cfg.RequestTimeout())
	if cfg.Service.UserAgent != "" {
		client = client.WithUserAgent(cfg.Service.UserAgent)
	}

	var mopts []auth.ManagerOption
	if o.onAuthFailure != nil {
		mopts = append(mopts, auth.WithAuthFailureHandler(o.onAuthFailure))
	}
	manager := auth.NewManager(client, store, mopts...)

	if cfg.Store.Watch {
		if fs, ok := store.(*kvstore.FileStore); ok {
			if err := manager.WatchStore(fs); err != nil {
				log.Printf("Session: store watch unavailable: %v", err)
			}
		}
	}

	if o.turnTimeout <= 0 && cfg.Session.TurnTimeoutSecs > 0 {
		o.turnTimeout = cfg.TurnTimeout()
	}
	if o.historyLimit <= 0 && cfg.Session.HistoryLimit > 0 {
		o.historyLimit = cfg.Session.HistoryLimit
	}

	s := newSession(client, manager, o)
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	return s, nil
}

// openStore builds the credential store selected by the config.
func openStore(cfg *config.Config) (kvstore.Store, io.Closer, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return kvstore.NewMemoryStore(), nil, nil

	case config.BackendFile:
		path, err := cfg.StorePath()
		if err != nil {
			return nil, nil, err
		}
		fs, err := kvstore.NewFileStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		return fs, fs, nil

	case config.BackendEncrypted:
		path, err := cfg.StorePath()
		if err != nil {
			return nil, nil, err
		}
		keyPath, err := cfg.StoreKeyPath()
		if err != nil {
			return nil, nil, err
		}
		fs, err := kvstore.NewEncryptedFileStore(path, keyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open encrypted credential store: %w", err)
		}
		return fs, fs, nil

	case config.BackendSQLite:
		path, err := cfg.StorePath()
		if err != nil {
			return nil, nil, err
		}
		db, err := kvstore.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential database: %w", err)
		}
		return db, db, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Initialize restores the persisted credential or authenticates fresh.
// A nil return means the session holds a valid credential.
func (s *Session) Initialize(ctx context.Context) error {
	return s.auth.Initialize(ctx)
}

// Auth returns the session's credential manager.
func (s *Session) Auth() *auth.Manager {
	return s.auth
}

// Client returns the underlying API client.
func (s *Session) Client() *api.Client {
	return s.client
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// StartTurn records text as a user message and opens a streaming reply turn.
//
// The session must already hold a credential: with none present StartTurn
// fails fast without touching the network. A held credential inside the
// expiry horizon is refreshed before the transfer opens.
//
// At most one turn is in flight: a previous unfinished turn is cancelled
// and superseded, its partial reply kept. The turn itself runs on a session
// goroutine bounded by the turn timeout; ctx bounds only the synchronous
// credential preflight. The returned handle reports the turn's progress.
func (s *Session) StartTurn(ctx context.Context, text string) (*Turn, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	if !s.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	// A turn never starts on a credential inside the expiry horizon.
	if err := s.auth.CheckExpiry(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}

	if prev := s.active; prev != nil {
		s.supersedeLocked(prev)
	}
	s.generation++

	s.conv.AddUserMessage(trimmed)
	asst := s.conv.AddAssistantMessage()

	streamCtx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	t := &Turn{
		id:         asst.ID,
		generation: s.generation,
		userText:   trimmed,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      TurnOpening,
	}
	s.active = t
	s.mu.Unlock()

	s.notifyUpdate()
	log.Printf("Session: turn %s opened for %q", t.id, util.TruncateRunes(trimmed, 60))

	go s.runTurn(streamCtx, t)
	return t, nil
}

// CancelTurn cancels the in-flight turn, if any. The partial reply already
// received stays in the conversation; cancellation is not an error. Returns
// true if a turn was cancelled.
//
// The cancel is optimistic: the message finalizes immediately, the network
// goroutine winds down on its own, and the generation gate drops anything
// it still delivers.
func (s *Session) CancelTurn() bool {
	s.mu.Lock()
	t := s.active
	if t == nil {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.generation++
	t.cancel()
	s.conv.FinalizeActive(t.id, nil)
	t.finish(TurnCancelled, nil)
	s.mu.Unlock()

	s.notifyUpdate()
	log.Printf("Session: turn %s cancelled", t.id)
	return true
}

// supersedeLocked cancels a previous turn in favor of a new one. Callers
// hold s.mu.
func (s *Session) supersedeLocked(prev *Turn) {
	prev.cancel()
	s.conv.FinalizeActive(prev.id, nil)
	prev.finish(TurnCancelled, nil)
	log.Printf("Session: turn %s superseded", prev.id)
}

// runTurn drives one turn to a terminal state.
func (s *Session) runTurn(ctx context.Context, t *Turn) {
	defer t.cancel()

	err := s.stream(ctx, t)

	// One reactive re-authentication per turn: a rejected credential is
	// refreshed and the turn replayed into the same assistant message.
	// Rejection happens at response-open, before any reply bytes.
	if errors.Is(err, api.ErrUnauthorized) && s.isLive(t) {
		t.setState(TurnReplaying)
		log.Printf("Session: credential rejected mid-turn, re-authenticating")

		if aerr := s.auth.Authenticate(ctx); aerr != nil {
			// Keep the unauthorized error: the reply text should say
			// authentication failed, whatever the retry's transport story.
			log.Printf("Session: re-authentication failed: %v", aerr)
		} else if s.isLive(t) {
			err = s.stream(ctx, t)
		}
	}

	s.finishTurn(t, err)
}

// stream runs one transfer attempt, folding decoded events into the
// conversation as they arrive. A nil return is a clean end of stream.
func (s *Session) stream(ctx context.Context, t *Turn) error {
	cred := s.auth.Credential()
	if !cred.IsValid() {
		return api.ErrUnauthorized
	}

	t.setState(TurnStreaming)

	stats := model.NewStatistics()
	t.setStats(stats)

	decoder := sse.NewDecoder()
	var inlineErr *api.StreamError

	req := api.ChatRequest{
		Message:   t.userText,
		Token:     cred.Token,
		SessionID: cred.SessionID,
	}

	err := s.client.StreamMessage(ctx, req, func(chunk string) bool {
		for _, ev := range decoder.Feed(chunk) {
			if !s.applyEvent(t, stats, ev) {
				return false
			}
			switch ev.Type {
			case sse.EventInlineError:
				inlineErr = &api.StreamError{Message: ev.Text}
				return false
			case sse.EventDone:
				return false
			}
		}
		return true
	})

	if err != nil {
		return err
	}
	if inlineErr != nil {
		return inlineErr
	}
	if !decoder.Terminated() {
		// The server closed the stream without [DONE]; the reply so far
		// stands as the complete reply.
		log.Printf("Session: stream for %s ended without terminal marker", t.id)
	}
	return nil
}

// applyEvent folds one decoded event into the conversation. Returns false
// when the turn is no longer live and the transfer should stop.
func (s *Session) applyEvent(t *Turn, stats *model.Statistics, ev sse.Event) bool {
	s.mu.Lock()
	if s.generation != t.generation {
		s.mu.Unlock()
		return false
	}

	switch ev.Type {
	case sse.EventFragment:
		stats.RecordFirstFragment()
		s.conv.AppendToActive(t.id, ev.Text)
	case sse.EventInlineError:
		// The server reported failure in-band; its text replaces the
		// partial reply.
		s.conv.SetActiveContent(t.id, ev.Text)
	case sse.EventDone:
		// Nothing to apply; finishTurn finalizes.
	}
	s.mu.Unlock()

	s.notifyUpdate()
	return true
}

// finishTurn settles the conversation and the turn handle after the last
// transfer attempt. A superseded turn leaves the conversation untouched.
func (s *Session) finishTurn(t *Turn, err error) {
	s.mu.Lock()
	live := s.active == t && s.generation == t.generation
	if live {
		s.active = nil

		switch {
		case err == nil:
			stats := t.turnStats()
			if stats != nil {
				if msg := s.conv.GetMessageByID(t.id); msg != nil {
					stats.Finalize(msg.FragmentCount)
				}
			}
			s.conv.FinalizeActive(t.id, stats)

		case errors.Is(err, context.Canceled):
			// Cooperative cancel: keep the partial reply, not an error.
			s.conv.FinalizeActive(t.id, nil)

		default:
			var streamErr *api.StreamError
			if !errors.As(err, &streamErr) {
				// In-band error text is already in the message; every
				// other failure renders as readable text.
				s.conv.SetActiveContent(t.id, failureText(err))
			}
			s.conv.FinalizeActive(t.id, nil)
		}
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		t.finish(TurnCompleted, nil)
	case errors.Is(err, context.Canceled):
		t.finish(TurnCancelled, nil)
	default:
		t.finish(TurnFailed, err)
	}

	if live {
		s.notifyUpdate()
		if terr := t.Err(); terr != nil {
			log.Printf("Session: turn %s failed: %v", t.id, terr)
		} else {
			log.Printf("Session: turn %s %s", t.id, t.State())
		}
	}
}

// isLive reports whether the turn is still the session's active turn.
func (s *Session) isLive(t *Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == t && s.generation == t.generation
}

// notifyUpdate invokes the update callback outside the session lock.
func (s *Session) notifyUpdate() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

// =============================================================================
// CONVERSATION ACCESS
// =============================================================================

// Messages returns a point-in-time copy of the conversation history. The
// copies are detached: later streaming does not mutate them.
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Message, len(s.conv.Messages))
	for i, msg := range s.conv.Messages {
		out[i] = msg.Clone()
	}
	return out
}

// SnapshotConversation returns a deep copy of the conversation, for export
// or persistence.
func (s *Session) SnapshotConversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

// ConversationID returns the conversation's stable identifier.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ID
}

// Title returns the conversation title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.GetTitle()
}

// MessageCount returns the number of messages in the conversation.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.MessageCount()
}

// State returns the active turn's state, or TurnIdle between turns.
func (s *Session) State() TurnState {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()

	if t == nil {
		return TurnIdle
	}
	return t.State()
}

// ActiveTurn returns the in-flight turn handle, or nil between turns.
func (s *Session) ActiveTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IsStreaming reports whether a turn is in flight.
func (s *Session) IsStreaming() bool {
	return s.ActiveTurn() != nil
}

// =============================================================================
// SESSION MAINTENANCE
// =============================================================================

// ClearHistory removes all messages, keeping the conversation identity and
// the credential. An in-flight turn is cancelled first.
func (s *Session) ClearHistory() {
	s.CancelTurn()

	s.mu.Lock()
	s.conv.ClearHistory()
	s.mu.Unlock()
	s.notifyUpdate()
}

// Reset cancels any in-flight turn, starts a fresh conversation, and
// replaces the credential. Rotation failures surface through the auth
// failure handler like any other authentication failure.
func (s *Session) Reset(ctx context.Context) error {
	s.CancelTurn()

	s.mu.Lock()
	s.conv = model.NewConversation()
	if s.historyLimit > 0 {
		s.conv.SetMaxMessages(s.historyLimit)
	}
	s.mu.Unlock()
	s.notifyUpdate()

	return s.auth.Clear(ctx)
}

// Close cancels any in-flight turn and releases resources owned by the
// session, such as store handles and their watchers. The session cannot be
// used afterwards.
func (s *Session) Close() error {
	s.CancelTurn()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
