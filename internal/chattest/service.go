// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chattest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeranaias/streamchat/api"
)

// maxRequestBody caps chat request bodies, mirroring the production limit.
const maxRequestBody = 1 * 1024 * 1024

// =============================================================================
// SCRIPT STEPS
// =============================================================================

type stepKind int

const (
	stepFragment stepKind = iota
	stepDone
	stepInlineError
	stepTimeout
	stepRaw
	stepHang
)

// Step is one scripted action in a streamed reply.
type Step struct {
	kind  stepKind
	text  string
	delay time.Duration
}

// Fragment emits one reply fragment as a "data:" line.
func Fragment(text string) Step {
	return Step{kind: stepFragment, text: text}
}

// Done emits the [DONE] sentinel that ends a reply normally.
func Done() Step {
	return Step{kind: stepDone}
}

// InlineError emits an in-band error payload ("data: Error: <message>").
func InlineError(message string) Step {
	return Step{kind: stepInlineError, text: message}
}

// Timeout emits the literal gateway timeout payload.
func Timeout() Step {
	return Step{kind: stepTimeout}
}

// Raw writes text verbatim as one body line, bypassing the "data:" framing.
// Used to exercise decoder behavior on malformed streams.
func Raw(text string) Step {
	return Step{kind: stepRaw, text: text}
}

// Hang blocks the reply until the client disconnects or its request context
// ends. Used to exercise cancellation and turn timeouts.
func Hang() Step {
	return Step{kind: stepHang}
}

// After returns a copy of the step that waits d before writing.
func (s Step) After(d time.Duration) Step {
	s.delay = d
	return s
}

// =============================================================================
// SERVICE
// =============================================================================

// forcedFailure makes upcoming chat calls fail with a fixed status.
type forcedFailure struct {
	remaining int
	status    int
	message   string
}

// Service is a scripted chat service bound to an ephemeral local port.
type Service struct {
	srv *httptest.Server

	authCalls int64
	chatCalls int64
	tokenSeq  int64

	mu          sync.Mutex
	script      []Step
	queue       [][]Step
	tokenTTL    time.Duration
	failAuth    int
	failChat    forcedFailure
	current     string
	lastMessage string
}

// NewService starts a scripted service. The default reply is a single
// fragment followed by [DONE]; override it with SetScript or QueueScript.
// Callers must Close the service when done.
func NewService() *Service {
	s := &Service{
		tokenTTL: time.Hour,
		script:   []Step{Fragment("ok"), Done()},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/auth", s.handleAuth)
	r.Post("/chat", s.handleChat)

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the service base URL.
func (s *Service) URL() string {
	return s.srv.URL
}

// Close shuts the service down.
func (s *Service) Close() {
	s.srv.Close()
}

// =============================================================================
// TEST CONTROLS
// =============================================================================

// SetScript replaces the default reply used when no queued reply is pending.
func (s *Service) SetScript(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = steps
}

// QueueScript enqueues a one-shot reply for the next chat call. Queued
// replies are consumed in order before the default script applies.
func (s *Service) QueueScript(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, steps)
}

// FailNextAuth makes the next n authentication calls fail with a server
// error.
func (s *Service) FailNextAuth(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuth = n
}

// FailNextChats makes the next n chat calls fail with the given HTTP status
// regardless of token validity.
func (s *Service) FailNextChats(n, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChat = forcedFailure{remaining: n, status: status, message: message}
}

// RevokeToken invalidates the currently issued token. Chat calls carrying it
// receive 401 until a fresh authentication happens.
func (s *Service) RevokeToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
}

// SetTokenTTL sets the lifetime stamped on subsequently issued tokens.
func (s *Service) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// AuthCalls returns the number of authentication calls received.
func (s *Service) AuthCalls() int64 {
	return atomic.LoadInt64(&s.authCalls)
}

// ChatCalls returns the number of chat calls received.
func (s *Service) ChatCalls() int64 {
	return atomic.LoadInt64(&s.chatCalls)
}

// CurrentToken returns the most recently issued token, or "" after a revoke.
func (s *Service) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// LastMessage returns the message text of the most recent chat call.
func (s *Service) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Service) handleAuth(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.authCalls, 1)

	s.mu.Lock()
	if s.failAuth > 0 {
		s.failAuth--
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "authentication backend unavailable")
		return
	}

	n := atomic.AddInt64(&s.tokenSeq, 1)
	token := fmt.Sprintf("tok-%d", n)
	session := fmt.Sprintf("sess-%d", n)
	expires := time.Now().Add(s.tokenTTL).Unix()
	s.current = token
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"session_id": session,
		"expires_at": expires,
	})
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.chatCalls, 1)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	var req api.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	s.mu.Lock()
	s.lastMessage = req.Message
	current := s.current
	forced := s.failChat
	if forced.remaining > 0 {
		s.failChat.remaining--
	}
	s.mu.Unlock()

	if forced.remaining > 0 {
		writeError(w, forced.status, forced.message)
		return
	}

	// SECURITY: Constant-time token comparison.
	if current == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(current)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	// Queued scripts are consumed only by calls that actually stream, so a
	// rejected call does not eat the script meant for its replay.
	s.mu.Lock()
	script := s.nextScriptLocked()
	s.mu.Unlock()

	s.stream(w, r, script)
}

// nextScriptLocked pops the next queued reply, falling back to the default
// script. Callers must hold s.mu.
func (s *Service) nextScriptLocked() []Step {
	if len(s.queue) > 0 {
		script := s.queue[0]
		s.queue = s.queue[1:]
		return script
	}
	return s.script
}

// =============================================================================
// STREAM WRITER
// =============================================================================

// stream plays a scripted reply over the line protocol.
func (s *Service) stream(w http.ResponseWriter, r *http.Request, script []Step) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for _, step := range script {
		if step.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(step.delay):
			}
		}

		switch step.kind {
		case stepFragment:
			fmt.Fprintf(w, "data: %s\n\n", step.text)
		case stepDone:
			fmt.Fprintf(w, "data: [DONE]\n\n")
		case stepInlineError:
			fmt.Fprintf(w, "data: Error: %s\n\n", step.text)
		case stepTimeout:
			fmt.Fprintf(w, "data: Request timeout\n\n")
		case stepRaw:
			fmt.Fprintf(w, "%s\n", step.text)
		case stepHang:
			<-ctx.Done()
			return
		}
		flusher.Flush()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response in the service error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    errorCode(status),
			"message": message,
		},
	})
}

// errorCode maps an HTTP status to the service's stable error code strings.
func errorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		return "internal_error"
	}
}
