// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// AUTHENTICATION TESTS
// =============================================================================

func TestAuthenticate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/auth" {
			t.Errorf("path = %s, want /auth", r.URL.Path)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("X-Request-Id header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"tok_abc","session_id":"sess_123","expires_at":%d}`,
			time.Now().Add(time.Hour).Unix())
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if resp.Token != "tok_abc" {
		t.Errorf("Token = %q, want %q", resp.Token, "tok_abc")
	}
	if resp.SessionID != "sess_123" {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, "sess_123")
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		t.Errorf("ExpiresAt = %d, want future timestamp", resp.ExpiresAt)
	}
}

func TestAuthenticate_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"bad_client","message":"client rejected"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Authenticate(context.Background())

	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(err.Error(), "client rejected") {
		t.Errorf("err = %v, want server message included", err)
	}
}

func TestAuthenticate_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty token", `{"token":"","session_id":"s","expires_at":9999999999}`},
		{"empty session", `{"token":"t","session_id":"","expires_at":9999999999}`},
		{"zero expiry", `{"token":"t","session_id":"s","expires_at":0}`},
		{"not json", `gateway error`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			if _, err := client.Authenticate(context.Background()); err == nil {
				t.Error("Authenticate should fail for invalid response body")
			}
		})
	}
}

func TestAuthenticate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Authenticate(context.Background())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", httpErr.Status)
	}
}

func TestAuthenticate_NotConfigured(t *testing.T) {
	client := NewClient("")
	if _, err := client.Authenticate(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStreamMessage_DeliversChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s, want /chat", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: Hello\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n")
		flusher.Flush()
	}))
	defer server.Close()

	client := NewClient(server.URL)
	var received strings.Builder
	err := client.StreamMessage(context.Background(), ChatRequest{
		Message:   "hi",
		Token:     "tok",
		SessionID: "sess",
	}, func(chunk string) bool {
		received.WriteString(chunk)
		return true
	})

	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}
	want := "data: Hello\ndata: [DONE]\n"
	if received.String() != want {
		t.Errorf("received %q, want %q", received.String(), want)
	}
}

func TestStreamMessage_SendsCredential(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.StreamMessage(context.Background(), ChatRequest{
		Message:   "question",
		Token:     "tok_xyz",
		SessionID: "sess_9",
	}, func(string) bool { return true })
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	for _, want := range []string{`"message":"question"`, `"token":"tok_xyz"`, `"session_id":"sess_9"`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body %q missing %q", gotBody, want)
		}
	}
}

func TestStreamMessage_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"token expired"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.StreamMessage(context.Background(), ChatRequest{}, func(string) bool { return true })

	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestStreamMessage_CallbackStopsTransfer(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: first\n")
		flusher.Flush()
		// Hold the stream open; the client should not wait for more.
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	client := NewClient(server.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.StreamMessage(context.Background(), ChatRequest{}, func(chunk string) bool {
			return false // stop after first chunk
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("StreamMessage = %v, want nil after callback stop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StreamMessage did not return after callback stop")
	}
}

func TestStreamMessage_ContextCancel(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: partial\n")
		flusher.Flush()
		close(started)
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(server.URL)

	done := make(chan error, 1)
	go func() {
		done <- client.StreamMessage(ctx, ChatRequest{}, func(string) bool { return true })
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StreamMessage did not return after cancel")
	}
}

func TestStreamMessage_ContextDeadline(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: slow\n")
		flusher.Flush()
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL)
	err := client.StreamMessage(ctx, ChatRequest{}, func(string) bool { return true })

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestHandleErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantIs     error
		wantStatus int
	}{
		{
			name:   "401 json body",
			status: 401,
			body:   `{"error":{"message":"expired"}}`,
			wantIs: ErrUnauthorized,
		},
		{
			name:   "401 plain body",
			status: 401,
			body:   "nope",
			wantIs: ErrUnauthorized,
		},
		{
			name:   "429",
			status: 429,
			body:   `{"error":{"message":"slow down"}}`,
			wantIs: ErrRateLimited,
		},
		{
			name:       "500 typed",
			status:     500,
			body:       `{"error":{"message":"internal"}}`,
			wantStatus: 500,
		},
		{
			name:       "503 plain",
			status:     503,
			body:       "maintenance",
			wantStatus: 503,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := handleErrorResponse(tc.status, []byte(tc.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Errorf("err = %v, want errors.Is(%v)", err, tc.wantIs)
			}
			if tc.wantStatus != 0 {
				var httpErr *HTTPError
				if !errors.As(err, &httpErr) {
					t.Fatalf("err = %v, want *HTTPError", err)
				}
				if httpErr.Status != tc.wantStatus {
					t.Errorf("Status = %d, want %d", httpErr.Status, tc.wantStatus)
				}
			}
		})
	}
}

func TestStreamError_Message(t *testing.T) {
	err := &StreamError{Message: "Error: overloaded"}
	if !strings.Contains(err.Error(), "Error: overloaded") {
		t.Errorf("Error() = %q, want message included", err.Error())
	}
}
