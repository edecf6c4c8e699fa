// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the chat service.
//
// The service exposes two endpoints: POST /auth issues a bearer credential,
// and POST /chat opens a streaming reply for one message. The streamed body
// uses the line protocol decoded by package sse.
//
// CLOUD: Secure logging, size limits, and validation
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Configuration constants for the chat service API.
const (
	// DefaultBaseURL is the base URL for the chat service.
	DefaultBaseURL = "https://api.streamchat.dev/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size for
	// non-streaming responses.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 1 * 1024 * 1024 // 1MB limit

	// streamReadSize is the buffer size for reading streamed reply bytes.
	streamReadSize = 4 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for auth and other unary requests.
	// SECURITY: TLS verification required for production
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests.
	// No client timeout: the lifetime of a stream is controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// AuthResponse is the body of a successful POST /auth response.
type AuthResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

// ChatRequest is the body of a POST /chat request.
type ChatRequest struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// apiErrorResponse represents an error response body from the service.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChunkFunc receives raw streamed bytes as they arrive. Returning false stops
// the stream; StreamMessage then returns nil.
type ChunkFunc func(chunk string) bool

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the chat service HTTP API.
type Client struct {
	baseURL      string
	userAgent    string
	timeout      time.Duration
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the service at baseURL.
// An empty baseURL leaves the client unconfigured; requests then fail with
// ErrNotConfigured.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		userAgent:    "streamchat/0.3.0",
		timeout:      DefaultTimeout,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
	}
}

// WithTimeout sets the timeout for non-streaming requests.
// Streaming requests are bounded by their context, not this timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout <= 0 || timeout == c.timeout {
		return c
	}
	c.timeout = timeout

	// The shared pooled client keeps its own timeout; a changed one gets a
	// per-client handle over the same transport.
	cl := *sharedHTTPClient
	cl.Timeout = timeout
	c.httpClient = &cl
	return c
}

// WithUserAgent sets the User-Agent header sent on every request.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// IsConfigured returns true if the client has a base URL configured.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// setHeaders sets the headers common to all chat service requests.
// Each request carries a fresh X-Request-Id for server-side correlation.
func (c *Client) setHeaders(req *http.Request) string {
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", requestID)
	return requestID
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate requests a fresh credential from the service.
//
// The request carries no body; identification happens at the transport layer.
// A non-200 status is converted to a typed error (401 maps to ErrUnauthorized).
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := c.setHeaders(req)

	log.Printf("API Request: POST /auth [%s]", requestID)
	start := time.Now()
	// PERFORMANCE: Use shared HTTP client with connection pooling
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, time.Since(start))

	// SECURITY: Read response with size limit to prevent memory exhaustion
	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if authResp.Token == "" || authResp.SessionID == "" || authResp.ExpiresAt <= 0 {
		return nil, fmt.Errorf("auth response missing required fields")
	}

	return &authResp, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamMessage opens a streaming reply for one message.
//
// The raw body bytes are delivered to onChunk as they arrive, in order.
// onChunk returning false stops the transfer early and StreamMessage returns
// nil; the stream end (EOF) also returns nil. The context bounds the whole
// transfer: cancel it to abort, attach a deadline to cap transfer time.
//
// A non-200 status is converted to a typed error before any chunk is
// delivered (401 maps to ErrUnauthorized).
func (c *Client) StreamMessage(ctx context.Context, chatReq ChatRequest, onChunk ChunkFunc) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(chatReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	log.Printf("API Request: POST /chat [%s]", requestID)
	// PERFORMANCE: Use shared streaming client with connection pooling
	// (timeout handled via context)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Printf("API Response: %d %s [%s]", resp.StatusCode, resp.Status, requestID)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return handleErrorResponse(resp.StatusCode, body)
	}

	return c.readStream(ctx, resp.Body, onChunk)
}

// readStream delivers body bytes to onChunk until EOF, context end, or the
// callback asking to stop.
func (c *Client) readStream(ctx context.Context, body io.Reader, onChunk ChunkFunc) error {
	buf := make([]byte, streamReadSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if !onChunk(string(buf[:n])) {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// =============================================================================
// RESPONSE HANDLING
// =============================================================================

// readResponse reads the response body with size limits.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error.Message)
		default:
			return &HTTPError{Status: statusCode, Message: apiErr.Error.Message}
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &HTTPError{Status: statusCode, Message: strings.TrimSpace(string(body))}
	}
}
