// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// Error variables for common chat service errors.
var (
	// ErrNotConfigured indicates the service base URL is not set.
	ErrNotConfigured = errors.New("chat service not configured")

	// ErrUnauthorized indicates the service rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// HTTPError represents a non-200 response from the chat service.
type HTTPError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat service error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat service error (HTTP %d)", e.Status)
}

// StreamError represents an error the server reported inside an open stream,
// after the HTTP status was already 200.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}
