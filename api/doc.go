// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the chat service.
//
// The service exposes two endpoints. POST /auth issues a bearer credential
// as {token, session_id, expires_at}. POST /chat takes one message plus the
// credential and answers with a streamed line-protocol body (see package
// sse). A 401 on either endpoint means the credential was rejected.
//
// # Key Types
//
//   - Client: HTTP client with pooled transports and per-request IDs
//   - AuthResponse: credential issued by POST /auth
//   - ChatRequest: body of a POST /chat request
//   - HTTPError, StreamError: typed failures for status and in-band errors
//
// # Usage
//
// Authenticate, then stream a reply:
//
//	client := api.NewClient(baseURL)
//	cred, err := client.Authenticate(ctx)
//	...
//	err = client.StreamMessage(ctx, api.ChatRequest{
//	    Message:   "Hello",
//	    Token:     cred.Token,
//	    SessionID: cred.SessionID,
//	}, func(chunk string) bool {
//	    // feed chunk to the decoder
//	    return true
//	})
//
// # Security
//
// Credentials are never logged; requests are correlated by X-Request-Id.
// Unary responses are size-limited and all requests use TLS 1.2+.
package api
