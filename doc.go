// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package streamchat is the client-side core of a streaming chat session.
//
// A Session owns one conversation against the chat service: it sends user
// messages, streams the assistant reply fragment by fragment into the
// conversation, and keeps the bearer credential fresh across expiry and
// rejection. Embedding clients render the conversation and wire user
// actions to StartTurn and CancelTurn; everything between a keypress and a
// finalized reply happens here.
//
// # Subpackages
//
//   - api: HTTP client for the /auth and /chat endpoints
//   - sse: chunk-boundary independent decoder for the streamed line protocol
//   - auth: credential lifecycle (acquire, refresh, persist, re-authenticate)
//   - model: conversation and message data structures
//   - kvstore: pluggable credential persistence (memory, file, encrypted
//     file, SQLite)
//   - config: TOML/JSON configuration with environment overrides
//   - export: conversation export to portable formats
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	session, err := streamchat.NewFromConfig(cfg,
//		streamchat.WithUpdateListener(redraw))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Initialize(ctx); err != nil {
//		// not authenticated; the failure handler has the retry
//	}
//
//	turn, err := session.StartTurn(ctx, "hello")
//	if err != nil {
//		log.Fatal(err)
//	}
//	<-turn.Done()
//
// At most one turn is in flight per session. Starting a new turn supersedes
// the previous one; its partial reply stays in the conversation. Cancelling
// a turn is not an error: the fragments received so far are kept.
package streamchat
