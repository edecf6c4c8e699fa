// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth owns the credential lifecycle for the chat service: initial
// acquisition, proactive refresh before expiry, reactive re-authentication
// after a rejection, and persistence across restarts.
//
// # Key Types
//
//   - Credential: immutable token/session/expiry triple; replaced wholesale
//     on refresh
//   - CredentialStore: persists the credential under three fixed keys with
//     absent-or-fully-populated load semantics
//   - Manager: the single writer of the current credential; serializes
//     authentication attempts and rate-limits them
//
// # Usage
//
//	manager := auth.NewManager(client, store,
//		auth.WithAuthFailureHandler(func(message string, retry func()) {
//			// surface message to the user; call retry() on their request
//		}))
//	if err := manager.Initialize(ctx); err != nil {
//		// not authenticated yet; the failure handler has the retry
//	}
//
// Before opening a transfer, callers run manager.CheckExpiry(ctx) so a turn
// never starts on a credential about to lapse. Authentication failures are
// surfaced once and retried only on explicit user action.
package auth
