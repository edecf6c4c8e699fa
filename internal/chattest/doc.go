// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chattest runs a scripted in-process chat service for tests.
//
// The service speaks the same wire protocol as the production endpoint:
// POST /auth issues bearer credentials and POST /chat streams a reply as
// "data:" lines ending in a [DONE] sentinel. Replies are scripted per test
// with Fragment, Done, InlineError, and Hang steps, and the token lifecycle
// can be forced through failure and revocation controls.
//
// # Usage
//
//	svc := chattest.NewService()
//	defer svc.Close()
//
//	svc.QueueScript(
//		chattest.Fragment("Hello"),
//		chattest.Fragment(" world"),
//		chattest.Done(),
//	)
//
//	client := api.NewClient(svc.URL())
//	// ... drive the client against the scripted reply
package chattest
