// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: Ordered chat history with at most one streaming message
//   - Message: Single message with role, content, timestamp, and reply metrics
//   - Role: Message role enumeration (user, assistant)
//   - Statistics: Timing information for one streamed reply
//
// # Usage
//
// Create a conversation and stream a reply into it:
//
//	conv := model.NewConversation()
//	conv.AddUserMessage("Hello!")
//	reply := conv.AddAssistantMessage()
//	conv.AppendToActive(reply.ID, "Hi ")
//	conv.AppendToActive(reply.ID, "there!")
//	conv.FinalizeActive(reply.ID, nil)
//
// A streaming message is always the last element of the history, and content
// of a finalized message never changes.
package model
