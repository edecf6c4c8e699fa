// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered chat history.
//
// Invariants:
//   - Messages only grow by appending; order never changes.
//   - At most one message is streaming at any time, and it is always the
//     last element of Messages.
//
// Conversation is not safe for concurrent use. The owning session serializes
// all mutations.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// maxMessages overrides MaxMessages when positive.
	maxMessages int
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        generateConversationID(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message to the conversation.
// Any previously streaming message is finalized first so that a streaming
// message is only ever the last element.
func (c *Conversation) AddMessage(msg *Message) {
	if last := c.GetLastMessage(); last != nil && last.IsStreaming {
		last.FinalizeStream(nil)
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// AddUserMessage creates and appends a final user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage creates and appends a streaming assistant message.
func (c *Conversation) AddAssistantMessage() *Message {
	msg := NewAssistantMessage()
	c.AddMessage(msg)
	return msg
}

// GetLastMessage returns the most recent message, or nil if empty.
func (c *Conversation) GetLastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// GetLastUserMessage returns the most recent user message.
func (c *Conversation) GetLastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// ActiveMessage returns the streaming message, or nil if none is streaming.
func (c *Conversation) ActiveMessage() *Message {
	last := c.GetLastMessage()
	if last != nil && last.IsStreaming {
		return last
	}
	return nil
}

// AppendToActive appends a reply fragment to the streaming message with the
// given ID. Returns false if no streaming message with that ID exists.
func (c *Conversation) AppendToActive(id, fragment string) bool {
	active := c.ActiveMessage()
	if active == nil || active.ID != id {
		return false
	}
	active.AppendFragment(fragment)
	c.UpdatedAt = time.Now()
	return true
}

// SetActiveContent replaces the content of the streaming message with the
// given ID. Returns false if no streaming message with that ID exists.
func (c *Conversation) SetActiveContent(id, content string) bool {
	active := c.ActiveMessage()
	if active == nil || active.ID != id {
		return false
	}
	active.SetContent(content)
	c.UpdatedAt = time.Now()
	return true
}

// FinalizeActive finalizes the streaming message with the given ID.
// Returns false if no streaming message with that ID exists.
func (c *Conversation) FinalizeActive(id string, stats *Statistics) bool {
	active := c.ActiveMessage()
	if active == nil || active.ID != id {
		return false
	}
	active.FinalizeStream(stats)
	c.UpdatedAt = time.Now()
	return true
}

// ClearHistory removes all messages from the conversation.
func (c *Conversation) ClearHistory() {
	c.Messages = make([]*Message, 0)
	c.UpdatedAt = time.Now()
}

// GetMessageByID returns a message by its ID.
func (c *Conversation) GetMessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// GetHistory returns the message history for display.
func (c *Conversation) GetHistory() []*Message {
	return c.Messages
}

// Clone returns a deep copy of the conversation. Streaming messages are
// captured at their current content.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:          c.ID,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Messages:    make([]*Message, len(c.Messages)),
		maxMessages: c.maxMessages,
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle auto-generates a title from the first user message if not set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}

	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.UpdatedAt = time.Now()
}

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}

	first := c.GetLastUserMessage()
	if first == nil {
		first = c.Messages[0]
	}

	return first.Preview(100)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}

// SetMaxMessages overrides the retained history size. Values below one fall
// back to MaxMessages. Shrinking the cap prunes immediately.
func (c *Conversation) SetMaxMessages(n int) {
	c.maxMessages = n
	c.pruneOldMessages()
}

// messageCap returns the effective history limit.
func (c *Conversation) messageCap() int {
	if c.maxMessages > 0 {
		return c.maxMessages
	}
	return MaxMessages
}

// pruneOldMessages drops the oldest messages once the history exceeds the
// cap. The streaming tail, if any, is always retained.
func (c *Conversation) pruneOldMessages() {
	limit := c.messageCap()
	if len(c.Messages) <= limit {
		return
	}
	start := len(c.Messages) - limit
	c.Messages = append(make([]*Message, 0, limit), c.Messages[start:]...)
}
