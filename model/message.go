// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// A message is either final or streaming. A streaming message accumulates
// reply fragments as they arrive and is finalized exactly once, after which
// its content never changes.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Streaming state
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`

	// Reply metrics (assistant messages)
	FragmentCount int           `json:"fragment_count,omitempty"`
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
}

// NewUserMessage creates a final user message with a generated ID.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates a new assistant message in streaming state.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          generateID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendFragment appends a reply fragment to a streaming message.
// It has no effect once the message is final.
func (m *Message) AppendFragment(fragment string) {
	if m.IsStreaming {
		m.streamContent.WriteString(fragment)
		m.FragmentCount++
	}
}

// SetContent replaces the message content, discarding any accumulated
// streamed fragments. Used to render a terminal error in place of a reply.
func (m *Message) SetContent(content string) {
	m.streamContent.Reset()
	if m.IsStreaming {
		m.streamContent.WriteString(content)
		return
	}
	m.Content = content
}

// FinalizeStream completes streaming and records reply statistics.
// Finalizing an already-final message is a no-op.
func (m *Message) FinalizeStream(stats *Statistics) {
	if !m.IsStreaming {
		return
	}

	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false

	if stats != nil {
		m.TTFT = stats.TTFT
		m.TotalDuration = stats.TotalDuration
	}
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Clone returns a detached copy. A streaming source is captured at its
// current content; later fragments do not reach the clone.
func (m *Message) Clone() *Message {
	clone := &Message{
		ID:            m.ID,
		Role:          m.Role,
		Timestamp:     m.Timestamp,
		IsStreaming:   m.IsStreaming,
		FragmentCount: m.FragmentCount,
		TTFT:          m.TTFT,
		TotalDuration: m.TotalDuration,
	}
	if m.IsStreaming {
		clone.streamContent.WriteString(m.streamContent.String())
	} else {
		clone.Content = m.Content
	}
	return clone
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.GetDisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// FormatStats returns a formatted string of reply statistics.
func (m *Message) FormatStats() string {
	if m.Role != RoleAssistant || m.TotalDuration == 0 {
		return ""
	}

	// Format: "2.5s | 128 fragments | TTFT 234ms"
	totalSec := m.TotalDuration.Seconds()
	ttftMs := m.TTFT.Milliseconds()

	return formatDuration(totalSec) + " | " +
		formatInt(m.FragmentCount) + " fragments | " +
		"TTFT " + formatInt(int(ttftMs)) + "ms"
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing information for one streamed reply.
type Statistics struct {
	StartTime         time.Time
	FirstFragmentTime time.Time
	EndTime           time.Time

	FragmentCount int

	// Derived metrics (computed on Finalize)
	TTFT          time.Duration
	TotalDuration time.Duration
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordFirstFragment records when the first reply fragment was received.
func (s *Statistics) RecordFirstFragment() {
	if s.FirstFragmentTime.IsZero() {
		s.FirstFragmentTime = time.Now()
		s.TTFT = s.FirstFragmentTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize(fragmentCount int) {
	s.EndTime = time.Now()
	s.FragmentCount = fragmentCount
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
}

// Format returns a formatted string of the statistics.
func (s *Statistics) Format() string {
	totalSec := s.TotalDuration.Seconds()
	ttftMs := s.TTFT.Milliseconds()

	return formatDuration(totalSec) + " | " +
		formatInt(s.FragmentCount) + " fragments | " +
		"TTFT " + formatInt(int(ttftMs)) + "ms"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}

// formatInt formats an integer without using fmt.
// Handles negative numbers and zero correctly.
func formatInt(n int) string {
	if n == 0 {
		return "0"
	}

	// math.MinInt64 cannot be negated without overflow
	if n == -9223372036854775808 {
		return "-9223372036854775808"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}

	if negative {
		return "-" + string(digits)
	}
	return string(digits)
}

// formatFloat64 formats a float with one decimal place.
// Truncates rather than rounds; display use only.
func formatFloat64(f float64) string {
	if f != f { // NaN check
		return "NaN"
	}
	if f > 9223372036854775807 {
		return "Inf"
	}
	if f < -9223372036854775808 {
		return "-Inf"
	}

	whole := int(f)

	absF := f
	if f < 0 {
		absF = -f
	}
	absWhole := whole
	if whole < 0 {
		absWhole = -whole
	}
	frac := int((absF - float64(absWhole)) * 10)

	return formatInt(whole) + "." + formatInt(frac)
}

// formatDuration formats seconds as a short duration string.
func formatDuration(seconds float64) string {
	if seconds < 1 {
		ms := int(seconds * 1000)
		return formatInt(ms) + "ms"
	}
	return formatFloat64(seconds) + "s"
}
