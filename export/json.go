// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/streamchat/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter renders conversations to JSON.
//
// NOTE: JSON exports always include the complete conversation and ignore the
// content toggles, so the document is a faithful record. Content is captured
// through the display accessor, which also covers a message still streaming
// at snapshot time.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter. The options parameter is
// accepted for consistency with the other exporters.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// conversationDocument is the exported JSON shape.
type conversationDocument struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExportedAt time.Time         `json:"exported_at"`
	Messages   []messageDocument `json:"messages"`
}

type messageDocument struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Fragments  int   `json:"fragments,omitempty"`
	TTFTMs     int64 `json:"ttft_ms,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Export renders a conversation to indented JSON.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}

	doc := conversationDocument{
		ID:         conv.ID,
		Title:      conv.GetTitle(),
		CreatedAt:  conv.CreatedAt,
		UpdatedAt:  conv.UpdatedAt,
		ExportedAt: time.Now(),
		Messages:   make([]messageDocument, 0, len(conv.Messages)),
	}

	for _, msg := range conv.Messages {
		doc.Messages = append(doc.Messages, messageDocument{
			ID:         msg.ID,
			Role:       string(msg.Role),
			Content:    msg.GetDisplayContent(),
			Timestamp:  msg.Timestamp,
			Fragments:  msg.FragmentCount,
			TTFTMs:     msg.TTFT.Milliseconds(),
			DurationMs: msg.TotalDuration.Milliseconds(),
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
