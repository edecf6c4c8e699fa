// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies a decoded protocol event.
type EventType int

const (
	// EventFragment carries a piece of reply text.
	EventFragment EventType = iota
	// EventDone signals normal end of the reply stream.
	EventDone
	// EventInlineError signals a server-reported error delivered in-band.
	EventInlineError
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventFragment:
		return "fragment"
	case EventDone:
		return "done"
	case EventInlineError:
		return "inline_error"
	default:
		return "unknown"
	}
}

// Event is a single decoded protocol event.
//
// For EventFragment, Text is the reply fragment. For EventInlineError, Text
// is the server's error payload. For EventDone, Text is empty.
type Event struct {
	Type EventType
	Text string
}

// Terminal returns true if no further events can follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventInlineError
}
