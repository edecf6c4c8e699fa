// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import "strings"

// STREAMING: Chunk-boundary independent protocol decoding

// =============================================================================
// PROTOCOL CONSTANTS
// =============================================================================

const (
	// dataMarker prefixes every meaningful protocol line.
	dataMarker = "data: "

	// doneSentinel marks normal end of stream.
	doneSentinel = "[DONE]"

	// errorMarker prefixes an in-band server error payload.
	errorMarker = "Error:"

	// timeoutSentinel is the literal payload servers send on gateway timeout.
	timeoutSentinel = "Request timeout"
)

// MaxLineSize is the maximum allowed length of a single protocol line (64KB).
// A line that grows beyond this without a break is discarded rather than
// buffered without bound.
const MaxLineSize = 64 * 1024

// =============================================================================
// DECODE STATE
// =============================================================================

// State carries decoder state between feeds.
//
// The zero value is ready to use. State is a small value type so that Decode
// can be a pure step function: callers thread the returned State into the
// next call.
type State struct {
	// pending holds the trailing bytes of the input that do not yet form a
	// complete line.
	pending string

	// terminated is set once a Done or InlineError event has been emitted.
	// All further input is ignored.
	terminated bool

	// oversized is set while discarding the remainder of a line that
	// exceeded MaxLineSize.
	oversized bool
}

// Terminated returns true once a terminal event has been decoded.
func (s State) Terminated() bool {
	return s.terminated
}

// =============================================================================
// PURE DECODE STEP
// =============================================================================

// Decode processes newly received text and returns the successor state plus
// the decoded events in arrival order.
//
// Decode is a pure function of (state, chunk): feeding the same byte stream
// split at any chunk boundaries yields the same event sequence. Incomplete
// trailing lines are carried in the returned State until their line break
// arrives. Malformed lines are silently discarded, never errors.
func Decode(st State, chunk string) (State, []Event) {
	if st.terminated || chunk == "" {
		return st, nil
	}

	parts := strings.Split(st.pending+chunk, "\n")
	last := len(parts) - 1

	var events []Event
	i := 0
	if st.oversized {
		if last == 0 {
			// Still inside the oversized line; keep discarding.
			st.pending = ""
			return st, nil
		}
		// First complete part is the tail of the oversized line.
		st.oversized = false
		i = 1
	}

	// All elements before the last are complete lines. The last element is
	// incomplete or belongs to a future chunk and becomes the new pending
	// buffer.
	for ; i < last; i++ {
		line := parts[i]
		if len(line) > MaxLineSize {
			continue
		}
		ev, ok := decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Terminal() {
			// The stream is logically over even if bytes remain.
			st.terminated = true
			st.pending = ""
			st.oversized = false
			return st, events
		}
	}

	st.pending = parts[last]
	if len(st.pending) > MaxLineSize {
		st.pending = ""
		st.oversized = true
	}
	return st, events
}

// decodeLine classifies one complete protocol line.
// Returns ok=false for lines that carry no event (comments, keepalives,
// unknown fields).
func decodeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	if !strings.HasPrefix(line, dataMarker) {
		return Event{}, false
	}
	payload := line[len(dataMarker):]
	trimmed := strings.TrimSpace(payload)

	switch {
	case trimmed == doneSentinel:
		return Event{Type: EventDone}, true
	case trimmed == "":
		return Event{}, false
	case strings.HasPrefix(trimmed, errorMarker) || trimmed == timeoutSentinel:
		return Event{Type: EventInlineError, Text: trimmed}, true
	default:
		return Event{Type: EventFragment, Text: payload}, true
	}
}

// =============================================================================
// STATEFUL DECODER
// =============================================================================

// Decoder is a stateful wrapper around Decode for one stream.
//
// It supports two feeding modes. Feed takes only the newly received bytes.
// FeedTotal takes the entire response received so far and computes the delta
// itself, for transports that redeliver the cumulative body on every progress
// notification. The two modes must not be mixed on one Decoder.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	state    State
	consumed int
}

// NewDecoder returns a decoder ready for a new stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed decodes newly received text and returns events in arrival order.
func (d *Decoder) Feed(chunk string) []Event {
	st, events := Decode(d.state, chunk)
	d.state = st
	return events
}

// FeedTotal decodes from the cumulative response text received so far.
//
// The consumed cursor is advanced before any event is returned so that a
// re-entrant progress notification cannot double-decode the same bytes.
func (d *Decoder) FeedTotal(cumulative string) []Event {
	if len(cumulative) <= d.consumed {
		return nil
	}
	chunk := cumulative[d.consumed:]
	d.consumed = len(cumulative)

	st, events := Decode(d.state, chunk)
	d.state = st
	return events
}

// Terminated returns true once a Done or InlineError event has been decoded.
func (d *Decoder) Terminated() bool {
	return d.state.Terminated()
}

// Reset returns the decoder to its initial state for a new stream.
func (d *Decoder) Reset() {
	d.state = State{}
	d.consumed = 0
}
