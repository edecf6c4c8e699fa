// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strings"
	"testing"
)

// collectAll feeds the whole input as one chunk and returns the events.
func collectAll(t *testing.T, input string) []Event {
	t.Helper()
	dec := NewDecoder()
	return dec.Feed(input)
}

// =============================================================================
// BASIC DECODING TESTS
// =============================================================================

func TestDecode_FragmentThenDone(t *testing.T) {
	events := collectAll(t, "data: Hello\ndata: [DONE]\n")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Type != EventFragment || events[0].Text != "Hello" {
		t.Errorf("events[0] = %+v, want Fragment(Hello)", events[0])
	}
	if events[1].Type != EventDone {
		t.Errorf("events[1] = %+v, want Done", events[1])
	}
}

func TestDecode_MultipleFragments(t *testing.T) {
	events := collectAll(t, "data: one\ndata: two\ndata: three\n")

	want := []string{"one", "two", "three"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Type != EventFragment || events[i].Text != w {
			t.Errorf("events[%d] = %+v, want Fragment(%q)", i, events[i], w)
		}
	}
}

func TestDecode_NonDataLinesDiscarded(t *testing.T) {
	input := ": keepalive\n" +
		"event: ping\n" +
		"id: 42\n" +
		"random noise\n" +
		"data: real\n"

	events := collectAll(t, input)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Type != EventFragment || events[0].Text != "real" {
		t.Errorf("events[0] = %+v, want Fragment(real)", events[0])
	}
}

func TestDecode_EmptyPayloadDiscarded(t *testing.T) {
	events := collectAll(t, "data: \ndata:  \ndata: text\n")

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Text != "text" {
		t.Errorf("events[0].Text = %q, want %q", events[0].Text, "text")
	}
}

func TestDecode_IncompleteLineHeldBack(t *testing.T) {
	dec := NewDecoder()

	events := dec.Feed("data: par")
	if len(events) != 0 {
		t.Fatalf("incomplete line emitted %d events: %v", len(events), events)
	}

	events = dec.Feed("tial\n")
	if len(events) != 1 {
		t.Fatalf("got %d events after completing line, want 1", len(events))
	}
	if events[0].Text != "partial" {
		t.Errorf("events[0].Text = %q, want %q", events[0].Text, "partial")
	}
}

func TestDecode_TrailingIncompleteLineNeverEmitted(t *testing.T) {
	events := collectAll(t, "data: done\ndata: never finished")

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Text != "done" {
		t.Errorf("events[0].Text = %q, want %q", events[0].Text, "done")
	}
}

func TestDecode_CRLFLines(t *testing.T) {
	events := collectAll(t, "data: windows\r\ndata: [DONE]\r\n")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Text != "windows" {
		t.Errorf("events[0].Text = %q, want %q", events[0].Text, "windows")
	}
	if events[1].Type != EventDone {
		t.Errorf("events[1] = %+v, want Done", events[1])
	}
}

func TestDecode_PreservesInteriorSpacing(t *testing.T) {
	events := collectAll(t, "data:  leading and trailing \n")

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Text != " leading and trailing " {
		t.Errorf("events[0].Text = %q, payload spacing should be preserved", events[0].Text)
	}
}

// =============================================================================
// TERMINAL EVENT TESTS
// =============================================================================

func TestDecode_DoneStopsProcessing(t *testing.T) {
	events := collectAll(t, "data: first\ndata: [DONE]\ndata: after\n")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[1].Type != EventDone {
		t.Errorf("events[1] = %+v, want Done", events[1])
	}
}

func TestDecode_FeedAfterDoneIgnored(t *testing.T) {
	dec := NewDecoder()
	dec.Feed("data: [DONE]\n")

	if !dec.Terminated() {
		t.Fatal("decoder should be terminated after [DONE]")
	}

	events := dec.Feed("data: late\n")
	if len(events) != 0 {
		t.Errorf("terminated decoder emitted events: %v", events)
	}
}

func TestDecode_InlineError(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "error marker",
			input:   "data: Error: model overloaded\n",
			wantMsg: "Error: model overloaded",
		},
		{
			name:    "timeout sentinel",
			input:   "data: Request timeout\n",
			wantMsg: "Request timeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder()
			events := dec.Feed(tc.input)

			if len(events) != 1 {
				t.Fatalf("got %d events, want 1: %v", len(events), events)
			}
			if events[0].Type != EventInlineError {
				t.Fatalf("events[0].Type = %v, want EventInlineError", events[0].Type)
			}
			if events[0].Text != tc.wantMsg {
				t.Errorf("events[0].Text = %q, want %q", events[0].Text, tc.wantMsg)
			}
			if !dec.Terminated() {
				t.Error("inline error should terminate the decoder")
			}
		})
	}
}

func TestDecode_InlineErrorStopsProcessing(t *testing.T) {
	events := collectAll(t, "data: ok\ndata: Error: boom\ndata: more\n")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[1].Type != EventInlineError {
		t.Errorf("events[1] = %+v, want InlineError", events[1])
	}
}

func TestDecode_ErrorMarkerMidPayloadNotTerminal(t *testing.T) {
	// The error marker only counts at the start of a payload.
	events := collectAll(t, "data: see the Error: below\ndata: next\n")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	for i, ev := range events {
		if ev.Type != EventFragment {
			t.Errorf("events[%d].Type = %v, want EventFragment", i, ev.Type)
		}
	}
}

// =============================================================================
// CHUNK-BOUNDARY INDEPENDENCE TESTS
// =============================================================================

// feedInPieces feeds input split into the given piece sizes, cycling the
// sizes until the input is exhausted, and returns all decoded events.
func feedInPieces(input string, sizes []int) []Event {
	dec := NewDecoder()
	var events []Event
	for i, s := 0, 0; i < len(input); s++ {
		n := sizes[s%len(sizes)]
		end := i + n
		if end > len(input) {
			end = len(input)
		}
		events = append(events, dec.Feed(input[i:end])...)
		i = end
	}
	return events
}

func eventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecode_ChunkBoundaryIndependence(t *testing.T) {
	input := ": hello\n" +
		"data: The \n" +
		"data: quick \n" +
		"data: brown fox\n" +
		"data: \n" +
		"id: 7\n" +
		"data: jumps over\n" +
		"data: [DONE]\n" +
		"data: ignored tail\n"

	whole := feedInPieces(input, []int{len(input)})

	splits := [][]int{
		{1},
		{2},
		{3},
		{7},
		{1, 5},
		{4, 1, 9},
		{len(input) / 2},
	}
	for _, sizes := range splits {
		got := feedInPieces(input, sizes)
		if !eventsEqual(got, whole) {
			t.Errorf("split %v: events differ\n got: %v\nwant: %v", sizes, got, whole)
		}
	}
}

func TestDecode_EverySplitPointMatches(t *testing.T) {
	input := "data: ab\ndata: Error: bad\ndata: cd\n"
	whole := feedInPieces(input, []int{len(input)})

	// Feed as two chunks split at every possible byte boundary.
	for cut := 0; cut <= len(input); cut++ {
		dec := NewDecoder()
		var got []Event
		got = append(got, dec.Feed(input[:cut])...)
		got = append(got, dec.Feed(input[cut:])...)
		if !eventsEqual(got, whole) {
			t.Errorf("cut at %d: events differ\n got: %v\nwant: %v", cut, got, whole)
		}
	}
}

func TestDecode_PureStepSharesNoState(t *testing.T) {
	st := State{}
	st1, ev1 := Decode(st, "data: x\n")

	// Running the same step again from the same input state repeats the result.
	st2, ev2 := Decode(st, "data: x\n")
	if !eventsEqual(ev1, ev2) {
		t.Errorf("same input state produced different events: %v vs %v", ev1, ev2)
	}
	if st1 != st2 {
		t.Errorf("same input state produced different states: %+v vs %+v", st1, st2)
	}
}

// =============================================================================
// CUMULATIVE FEED TESTS
// =============================================================================

func TestFeedTotal_ComputesDelta(t *testing.T) {
	dec := NewDecoder()

	events := dec.FeedTotal("data: Hel")
	if len(events) != 0 {
		t.Fatalf("incomplete line emitted events: %v", events)
	}

	events = dec.FeedTotal("data: Hello\n")
	if len(events) != 1 || events[0].Text != "Hello" {
		t.Fatalf("got %v, want [Fragment(Hello)]", events)
	}

	events = dec.FeedTotal("data: Hello\ndata: [DONE]\n")
	if len(events) != 1 || events[0].Type != EventDone {
		t.Fatalf("got %v, want [Done]", events)
	}
}

func TestFeedTotal_RedeliveryProducesNothing(t *testing.T) {
	dec := NewDecoder()
	dec.FeedTotal("data: once\n")

	// Same cumulative text again: cursor already past it.
	events := dec.FeedTotal("data: once\n")
	if len(events) != 0 {
		t.Errorf("redelivered cumulative text emitted events: %v", events)
	}
}

func TestFeedTotal_MatchesDeltaFeeding(t *testing.T) {
	input := "data: a\ndata: b\n: comment\ndata: [DONE]\n"

	delta := NewDecoder()
	var deltaEvents []Event
	for i := 0; i < len(input); i++ {
		deltaEvents = append(deltaEvents, delta.Feed(input[i:i+1])...)
	}

	total := NewDecoder()
	var totalEvents []Event
	for end := 1; end <= len(input); end++ {
		totalEvents = append(totalEvents, total.FeedTotal(input[:end])...)
	}

	if !eventsEqual(deltaEvents, totalEvents) {
		t.Errorf("delta and cumulative feeding disagree\n delta: %v\n total: %v", deltaEvents, totalEvents)
	}
}

// =============================================================================
// OVERSIZED LINE TESTS
// =============================================================================

func TestDecode_OversizedLineDiscarded(t *testing.T) {
	long := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n"
	input := long + "data: after\n"

	events := collectAll(t, input)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), len(events))
	}
	if events[0].Text != "after" {
		t.Errorf("events[0].Text = %q, want %q", events[0].Text, "after")
	}
}

func TestDecode_OversizedLineDiscardedAcrossChunks(t *testing.T) {
	long := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n"
	input := long + "data: after\n"

	// Feed in small chunks so the pending buffer crosses the cap mid-line.
	got := feedInPieces(input, []int{4096})
	whole := feedInPieces(input, []int{len(input)})

	if !eventsEqual(got, whole) {
		t.Errorf("oversized handling broke chunk independence\n got: %v\nwant: %v", got, whole)
	}
	if len(got) != 1 || got[0].Text != "after" {
		t.Errorf("got %v, want [Fragment(after)]", got)
	}
}

// =============================================================================
// RESET TESTS
// =============================================================================

func TestDecoder_Reset(t *testing.T) {
	dec := NewDecoder()
	dec.Feed("data: [DONE]\n")
	if !dec.Terminated() {
		t.Fatal("decoder should be terminated")
	}

	dec.Reset()

	if dec.Terminated() {
		t.Error("reset decoder should not be terminated")
	}
	events := dec.Feed("data: fresh\n")
	if len(events) != 1 || events[0].Text != "fresh" {
		t.Errorf("got %v, want [Fragment(fresh)]", events)
	}
}
