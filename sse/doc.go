// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the chat service's line-oriented streaming protocol.
//
// The wire format is a stream of text lines. Lines prefixed with "data: "
// carry a payload; all other lines are comments or keepalives and are
// ignored. A payload is a reply fragment, the terminal sentinel "[DONE]",
// or an in-band error ("Error: ..." or "Request timeout").
//
// The decoder is incremental: input may arrive in chunks split at arbitrary
// byte boundaries, including mid-line, and the decoded event sequence is
// identical regardless of how the stream was chunked. Decode is the pure
// step function; Decoder is the stateful per-stream wrapper.
//
//	dec := sse.NewDecoder()
//	for chunk := range chunks {
//	    for _, ev := range dec.Feed(chunk) {
//	        switch ev.Type {
//	        case sse.EventFragment:
//	            // append ev.Text to the reply
//	        case sse.EventDone:
//	            // reply complete
//	        case sse.EventInlineError:
//	            // server-reported failure, ev.Text explains
//	        }
//	    }
//	}
package sse
