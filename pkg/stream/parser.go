// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the SSE reassembly layer of the chat pipeline.
//
// This file contains the framing parser, which converts an arbitrarily
// chunked byte stream into discrete SSE records.
//
// Single Responsibility:
//
//	The parser ONLY frames. It performs no I/O, no JSON decoding, and no
//	event interpretation. Byte-level chunking must be invisible in its
//	output: feeding the same byte sequence split at any boundaries yields
//	the identical record sequence.
package stream

import "strings"

// =============================================================================
// Records
// =============================================================================

// Record is one framed SSE record: the event type in effect when the data
// line was seen (empty when the server never sent an "event:" line) and the
// raw data payload, untouched by JSON decoding.
type Record struct {
	Event string
	Data  string
}

// doneSentinel is the literal payload that terminates a stream.
const doneSentinel = "[DONE]"

// =============================================================================
// Parser
// =============================================================================

// Parser reassembles SSE records from a chunked byte stream.
//
// # Description
//
// Parser maintains a pending partial line across Feed calls: the text after
// the last newline of a chunk is held back and prefixed onto the next chunk,
// so a record is never emitted from an incomplete line.
//
// Line handling:
//
//   - "event: <type>" sets the current event type for subsequent data lines.
//   - "data: <payload>" emits one Record carrying the trimmed payload.
//   - A blank line is an event delimiter and resets the current event type.
//   - ": <comment>" and any other unrecognized line are ignored (not errors).
//   - A data payload equal to "[DONE]" terminates the stream; nothing after
//     it is emitted.
//
// # Thread Safety
//
// Parser is stateful and NOT safe for concurrent use. One parser serves one
// stream.
type Parser struct {
	pending string
	event   string
	done    bool
}

// NewParser creates a framing parser for one stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns the records completed by it.
//
// Returns nil when the chunk completed no record. After the terminator has
// been seen, Feed returns nil for all further input.
func (p *Parser) Feed(chunk []byte) []Record {
	if p.done || len(chunk) == 0 {
		return nil
	}

	p.pending += string(chunk)
	lines := strings.Split(p.pending, "\n")
	p.pending = lines[len(lines)-1] // last line may be incomplete
	lines = lines[:len(lines)-1]

	var records []Record
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			p.event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := cutPrefix(line, "event:"); ok {
			p.event = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := cutPrefix(line, "data:"); ok {
			payload := strings.TrimSpace(rest)
			if payload == doneSentinel {
				p.done = true
				break
			}
			if payload == "" {
				continue
			}
			records = append(records, Record{Event: p.event, Data: payload})
			continue
		}
		// Neither event: nor data: — ignored by contract.
	}
	return records
}

// Done reports whether the stream terminator has been seen. Any buffered
// partial line is discarded once the parser is done.
func (p *Parser) Done() bool {
	return p.done
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
