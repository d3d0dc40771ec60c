// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	chat "github.com/omnichat-app/omnichat/services/chat/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes the gateway's outgoing stream in the plain
// OpenAI-compatible shape, one SSE record per event, flushed immediately.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the keep-alive ticker
// writes from its own goroutine while the relay loop emits deltas.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteDelta emits one normalized delta as a plain-shape chunk.
	// Metadata deltas become standalone metadata records; error deltas
	// become a single error payload.
	WriteDelta(d chat.Delta) error

	// WriteError emits an error payload mid-stream.
	WriteError(message string) error

	// WriteDone emits the [DONE] terminator. Nothing may be written after.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment to keep intermediaries from
	// closing an idle connection. Comments are invisible to clients.
	WriteKeepAlive() error
}

// =============================================================================
// Wire Shapes
// =============================================================================

type outDelta struct {
	Content          string              `json:"content,omitempty"`
	ReasoningContent string              `json:"reasoning_content,omitempty"`
	FunctionCalls    []chat.FunctionCall `json:"function_calls,omitempty"`
}

type outChoice struct {
	Delta outDelta `json:"delta"`
	Index int      `json:"index"`
}

type outChunk struct {
	Choices            []outChoice              `json:"choices,omitempty"`
	GroundingMetadata  *chat.GroundingMetadata  `json:"groundingMetadata,omitempty"`
	URLContextMetadata *chat.URLContextMetadata `json:"urlContextMetadata,omitempty"`
	Error              *outError                `json:"error,omitempty"`
}

type outError struct {
	Message string `json:"message"`
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter wraps a ResponseWriter. It fails when the writer cannot
// flush, since unflushed SSE defeats the point of streaming.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteDelta(d chat.Delta) error {
	switch d.Kind {
	case chat.DeltaText:
		return w.writeChunk(outChunk{Choices: []outChoice{{Delta: outDelta{Content: d.Text}}}})
	case chat.DeltaReasoning:
		return w.writeChunk(outChunk{Choices: []outChoice{{Delta: outDelta{ReasoningContent: d.Text}}}})
	case chat.DeltaFunctionCall:
		if d.Call == nil {
			return nil
		}
		return w.writeChunk(outChunk{Choices: []outChoice{{Delta: outDelta{FunctionCalls: []chat.FunctionCall{*d.Call}}}}})
	case chat.DeltaMetadata:
		return w.writeChunk(outChunk{GroundingMetadata: d.Grounding, URLContextMetadata: d.URLContext})
	case chat.DeltaError:
		return w.WriteError(d.Message)
	default:
		// End is expressed by WriteDone, not as a chunk.
		return nil
	}
}

func (w *sseWriter) WriteError(message string) error {
	return w.writeChunk(outChunk{Error: &outError{Message: message}})
}

func (w *sseWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) writeChunk(chunk outChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers for an SSE stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
