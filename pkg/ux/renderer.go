// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the OmniChat CLI.
//
// This file contains delta renderers that display normalized stream events
// to various outputs (terminal, buffer).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP. Each
//	method handles exactly one event kind, enabling clean composition with
//	the stream reader and normalizer.
//
// Renderer Types:
//
//   - TerminalDeltaRenderer: Interactive terminal with spinner and colors
//   - MachineDeltaRenderer: Machine-readable KEY: value format
//   - BufferDeltaRenderer: In-memory buffer for testing
package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

// =============================================================================
// Delta Renderer Interface
// =============================================================================

// StreamResult is the aggregated outcome of one rendered stream.
type StreamResult struct {
	// Answer is the accumulated answer text, with citations injected when
	// grounding metadata arrived.
	Answer string

	// Reasoning is the accumulated thinking trace.
	Reasoning string

	// Grounding is the last grounding metadata seen, if any.
	Grounding *datatypes.GroundingMetadata

	// URLContext is the last URL-context metadata seen, if any.
	URLContext *datatypes.URLContextMetadata

	// FunctionCalls are the tool invocations emitted during the stream.
	FunctionCalls []datatypes.FunctionCall

	// Err is the mid-stream provider error message, empty on success.
	Err string

	// FirstByteAt is when the first delta arrived (zero if none did).
	FirstByteAt time.Time
}

// DeltaRenderer renders normalized stream deltas to an output destination.
//
// Lifecycle:
//
//  1. Create with New*DeltaRenderer()
//  2. Call OnDelta as events arrive
//  3. Call Finalize() when the stream ends (always, even on error)
//  4. Call Result() for the aggregate
//
// Implementations are safe for concurrent OnDelta calls.
type DeltaRenderer interface {
	// OnDelta renders one normalized event.
	OnDelta(d datatypes.Delta)

	// Finalize flushes pending output (spinner teardown, trailing newline,
	// citation footnotes). Idempotent.
	Finalize()

	// Result returns the aggregated stream result. Valid after Finalize.
	Result() StreamResult
}

// =============================================================================
// Terminal Renderer
// =============================================================================

// terminalDeltaRenderer streams answer text as it arrives, shows the
// reasoning trace dimmed, and appends citation footnotes at the end.
type terminalDeltaRenderer struct {
	writer        io.Writer
	personality   Personality
	spinner       *Spinner
	mu            sync.Mutex
	result        StreamResult
	answer        strings.Builder
	reasoning     strings.Builder
	inReasoning   bool
	finalized     bool
	spinnerActive bool
}

// NewTerminalDeltaRenderer creates a renderer for interactive terminal use.
// A spinner runs until the first delta arrives.
func NewTerminalDeltaRenderer(w io.Writer, p Personality) DeltaRenderer {
	r := &terminalDeltaRenderer{
		writer:      w,
		personality: p,
	}
	if p.Level != PersonalityMachine {
		r.spinner = NewSpinner("waiting for response")
		r.spinner.Start()
		r.spinnerActive = true
	}
	return r
}

func (r *terminalDeltaRenderer) OnDelta(d datatypes.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result.FirstByteAt.IsZero() {
		r.result.FirstByteAt = time.Now()
	}
	r.stopSpinnerLocked()

	switch d.Kind {
	case datatypes.DeltaText:
		r.answer.WriteString(d.Text)
		if r.inReasoning {
			// Close the dimmed block before answer text resumes.
			fmt.Fprintln(r.writer)
			r.inReasoning = false
		}
		fmt.Fprint(r.writer, d.Text)

	case datatypes.DeltaReasoning:
		r.reasoning.WriteString(d.Text)
		if r.personality.ShowReasoning {
			r.inReasoning = true
			fmt.Fprint(r.writer, Styles.Reasoning.Render(d.Text))
		}

	case datatypes.DeltaFunctionCall:
		if d.Call != nil {
			r.result.FunctionCalls = append(r.result.FunctionCalls, *d.Call)
			fmt.Fprintf(r.writer, "\n%s %s\n",
				Styles.Highlight.Render(string(IconSpark)),
				Styles.Subtitle.Render("calling "+d.Call.Name))
		}

	case datatypes.DeltaMetadata:
		if d.Grounding != nil {
			r.result.Grounding = d.Grounding
		}
		if d.URLContext != nil {
			r.result.URLContext = d.URLContext
		}

	case datatypes.DeltaError:
		r.result.Err = d.Message
		fmt.Fprintf(r.writer, "\n%s %s\n", IconError.Render(), Styles.Error.Render(d.Message))

	case datatypes.DeltaEnd:
		// Finalize handles output termination.
	}
}

func (r *terminalDeltaRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinnerLocked()

	r.result.Answer = datatypes.AddCitations(r.answer.String(), r.result.Grounding)
	r.result.Reasoning = r.reasoning.String()

	if r.answer.Len() > 0 && !strings.HasSuffix(r.answer.String(), "\n") {
		fmt.Fprintln(r.writer)
	}
	r.printSourcesLocked()
}

func (r *terminalDeltaRenderer) Result() StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *terminalDeltaRenderer) stopSpinnerLocked() {
	if r.spinnerActive {
		r.spinner.Stop()
		r.spinnerActive = false
	}
}

// printSourcesLocked writes a numbered footnote list of grounding sources.
func (r *terminalDeltaRenderer) printSourcesLocked() {
	md := r.result.Grounding
	if md == nil || len(md.GroundingChunks) == 0 {
		return
	}

	fmt.Fprintf(r.writer, "\n%s\n", Styles.Subtitle.Render("Sources"))
	for i, chunk := range md.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = chunk.Web.URI
		}
		fmt.Fprintf(r.writer, "  %s [%d] %s %s\n",
			Styles.Muted.Render(string(IconBullet)),
			i+1,
			title,
			Styles.Muted.Render(chunk.Web.URI))
	}

	if r.result.URLContext != nil {
		for _, u := range r.result.URLContext.URLMetadata {
			fmt.Fprintf(r.writer, "  %s %s %s\n",
				Styles.Muted.Render(string(IconArrow)),
				u.RetrievedURL,
				Styles.Muted.Render(u.URLRetrievalStatus))
		}
	}
}

// =============================================================================
// Machine Renderer
// =============================================================================

// machineDeltaRenderer buffers everything and prints KEY: value lines on
// Finalize, suitable for piping and scripting.
type machineDeltaRenderer struct {
	writer    io.Writer
	mu        sync.Mutex
	result    StreamResult
	answer    strings.Builder
	reasoning strings.Builder
	finalized bool
}

// NewMachineDeltaRenderer creates a renderer for non-interactive output.
func NewMachineDeltaRenderer(w io.Writer) DeltaRenderer {
	return &machineDeltaRenderer{writer: w}
}

func (r *machineDeltaRenderer) OnDelta(d datatypes.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result.FirstByteAt.IsZero() {
		r.result.FirstByteAt = time.Now()
	}

	switch d.Kind {
	case datatypes.DeltaText:
		r.answer.WriteString(d.Text)
	case datatypes.DeltaReasoning:
		r.reasoning.WriteString(d.Text)
	case datatypes.DeltaFunctionCall:
		if d.Call != nil {
			r.result.FunctionCalls = append(r.result.FunctionCalls, *d.Call)
		}
	case datatypes.DeltaMetadata:
		if d.Grounding != nil {
			r.result.Grounding = d.Grounding
		}
		if d.URLContext != nil {
			r.result.URLContext = d.URLContext
		}
	case datatypes.DeltaError:
		r.result.Err = d.Message
	}
}

func (r *machineDeltaRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	r.result.Answer = datatypes.AddCitations(r.answer.String(), r.result.Grounding)
	r.result.Reasoning = r.reasoning.String()

	if r.result.Answer != "" {
		fmt.Fprintf(r.writer, "ANSWER: %s\n", r.result.Answer)
	}
	for _, call := range r.result.FunctionCalls {
		fmt.Fprintf(r.writer, "CALL: %s\n", call.Name)
	}
	if md := r.result.Grounding; md != nil {
		for _, chunk := range md.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				fmt.Fprintf(r.writer, "SOURCE: %s\n", chunk.Web.URI)
			}
		}
	}
	if r.result.Err != "" {
		fmt.Fprintf(r.writer, "ERROR: %s\n", r.result.Err)
	}
}

func (r *machineDeltaRenderer) Result() StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// =============================================================================
// Buffer Renderer
// =============================================================================

// bufferDeltaRenderer collects deltas without writing anywhere. For tests.
type bufferDeltaRenderer struct {
	mu        sync.Mutex
	deltas    []datatypes.Delta
	result    StreamResult
	answer    strings.Builder
	reasoning strings.Builder
	finalized bool
}

// NewBufferDeltaRenderer creates an in-memory renderer for testing.
func NewBufferDeltaRenderer() *bufferDeltaRenderer {
	return &bufferDeltaRenderer{}
}

func (r *bufferDeltaRenderer) OnDelta(d datatypes.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result.FirstByteAt.IsZero() {
		r.result.FirstByteAt = time.Now()
	}
	r.deltas = append(r.deltas, d)

	switch d.Kind {
	case datatypes.DeltaText:
		r.answer.WriteString(d.Text)
	case datatypes.DeltaReasoning:
		r.reasoning.WriteString(d.Text)
	case datatypes.DeltaFunctionCall:
		if d.Call != nil {
			r.result.FunctionCalls = append(r.result.FunctionCalls, *d.Call)
		}
	case datatypes.DeltaMetadata:
		if d.Grounding != nil {
			r.result.Grounding = d.Grounding
		}
		if d.URLContext != nil {
			r.result.URLContext = d.URLContext
		}
	case datatypes.DeltaError:
		r.result.Err = d.Message
	}
}

func (r *bufferDeltaRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.result.Answer = datatypes.AddCitations(r.answer.String(), r.result.Grounding)
	r.result.Reasoning = r.reasoning.String()
}

func (r *bufferDeltaRenderer) Result() StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Deltas returns all collected deltas in arrival order.
func (r *bufferDeltaRenderer) Deltas() []datatypes.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datatypes.Delta, len(r.deltas))
	copy(out, r.deltas)
	return out
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ DeltaRenderer = (*terminalDeltaRenderer)(nil)
	_ DeltaRenderer = (*machineDeltaRenderer)(nil)
	_ DeltaRenderer = (*bufferDeltaRenderer)(nil)
)
