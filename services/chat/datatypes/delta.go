// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Provider Shapes
// =============================================================================

// ProviderShape identifies the wire shape of a provider's stream records.
// The normalizer branches on this instead of probing unknown payloads.
type ProviderShape string

const (
	// ShapePlain is the OpenAI-compatible chunk shape:
	// {"choices":[{"delta":{"content":..,"reasoning_content":..},"index":0}]}
	ShapePlain ProviderShape = "plain"

	// ShapeGemini is the native Gemini SSE chunk shape:
	// {"candidates":[{"content":{"parts":[..]},"groundingMetadata":..}]}
	ShapeGemini ProviderShape = "gemini"
)

// =============================================================================
// Normalized Delta Events
// =============================================================================

// DeltaKind tags the variant of a Delta.
type DeltaKind string

const (
	// DeltaText is an incremental fragment of the answer text.
	DeltaText DeltaKind = "text"

	// DeltaReasoning is an incremental fragment of the thinking trace.
	DeltaReasoning DeltaKind = "reasoning"

	// DeltaFunctionCall is a structured tool invocation emitted mid-stream.
	DeltaFunctionCall DeltaKind = "function_call"

	// DeltaMetadata attaches grounding and/or URL-context metadata. It is a
	// standalone update and must never be merged into text.
	DeltaMetadata DeltaKind = "metadata"

	// DeltaEnd marks successful stream completion. No further events for the
	// same message are accepted after it.
	DeltaEnd DeltaKind = "end"

	// DeltaError is an explicit mid-stream error from the provider. It
	// terminates the session; content accumulated so far is preserved.
	DeltaError DeltaKind = "error"
)

// Delta is the normalized, provider-agnostic event exchanged between the
// stream reassembler/normalizer and the merge stage.
//
// # Description
//
// Delta is a tagged union over the closed set of event kinds above. Exactly
// the fields implied by Kind are populated:
//
//   - DeltaText, DeltaReasoning: Text
//   - DeltaFunctionCall: Call
//   - DeltaMetadata: Grounding and/or URLContext (at least one non-nil)
//   - DeltaError: Message
//   - DeltaEnd: no payload
//
// # Ordering
//
// Events for a given message must be applied in emission order;
// out-of-order application would corrupt accumulated text.
type Delta struct {
	Kind       DeltaKind
	Text       string
	Call       *FunctionCall
	Grounding  *GroundingMetadata
	URLContext *URLContextMetadata
	Message    string
}

// TextDelta builds a DeltaText event.
func TextDelta(text string) Delta { return Delta{Kind: DeltaText, Text: text} }

// ReasoningDelta builds a DeltaReasoning event.
func ReasoningDelta(text string) Delta { return Delta{Kind: DeltaReasoning, Text: text} }

// FunctionCallDelta builds a DeltaFunctionCall event.
func FunctionCallDelta(call FunctionCall) Delta {
	return Delta{Kind: DeltaFunctionCall, Call: &call}
}

// MetadataDelta builds a DeltaMetadata event.
func MetadataDelta(g *GroundingMetadata, u *URLContextMetadata) Delta {
	return Delta{Kind: DeltaMetadata, Grounding: g, URLContext: u}
}

// EndDelta builds a DeltaEnd event.
func EndDelta() Delta { return Delta{Kind: DeltaEnd} }

// ErrorDelta builds a DeltaError event.
func ErrorDelta(message string) Delta { return Delta{Kind: DeltaError, Message: message} }

// Terminal reports whether the event ends the stream.
func (d Delta) Terminal() bool {
	return d.Kind == DeltaEnd || d.Kind == DeltaError
}
