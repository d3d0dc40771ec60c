// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package normalize maps provider-specific stream records onto the small
// closed set of normalized delta events.
//
// Single Responsibility:
//
//	The normalizer ONLY interprets record payloads. It performs no I/O and
//	no state mutation; ordering is preserved trivially because each record
//	maps to zero or more events returned in place.
//
// Resilience Contract:
//
//	A payload that fails to decode is dropped for that record only — the
//	stream continues. Every drop is counted (Prometheus) and logged at
//	debug level; nothing is discarded silently.
package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/omnichat-app/omnichat/pkg/stream"
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/observability"
)

// =============================================================================
// Wire Shapes
// =============================================================================

// plainDelta is the per-choice delta of the OpenAI-compatible shape.
type plainDelta struct {
	Content          string                   `json:"content"`
	ReasoningContent string                   `json:"reasoning_content"`
	FunctionCalls    []datatypes.FunctionCall `json:"function_calls"`
}

// plainChunk is the OpenAI-compatible stream chunk. The metadata fields
// cover the metadata-only records the gateway emits alongside deltas.
type plainChunk struct {
	Choices []struct {
		Delta        plainDelta `json:"delta"`
		Index        int        `json:"index"`
		FinishReason *string    `json:"finish_reason"`
	} `json:"choices"`
	Error              json.RawMessage               `json:"error"`
	GroundingMetadata  *datatypes.GroundingMetadata  `json:"groundingMetadata"`
	URLContextMetadata *datatypes.URLContextMetadata `json:"urlContextMetadata"`
}

// geminiPart is one content part of a native Gemini chunk.
type geminiPart struct {
	Text         string                  `json:"text"`
	Thought      bool                    `json:"thought"`
	FunctionCall *datatypes.FunctionCall `json:"functionCall"`
}

// geminiChunk is the native Gemini SSE chunk shape.
type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		GroundingMetadata  *datatypes.GroundingMetadata  `json:"groundingMetadata"`
		URLContextMetadata *datatypes.URLContextMetadata `json:"urlContextMetadata"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// Normalizer
// =============================================================================

// Normalizer converts framed SSE records into normalized delta events.
//
// # Description
//
// Normalize branches on an explicit ProviderShape rather than probing the
// payload: each shape decodes into its own struct, and anything that fits
// neither the shape nor the metadata-only form normalizes to no events.
// Whitespace-only text fields emit nothing (no empty appends).
//
// # Thread Safety
//
// Normalizer is stateless apart from metrics and safe for concurrent use.
type Normalizer struct {
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Normalizer. Both arguments may be nil; nil metrics disables
// counting and nil logger falls back to slog.Default().
func New(metrics *observability.Metrics, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{metrics: metrics, logger: logger}
}

// Normalize maps one record to zero or more delta events, in order.
//
// # Inputs
//
//   - rec: A framed SSE record with a raw JSON payload.
//   - shape: The provider shape to decode against.
//   - provider: Provider name, used only for metrics labels.
//
// # Outputs
//
//   - []datatypes.Delta: The events the record yields; nil for empty,
//     unrecognized, or undecodable records. Never an error — per-record
//     decode failures are swallowed by contract.
func (n *Normalizer) Normalize(rec stream.Record, shape datatypes.ProviderShape, provider string) []datatypes.Delta {
	var deltas []datatypes.Delta

	switch shape {
	case datatypes.ShapePlain:
		deltas = n.normalizePlain(rec, provider)
	case datatypes.ShapeGemini:
		deltas = n.normalizeGemini(rec, provider)
	default:
		n.logger.Debug("unknown provider shape", "shape", string(shape))
		return nil
	}

	if n.metrics != nil {
		for _, d := range deltas {
			n.metrics.DeltasTotal.WithLabelValues(provider, string(d.Kind)).Inc()
		}
	}
	return deltas
}

func (n *Normalizer) normalizePlain(rec stream.Record, provider string) []datatypes.Delta {
	var chunk plainChunk
	if err := json.Unmarshal([]byte(rec.Data), &chunk); err != nil {
		n.swallow(provider, rec, err)
		return nil
	}

	// Metadata-only records are standalone updates, never merged into text.
	if chunk.GroundingMetadata != nil || chunk.URLContextMetadata != nil {
		return []datatypes.Delta{datatypes.MetadataDelta(chunk.GroundingMetadata, chunk.URLContextMetadata)}
	}

	if len(chunk.Error) > 0 {
		return []datatypes.Delta{datatypes.ErrorDelta(decodeErrorMessage(chunk.Error))}
	}

	if len(chunk.Choices) == 0 {
		return nil
	}
	delta := chunk.Choices[0].Delta

	var out []datatypes.Delta
	// Both text channels may appear in one record; both are forwarded,
	// answer text first.
	if strings.TrimSpace(delta.Content) != "" {
		out = append(out, datatypes.TextDelta(delta.Content))
	}
	if strings.TrimSpace(delta.ReasoningContent) != "" {
		out = append(out, datatypes.ReasoningDelta(delta.ReasoningContent))
	}
	for _, call := range delta.FunctionCalls {
		if call.Name == "" {
			continue
		}
		out = append(out, datatypes.FunctionCallDelta(call))
	}
	return out
}

func (n *Normalizer) normalizeGemini(rec stream.Record, provider string) []datatypes.Delta {
	var chunk geminiChunk
	if err := json.Unmarshal([]byte(rec.Data), &chunk); err != nil {
		n.swallow(provider, rec, err)
		return nil
	}

	if chunk.Error != nil && chunk.Error.Message != "" {
		return []datatypes.Delta{datatypes.ErrorDelta(chunk.Error.Message)}
	}

	if len(chunk.Candidates) == 0 {
		return nil
	}
	candidate := chunk.Candidates[0]

	var out []datatypes.Delta
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil && part.FunctionCall.Name != "":
			out = append(out, datatypes.FunctionCallDelta(*part.FunctionCall))
		case part.Thought:
			if strings.TrimSpace(part.Text) != "" {
				out = append(out, datatypes.ReasoningDelta(part.Text))
			}
		case strings.TrimSpace(part.Text) != "":
			out = append(out, datatypes.TextDelta(part.Text))
		}
	}

	if candidate.GroundingMetadata != nil || candidate.URLContextMetadata != nil {
		out = append(out, datatypes.MetadataDelta(candidate.GroundingMetadata, candidate.URLContextMetadata))
	}
	return out
}

// swallow records a dropped payload without aborting the stream.
func (n *Normalizer) swallow(provider string, rec stream.Record, err error) {
	if n.metrics != nil {
		n.metrics.SwallowedRecordsTotal.WithLabelValues(provider).Inc()
	}
	n.logger.Debug("swallowed undecodable stream record",
		"provider", provider,
		"event", rec.Event,
		"payload_bytes", len(rec.Data),
		"error", err,
	)
}

// decodeErrorMessage extracts a human-readable message from an error field
// that may be either a bare string or an object with a message property.
func decodeErrorMessage(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Message != "" {
		return asObject.Message
	}
	return string(raw)
}
