// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

func groundedMetadata() *datatypes.GroundingMetadata {
	return &datatypes.GroundingMetadata{
		GroundingChunks: []datatypes.GroundingChunk{
			{Web: &datatypes.GroundingWeb{URI: "https://example.com/a", Title: "Example A"}},
		},
		GroundingSupports: []datatypes.GroundingSupport{
			{
				Segment:               datatypes.GroundingSegment{EndIndex: 5},
				GroundingChunkIndices: []int{0},
			},
		},
	}
}

func TestMachineRenderer_AccumulatesAnswer(t *testing.T) {
	var buf bytes.Buffer
	r := NewMachineDeltaRenderer(&buf)

	r.OnDelta(datatypes.TextDelta("Hel"))
	r.OnDelta(datatypes.TextDelta("lo"))
	r.OnDelta(datatypes.EndDelta())
	r.Finalize()

	result := r.Result()
	assert.Equal(t, "Hello", result.Answer)
	assert.Contains(t, buf.String(), "ANSWER: Hello")
	assert.False(t, result.FirstByteAt.IsZero())
}

func TestMachineRenderer_SeparatesReasoning(t *testing.T) {
	var buf bytes.Buffer
	r := NewMachineDeltaRenderer(&buf)

	r.OnDelta(datatypes.ReasoningDelta("thinking..."))
	r.OnDelta(datatypes.TextDelta("answer"))
	r.Finalize()

	result := r.Result()
	assert.Equal(t, "answer", result.Answer)
	assert.Equal(t, "thinking...", result.Reasoning)
	assert.NotContains(t, result.Answer, "thinking")
}

func TestMachineRenderer_InjectsCitations(t *testing.T) {
	var buf bytes.Buffer
	r := NewMachineDeltaRenderer(&buf)

	r.OnDelta(datatypes.TextDelta("Hello world"))
	r.OnDelta(datatypes.MetadataDelta(groundedMetadata(), nil))
	r.Finalize()

	result := r.Result()
	assert.Contains(t, result.Answer, "[[1]](https://example.com/a)")
	assert.True(t, strings.HasPrefix(result.Answer, "Hello"))
	assert.Contains(t, buf.String(), "SOURCE: https://example.com/a")
}

func TestMachineRenderer_Error(t *testing.T) {
	var buf bytes.Buffer
	r := NewMachineDeltaRenderer(&buf)

	r.OnDelta(datatypes.TextDelta("partial"))
	r.OnDelta(datatypes.ErrorDelta("model overloaded"))
	r.Finalize()

	result := r.Result()
	assert.Equal(t, "partial", result.Answer)
	assert.Equal(t, "model overloaded", result.Err)
	assert.Contains(t, buf.String(), "ERROR: model overloaded")
}

func TestMachineRenderer_FinalizeIdempotent(t *testing.T) {
	var buf bytes.Buffer
	r := NewMachineDeltaRenderer(&buf)

	r.OnDelta(datatypes.TextDelta("once"))
	r.Finalize()
	r.Finalize()

	assert.Equal(t, 1, strings.Count(buf.String(), "ANSWER: once"))
}

func TestTerminalRenderer_StreamsText(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalDeltaRenderer(&buf, Personality{Level: PersonalityMachine})

	r.OnDelta(datatypes.TextDelta("Hel"))
	r.OnDelta(datatypes.TextDelta("lo"))
	r.Finalize()

	assert.Contains(t, buf.String(), "Hello")
	assert.Equal(t, "Hello", r.Result().Answer)
}

func TestTerminalRenderer_ReasoningHidden(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalDeltaRenderer(&buf, Personality{Level: PersonalityMachine, ShowReasoning: false})

	r.OnDelta(datatypes.ReasoningDelta("secret trace"))
	r.OnDelta(datatypes.TextDelta("visible"))
	r.Finalize()

	assert.NotContains(t, buf.String(), "secret trace")
	assert.Equal(t, "secret trace", r.Result().Reasoning)
}

func TestTerminalRenderer_SourceFootnotes(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalDeltaRenderer(&buf, Personality{Level: PersonalityMachine})

	r.OnDelta(datatypes.TextDelta("Hello world"))
	r.OnDelta(datatypes.MetadataDelta(groundedMetadata(), nil))
	r.Finalize()

	out := buf.String()
	assert.Contains(t, out, "Example A")
	assert.Contains(t, out, "https://example.com/a")
}

func TestTerminalRenderer_FunctionCall(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalDeltaRenderer(&buf, Personality{Level: PersonalityMachine})

	r.OnDelta(datatypes.FunctionCallDelta(datatypes.FunctionCall{Name: "get_weather"}))
	r.Finalize()

	result := r.Result()
	require.Len(t, result.FunctionCalls, 1)
	assert.Equal(t, "get_weather", result.FunctionCalls[0].Name)
	assert.Contains(t, buf.String(), "get_weather")
}

func TestBufferRenderer_CollectsDeltas(t *testing.T) {
	r := NewBufferDeltaRenderer()

	r.OnDelta(datatypes.TextDelta("a"))
	r.OnDelta(datatypes.ReasoningDelta("b"))
	r.OnDelta(datatypes.EndDelta())
	r.Finalize()

	deltas := r.Deltas()
	require.Len(t, deltas, 3)
	assert.Equal(t, datatypes.DeltaText, deltas[0].Kind)
	assert.Equal(t, datatypes.DeltaEnd, deltas[2].Kind)
	assert.Equal(t, "a", r.Result().Answer)
	assert.Equal(t, "b", r.Result().Reasoning)
}
