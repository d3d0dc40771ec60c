// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

func TestAccumulator_TextFoldsLeft(t *testing.T) {
	// Applying fragments one at a time equals applying their concatenation.
	fragments := []string{"Hel", "lo", ", ", "world"}

	var piecewise accumulator
	for _, f := range fragments {
		piecewise.apply(datatypes.TextDelta(f))
	}

	var once accumulator
	once.apply(datatypes.TextDelta(strings.Join(fragments, "")))

	assert.Equal(t, once.content, piecewise.content)
}

func TestAccumulator_ContentGrowsMonotonically(t *testing.T) {
	var acc accumulator
	var snapshots []string

	for _, d := range []datatypes.Delta{
		datatypes.TextDelta("one "),
		datatypes.ReasoningDelta("thinking"),
		datatypes.TextDelta("two "),
		datatypes.MetadataDelta(&datatypes.GroundingMetadata{}, nil),
		datatypes.TextDelta("three"),
	} {
		acc.apply(d)
		snapshots = append(snapshots, acc.content)
	}

	for i := 1; i < len(snapshots); i++ {
		assert.True(t, strings.HasPrefix(snapshots[i], snapshots[i-1]),
			"snapshot %d is not an extension of snapshot %d", i, i-1)
	}
	assert.Equal(t, "one two three", acc.content)
	assert.Equal(t, "thinking", acc.reasoning)
}

func TestAccumulator_UpdateTouchesOnlyChangedFields(t *testing.T) {
	var acc accumulator

	upd := acc.apply(datatypes.TextDelta("hi"))
	require.NotNil(t, upd.Content)
	assert.Nil(t, upd.ReasoningContent)
	assert.Nil(t, upd.GroundingMetadata)

	upd = acc.apply(datatypes.ReasoningDelta("because"))
	assert.Nil(t, upd.Content)
	require.NotNil(t, upd.ReasoningContent)

	upd = acc.apply(datatypes.MetadataDelta(nil, &datatypes.URLContextMetadata{}))
	assert.Nil(t, upd.Content)
	assert.Nil(t, upd.GroundingMetadata)
	assert.NotNil(t, upd.URLContextMetadata)
}

func TestAccumulator_ErrorAppendsToContent(t *testing.T) {
	var acc accumulator
	acc.apply(datatypes.TextDelta("partial"))
	acc.apply(datatypes.ErrorDelta("overloaded"))
	assert.Equal(t, "partial\n\nError: overloaded", acc.content)

	var empty accumulator
	empty.apply(datatypes.ErrorDelta("failed"))
	assert.Equal(t, "Error: failed", empty.content)
}

func TestAccumulator_EndIsANoOp(t *testing.T) {
	var acc accumulator
	acc.apply(datatypes.TextDelta("done"))
	upd := acc.apply(datatypes.EndDelta())
	assert.True(t, upd.Empty())
	assert.Equal(t, "done", acc.content)
}

func TestAccumulator_FunctionCallsAccumulate(t *testing.T) {
	var acc accumulator
	acc.apply(datatypes.FunctionCallDelta(datatypes.FunctionCall{Name: "a"}))
	upd := acc.apply(datatypes.FunctionCallDelta(datatypes.FunctionCall{Name: "b"}))
	require.Len(t, upd.FunctionCalls, 2)
	assert.Equal(t, "a", upd.FunctionCalls[0].Name)
	assert.Equal(t, "b", upd.FunctionCalls[1].Name)
}
