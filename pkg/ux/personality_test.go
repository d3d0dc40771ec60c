// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		input string
		want  PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"f", PersonalityFull},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
		{"MACHINE", PersonalityMachine},
		{"garbage", PersonalityFull},
		{"", PersonalityFull},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePersonalityLevel(tt.input))
		})
	}
}

func TestSetPersonalityLevel(t *testing.T) {
	original := GetPersonality()
	defer SetPersonality(original)

	SetPersonalityLevel(PersonalityMachine)
	assert.Equal(t, PersonalityMachine, GetPersonality().Level)

	SetPersonalityLevel(PersonalityFull)
	assert.Equal(t, PersonalityFull, GetPersonality().Level)
}

func TestInitPersonality_EnvOverride(t *testing.T) {
	original := GetPersonality()
	defer SetPersonality(original)

	t.Setenv("OMNICHAT_PERSONALITY", "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonality().Level)
}

func TestShouldShowProgress(t *testing.T) {
	original := GetPersonality()
	defer SetPersonality(original)

	SetPersonalityLevel(PersonalityFull)
	assert.True(t, ShouldShowProgress())

	SetPersonalityLevel(PersonalityMachine)
	assert.False(t, ShouldShowProgress())
}
