// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func useMachinePersonality(t *testing.T) {
	t.Helper()
	original := GetPersonality()
	SetPersonalityLevel(PersonalityMachine)
	t.Cleanup(func() { SetPersonality(original) })
}

func TestSpinner_StartStopMachineMode(t *testing.T) {
	useMachinePersonality(t)

	s := NewSpinner("loading")
	s.Start()
	s.Stop()
	// Stop again must be a no-op, not a double close.
	s.Stop()
}

func TestSpinner_StartStopInteractive(t *testing.T) {
	original := GetPersonality()
	SetPersonalityLevel(PersonalityFull)
	defer SetPersonality(original)

	s := NewSpinner("loading").WithType(SpinnerPulse)
	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.UpdateMessage("still loading")
	s.Stop()
}

func TestWithSpinner_Success(t *testing.T) {
	useMachinePersonality(t)

	called := false
	err := WithSpinner("working", func() error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestWithSpinner_Error(t *testing.T) {
	useMachinePersonality(t)

	wantErr := errors.New("failed")
	err := WithSpinner("working", func() error { return wantErr })

	assert.ErrorIs(t, err, wantErr)
}
