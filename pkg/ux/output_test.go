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

func TestIcon_Render(t *testing.T) {
	// Styled icons still contain the glyph after rendering.
	assert.Contains(t, IconSuccess.Render(), "✓")
	assert.Contains(t, IconWarning.Render(), "⚠")
	assert.Contains(t, IconError.Render(), "✗")
	assert.Contains(t, IconPending.Render(), "○")
	assert.Equal(t, "→", IconArrow.Render())
}

func TestStyles_RenderText(t *testing.T) {
	// lipgloss may strip colors in a non-TTY environment; the text itself
	// must always survive.
	assert.Contains(t, Styles.Title.Render("hello"), "hello")
	assert.Contains(t, Styles.Reasoning.Render("trace"), "trace")
	assert.Contains(t, Styles.Error.Render("boom"), "boom")
}
