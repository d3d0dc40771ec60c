// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// # Description
//
// InputReader enables mocking of stdin in unit tests. The production
// implementations wrap bufio.Reader or bubbletea; the test implementation
// returns predetermined inputs.
//
// # Outputs
//
// ReadLine returns the line read (trimmed) and any error.
// Returns io.EOF when input is exhausted.
type InputReader interface {
	// ReadLine reads a single line of input. Blocks until input is
	// available. Returns io.EOF when the input source is exhausted.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by input readers that display their
// own prompt (the interactive bubbletea reader). The chat runner checks for
// this interface to avoid double-prompting.
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string to display before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader implements InputReader over os.Stdin via bufio.Reader.
// Used for piped input and non-TTY environments.
//
// Not thread-safe. Single reader per stdin.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads until newline and returns the trimmed line.
// Returns io.EOF when stdin closes.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// InteractiveInputReader implements InputReader with history navigation.
//
// # Description
//
// InteractiveInputReader uses charmbracelet/bubbletea for an input line
// with up/down history navigation and standard line editing. History is
// in-memory only and capped at maxHistory entries.
//
// Falls back to StdinReader for non-TTY environments (piped input, CI).
//
// # Limitations
//
//   - Not thread-safe. Single reader per stdin.
//   - History is not persisted across sessions.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	eof          bool
}

// NewInteractiveInputReader creates an interactive input reader with
// history. If stdin is not a TTY it returns a StdinReader instead.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt implements PromptingInputReader. The prompt is rendered by the
// bubbletea textinput component.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine displays the prompt and reads one line.
//
// Keys: up/down navigate history, Enter submits, Ctrl+C clears the current
// input, Ctrl+D on an empty line returns io.EOF. Non-empty submissions are
// added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	// Render on stderr so piped stdout stays clean.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.eof {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) addToHistory(input string) {
	// Skip duplicates of the most recent entry
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Clear input and return empty
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			if m.textInput.Value() == "" {
				m.eof = true
				m.done = true
				return m, tea.Quit
			}

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			// Save current input when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Back to the in-progress input
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader implements InputReader for tests: returns the inputs in
// order, then io.EOF. Not thread-safe.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a MockInputReader with predetermined inputs.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next predetermined input, io.EOF when exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// isExitCommand reports whether the input ends the session.
// Case-sensitive; input must already be trimmed.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
