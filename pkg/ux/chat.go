// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderConfig contains configuration for displaying the chat header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header display.
// This allows extending the header with new fields without breaking existing
// callers of the Header() method.
//
// # Fields
//
//   - Model: Required. The model generating responses (e.g. "gemini-2.5-flash").
//   - Provider: Required. The upstream provider name (gemini, openai, openrouter).
//   - ChatTitle: Title of the resumed chat. Empty for a new chat.
//   - Thinking: True when a reasoning trace will be streamed.
//   - Tools: Names of enabled tools (search, urlContext, ...). May be empty.
type HeaderConfig struct {
	Model     string
	Provider  string
	ChatTitle string
	Thinking  bool
	Tools     []string
}

// SessionStats aggregates metrics from a chat session for display.
//
// # Fields
//
//   - MessageCount: Number of user messages sent
//   - Duration: Total session duration
//   - FirstResponseLatency: Time to first byte of the first response
type SessionStats struct {
	MessageCount         int
	Duration             time.Duration
	FirstResponseLatency time.Duration
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header with model and configuration.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Error displays a chat error message
	Error(err error)

	// Cancelled displays a notice that the in-flight response was cancelled.
	Cancelled()

	// SessionEnd displays session end information with stats.
	SessionEnd(stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header.
func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		u.headerMachine(config)
	case PersonalityMinimal:
		u.headerMinimal(config)
	default:
		u.headerFull(config)
	}
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	parts := []string{
		fmt.Sprintf("provider=%s", config.Provider),
		fmt.Sprintf("model=%s", config.Model),
	}
	if config.ChatTitle != "" {
		parts = append(parts, fmt.Sprintf("chat=%q", config.ChatTitle))
	}
	if config.Thinking {
		parts = append(parts, "thinking=on")
	}
	if len(config.Tools) > 0 {
		parts = append(parts, fmt.Sprintf("tools=%s", strings.Join(config.Tools, ",")))
	}
	u.write("CHAT_START: %s\n", strings.Join(parts, " "))
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	u.write("%s via %s\n", config.Model, config.Provider)
	if config.ChatTitle != "" {
		u.write("Resuming: %s\n", config.ChatTitle)
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	content.WriteString(Styles.Highlight.Render("OmniChat"))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Model: %s %s",
		Styles.Success.Render(config.Model),
		Styles.Muted.Render("("+config.Provider+")")))

	if config.ChatTitle != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Chat: %s", Styles.Subtitle.Render(config.ChatTitle)))
	}

	var flags []string
	if config.Thinking {
		flags = append(flags, "thinking")
	}
	flags = append(flags, config.Tools...)
	if len(flags) > 0 {
		content.WriteString("\n")
		content.WriteString(Styles.Muted.Render(strings.Join(flags, " | ")))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end, Ctrl-C to cancel a response."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(err.Error()))
}

// Cancelled displays a notice that the in-flight response was cancelled.
func (u *terminalChatUI) Cancelled() {
	if u.personality == PersonalityMachine {
		u.writeln("CANCELLED")
		return
	}
	u.writeln()
	u.writeln(Styles.Muted.Render("(response cancelled)"))
}

// SessionEnd displays session end information with stats.
func (u *terminalChatUI) SessionEnd(stats *SessionStats) {
	if u.personality == PersonalityMachine {
		if stats != nil {
			u.write("CHAT_END: messages=%d duration=%s\n",
				stats.MessageCount, stats.Duration.Round(time.Second))
		} else {
			u.writeln("CHAT_END")
		}
		return
	}

	u.writeln()
	if stats != nil && stats.MessageCount > 0 {
		line := fmt.Sprintf("%d messages in %s",
			stats.MessageCount, stats.Duration.Round(time.Second))
		if stats.FirstResponseLatency > 0 {
			line += fmt.Sprintf(", first response in %s",
				stats.FirstResponseLatency.Round(time.Millisecond))
		}
		u.writeln(Styles.Muted.Render(line))
	}
	u.writeln(Styles.Subtitle.Render("Goodbye."))
}

// Compile-time interface check
var _ ChatUI = (*terminalChatUI)(nil)
