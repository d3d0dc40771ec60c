// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the OmniChat CLI. This file implements the
// interactive chat loop: it reads user turns, drives the session
// controller against the local conversation store, and renders the
// streamed reply as deltas arrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/omnichat-app/omnichat/pkg/ux"
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/session"
	"github.com/omnichat-app/omnichat/services/chat/store"
)

// =============================================================================
// ChatRunner
// =============================================================================

// ChatRunner runs the interactive chat loop.
//
// # Description
//
// ChatRunner coordinates the input reader, the session controller, and the
// UI. Each user turn is sent through the controller, which persists both
// sides of the exchange in the store; the reply streams through a
// DeltaRenderer so tokens appear as they arrive. Settings are re-snapshotted
// per turn so a config reload mid-session takes effect on the next message.
//
// Run exits when the user types "exit"/"quit", input hits EOF, or the
// context is cancelled. Ctrl-C during a stream cancels that stream only;
// the loop keeps going with the partial reply persisted. Lines starting
// with "/" are in-session commands: /regen replays the last user turn,
// /edit rewrites a past message by ID.
//
// # Thread Safety
//
// Not designed for concurrent Run() calls. Close() is safe from any
// goroutine.
type ChatRunner struct {
	controller *session.Controller
	store      store.Store
	ui         ux.ChatUI
	input      InputReader

	// snapshot returns the settings for the next turn.
	snapshot func() datatypes.Settings

	// newRenderer builds the per-turn delta renderer.
	newRenderer func() ux.DeltaRenderer

	chatID string
	title  string

	sessionStart time.Time
	stats        ux.SessionStats

	mu     sync.Mutex
	closed bool
}

// ChatRunnerConfig groups the collaborators for NewChatRunner.
//
// # Fields
//
//   - Controller: Required. Drives sends against the store.
//   - Store: Required. Used to create or resolve the chat.
//   - Snapshot: Required. Returns the settings for each turn.
//   - ChatID: Optional. Resume an existing chat; empty creates a new one.
//   - Input: Optional. Defaults to an interactive reader with history.
//   - UI: Optional. Defaults to the terminal UI.
//   - NewRenderer: Optional. Defaults to a terminal delta renderer on stdout.
type ChatRunnerConfig struct {
	Controller  *session.Controller
	Store       store.Store
	Snapshot    func() datatypes.Settings
	ChatID      string
	Input       InputReader
	UI          ux.ChatUI
	NewRenderer func() ux.DeltaRenderer
}

// NewChatRunner creates a chat runner, filling in production defaults for
// any collaborator left nil.
func NewChatRunner(config ChatRunnerConfig) *ChatRunner {
	if config.Input == nil {
		config.Input = NewInteractiveInputReader(50)
	}
	if config.UI == nil {
		config.UI = ux.NewChatUI()
	}
	if config.NewRenderer == nil {
		config.NewRenderer = func() ux.DeltaRenderer {
			p := ux.GetPersonality()
			if p.Level == ux.PersonalityMachine {
				return ux.NewMachineDeltaRenderer(os.Stdout)
			}
			return ux.NewTerminalDeltaRenderer(os.Stdout, p)
		}
	}

	return &ChatRunner{
		controller:  config.Controller,
		store:       config.Store,
		ui:          config.UI,
		input:       config.Input,
		snapshot:    config.Snapshot,
		newRenderer: config.NewRenderer,
		chatID:      config.ChatID,
	}
}

// Run executes the chat loop until exit, EOF, or context cancellation.
//
// # Outputs
//
//   - error: nil on normal exit ("exit"/"quit"/EOF), the context error on
//     shutdown, or a fatal failure (chat resolution, input read).
func (r *ChatRunner) Run(ctx context.Context) error {
	r.sessionStart = time.Now()

	if err := r.resolveChat(ctx); err != nil {
		return err
	}

	settings := r.snapshot()
	r.ui.Header(ux.HeaderConfig{
		Model:     settings.Model,
		Provider:  settings.Provider,
		ChatTitle: r.title,
		Thinking:  settings.Thinking,
		Tools:     enabledTools(settings.Tools),
	})

	for {
		select {
		case <-ctx.Done():
			r.sessionEnd()
			return ctx.Err()
		default:
		}

		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Print(r.ui.Prompt())
		}
		input, err := r.input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.sessionEnd()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}
		if isExitCommand(input) {
			r.sessionEnd()
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := r.handleCommand(ctx, input); err != nil {
				if ctx.Err() != nil {
					r.sessionEnd()
					return ctx.Err()
				}
				r.ui.Error(err)
			}
			continue
		}

		if err := r.handleMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				r.sessionEnd()
				return ctx.Err()
			}
			// Non-fatal: display and keep the loop going.
			r.ui.Error(err)
		}
	}
}

// Cancel aborts the in-flight stream, if any. Wired to SIGINT by the chat
// command so Ctrl-C interrupts the response without ending the session.
func (r *ChatRunner) Cancel() bool {
	return r.controller.Cancel()
}

// ChatID returns the active conversation ID, available after Run resolved
// the chat. Useful for resuming later.
func (r *ChatRunner) ChatID() string {
	return r.chatID
}

// resolveChat creates a new chat or verifies the one being resumed.
func (r *ChatRunner) resolveChat(ctx context.Context) error {
	if r.chatID == "" {
		chat, err := r.store.CreateChat(ctx, "")
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		r.chatID = chat.ID
		return nil
	}

	chat, err := r.store.GetChat(ctx, r.chatID)
	if err != nil {
		return fmt.Errorf("resume chat %s: %w", r.chatID, err)
	}
	if chat.Title != datatypes.DefaultChatTitle {
		r.title = chat.Title
	}
	return nil
}

// handleCommand dispatches an in-session slash command.
//
//	/regen                      replay the last user turn for a fresh reply
//	/edit <message-id> <text>   rewrite a past message in place
func (r *ChatRunner) handleCommand(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/regen":
		return r.handleRegenerate(ctx)
	case "/edit":
		parts := strings.SplitN(input, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return errors.New("usage: /edit <message-id> <new content>")
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse message id %q: %w", parts[1], err)
		}
		if err := r.controller.Edit(ctx, r.chatID, id, parts[2]); err != nil {
			return fmt.Errorf("edit message %d: %w", id, err)
		}
		ux.Success(fmt.Sprintf("Edited message %d", id))
		return nil
	default:
		return fmt.Errorf("unknown command %q (try /regen or /edit)", fields[0])
	}
}

// handleRegenerate re-runs the newest user turn, replacing the trailing
// assistant reply.
func (r *ChatRunner) handleRegenerate(ctx context.Context) error {
	settings := r.snapshot()
	renderer := r.newRenderer()
	sendStart := time.Now()

	result, err := r.controller.Regenerate(ctx, session.RegenerateRequest{
		ChatID:   r.chatID,
		Settings: settings,
		OnDelta:  renderer.OnDelta,
	})
	renderer.Finalize()
	if err != nil {
		return err
	}

	r.accumulateStats(sendStart, renderer.Result())

	if result.Outcome == session.OutcomeCancelled {
		r.ui.Cancelled()
	}
	return nil
}

// handleMessage sends one user turn and renders the streamed reply.
func (r *ChatRunner) handleMessage(ctx context.Context, text string) error {
	settings := r.snapshot()
	renderer := r.newRenderer()
	sendStart := time.Now()

	result, err := r.controller.Send(ctx, session.SendRequest{
		ChatID:   r.chatID,
		Text:     text,
		Settings: settings,
		OnDelta:  renderer.OnDelta,
	})
	renderer.Finalize()
	if err != nil {
		return err
	}

	r.accumulateStats(sendStart, renderer.Result())

	if result.Outcome == session.OutcomeCancelled {
		r.ui.Cancelled()
	}
	return nil
}

// accumulateStats folds a turn's stream result into the session totals.
func (r *ChatRunner) accumulateStats(sendStart time.Time, result ux.StreamResult) {
	r.stats.MessageCount++
	if r.stats.MessageCount == 1 && !result.FirstByteAt.IsZero() {
		r.stats.FirstResponseLatency = result.FirstByteAt.Sub(sendStart)
	}
}

func (r *ChatRunner) sessionEnd() {
	r.stats.Duration = time.Since(r.sessionStart)
	r.ui.SessionEnd(&r.stats)
}

// Close releases runner resources. Idempotent. The store is owned by the
// caller and is not closed here.
func (r *ChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return nil
}

// enabledTools lists the tool names switched on in settings, for the header.
func enabledTools(tools datatypes.ToolSettings) []string {
	var names []string
	if tools.GoogleSearch {
		names = append(names, "search")
	}
	if tools.URLContext {
		names = append(names, "urlContext")
	}
	if tools.CodeExecution {
		names = append(names, "codeExecution")
	}
	if tools.FunctionCalling {
		names = append(names, "functionCalling")
	}
	return names
}
