// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omnichat-app/omnichat/pkg/logging"
	"github.com/omnichat-app/omnichat/pkg/settings"
	"github.com/omnichat-app/omnichat/pkg/ux"
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/session"
)

// runChatCommand starts the interactive chat session against the local
// conversation store.
//
// # Description
//
// Wires the production collaborators: badger-backed store, session
// controller, settings manager with a live-reload watcher, and the
// interactive input reader. SIGINT cancels the in-flight stream only; the
// session ends on "exit", "quit", or EOF.
func runChatCommand(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelWarn,
		Service: "omnichat-cli",
		Quiet:   ux.GetPersonality().Level == ux.PersonalityMachine,
	})
	defer logger.Close()

	st, cleanup, err := openStore(logger.Slog())
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer cleanup()

	// Live settings reload: edits to config.yaml apply on the next turn.
	watcher, err := settings.NewWatcher(settingsManager)
	if err != nil {
		logger.Warn("Settings watcher unavailable", "error", err)
	} else {
		if err := watcher.Start(cmd.Context()); err != nil {
			logger.Warn("Settings watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	controller := session.NewController(st, session.WithLogger(logger.Slog()))

	runner := NewChatRunner(ChatRunnerConfig{
		Controller: controller,
		Store:      st,
		Snapshot:   chatSnapshot,
		ChatID:     chatResume,
	})
	defer runner.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// SIGINT interrupts the response, not the session. A second SIGINT with
	// no stream in flight ends the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if runner.Cancel() {
				continue
			}
			cancel()
			return
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Chat session failed: %v", err)
	}
	if runner.ChatID() != "" {
		ux.Muted("Resume with: omnichat chat --resume " + runner.ChatID())
	}
}

// chatSnapshot returns the settings for the next turn, applying CLI
// overrides on top of the config file snapshot.
func chatSnapshot() datatypes.Settings {
	snap := settingsManager.Snapshot()
	if chatModel != "" {
		snap.Model = chatModel
	}
	if chatProvider != "" {
		snap.Provider = chatProvider
	}
	if chatThinking {
		snap.Thinking = true
	}
	return snap
}
