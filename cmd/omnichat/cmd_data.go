// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnichat-app/omnichat/pkg/logging"
	"github.com/omnichat-app/omnichat/pkg/ux"
	"github.com/omnichat-app/omnichat/services/chat/store"
)

// withStore opens the conversation store, runs fn, and closes it again.
// Fatal on open failure; data commands cannot do anything without it.
func withStore(fn func(ctx context.Context, st store.Store) error) {
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

	if err := fn(context.Background(), st); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// runExport writes the full store as JSON to the named file or stdout.
func runExport(cmd *cobra.Command, args []string) {
	withStore(func(ctx context.Context, st store.Store) error {
		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			out = f
		}

		if err := st.Export(ctx, out); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if len(args) == 1 {
			ux.Success("Exported to " + args[0])
		}
		return nil
	})
}

// runImport merges a JSON export from the named file or stdin into the store.
func runImport(cmd *cobra.Command, args []string) {
	withStore(func(ctx context.Context, st store.Store) error {
		in := os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()
			in = f
		}

		if err := st.Import(ctx, in); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		ux.Success("Import complete")
		return nil
	})
}

// runListChats prints every stored conversation, newest first.
func runListChats(cmd *cobra.Command, args []string) {
	withStore(func(ctx context.Context, st store.Store) error {
		chats, err := st.ListChats(ctx)
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}
		if len(chats) == 0 {
			ux.Muted("No conversations stored.")
			return nil
		}
		for _, chat := range chats {
			fmt.Printf("%s  %s  %s\n",
				chat.ID, chat.UpdatedAt.Format("2006-01-02 15:04"), chat.Title)
		}
		return nil
	})
}

// runDeleteChat removes a conversation and all its messages.
func runDeleteChat(cmd *cobra.Command, args []string) {
	withStore(func(ctx context.Context, st store.Store) error {
		if err := st.DeleteChat(ctx, args[0]); err != nil {
			return fmt.Errorf("delete chat %s: %w", args[0], err)
		}
		ux.Success("Deleted chat " + args[0])
		return nil
	})
}

// runRenameChat sets a conversation's title.
func runRenameChat(cmd *cobra.Command, args []string) {
	withStore(func(ctx context.Context, st store.Store) error {
		if err := st.RenameChat(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("rename chat %s: %w", args[0], err)
		}
		ux.Success("Renamed chat " + args[0])
		return nil
	})
}
