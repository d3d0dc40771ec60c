// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string
	dataDir          string
	personalityLevel string // UX personality level (full/minimal/machine)

	chatResume   string // Chat ID to resume
	chatModel    string // CLI override for settings model
	chatProvider string // CLI override for settings provider
	chatThinking bool   // CLI override to enable the reasoning trace

	serveAddr    string  // Gateway listen address
	serveLogDir  string  // Directory for gateway log files
	serveRate    float64 // Rate limit: requests per second per client
	serveBurst   int     // Rate limit: burst size per client
	serveNoTrace bool    // Disable the stdout trace exporter

	rootCmd = &cobra.Command{
		Use:   "omnichat",
		Short: "A cli to chat with LLM providers and run the OmniChat gateway",
		Long: `OmniChat is a streaming chat client and gateway. It talks to
				Gemini and OpenAI-compatible providers, persists conversations
				locally, and can serve the same translation layer over HTTP.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Gateway ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Starts the OmniChat HTTP gateway",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Conversations ---
	chatsCmd = &cobra.Command{
		Use:   "chats",
		Short: "Manage stored conversations",
	}
	listChatsCmd = &cobra.Command{
		Use:   "list",
		Short: "List all stored conversations",
		Run:   runListChats, // Defined in cmd_data.go
	}
	deleteChatCmd = &cobra.Command{
		Use:   "delete [chat_id]",
		Short: "Delete a conversation and all its messages",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteChat, // Defined in cmd_data.go
	}
	renameChatCmd = &cobra.Command{
		Use:   "rename [chat_id] [title]",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		Run:   runRenameChat, // Defined in cmd_data.go
	}

	// --- Data round-trip ---
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Export all chats and messages as JSON (stdout if no file)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runExport, // Defined in cmd_data.go
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Import chats and messages from a JSON export (stdin if no file)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport, // Defined in cmd_data.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config.yaml (default ~/.omnichat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"Directory for the conversation store (default ~/.omnichat/data)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), minimal, or machine (scripting)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatResume, "resume", "",
		"Resume a conversation using a specific chat ID.")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Override the configured model")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Override the configured provider")
	chatCmd.Flags().BoolVar(&chatThinking, "thinking", false,
		"Enable the reasoning trace regardless of config")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Gateway listen address")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "",
		"Directory for gateway log files (stderr only if empty)")
	serveCmd.Flags().Float64Var(&serveRate, "rate", 5,
		"Rate limit in requests per second per client (0 disables)")
	serveCmd.Flags().IntVar(&serveBurst, "burst", 10, "Rate limit burst per client")
	serveCmd.Flags().BoolVar(&serveNoTrace, "no-trace", false,
		"Disable span export to stdout")

	// conversation commands
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(listChatsCmd)
	chatsCmd.AddCommand(deleteChatCmd)
	chatsCmd.AddCommand(renameChatCmd)

	// data round-trip
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
