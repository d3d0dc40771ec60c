// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omnichat-app/omnichat/pkg/settings"
	"github.com/omnichat-app/omnichat/pkg/ux"
)

// settingsManager holds the loaded configuration for every subcommand.
// Populated in PersistentPreRun before any Run function executes.
var settingsManager *settings.Manager

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Initialize UX personality from flag or environment
		if personalityLevel != "" {
			ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
		} else {
			ux.InitPersonality()
		}

		path := configPath
		if path == "" {
			path = defaultConfigPath()
		}
		if created, err := settings.WriteDefault(path); err != nil {
			log.Fatalf("Error preparing config %s: %v", path, err)
		} else if created {
			ux.Info("Created default config at " + path)
		}

		manager, err := settings.NewManager(path)
		if err != nil {
			log.Fatalf("Error loading config %s: %v", path, err)
		}
		settingsManager = manager
	}
}

// homeDir is the base directory for all OmniChat state.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory; still usable in containers
		// without a home.
		return ".omnichat"
	}
	return filepath.Join(home, ".omnichat")
}

func defaultConfigPath() string {
	return filepath.Join(homeDir(), "config.yaml")
}

func defaultDataDir() string {
	return filepath.Join(homeDir(), "data")
}
