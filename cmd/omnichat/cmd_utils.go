// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"

	"github.com/omnichat-app/omnichat/services/chat/storage/badger"
	"github.com/omnichat-app/omnichat/services/chat/store"
)

// openStore opens the badger-backed conversation store under the configured
// data directory. The returned cleanup closes the store and the database;
// callers must defer it.
func openStore(logger *slog.Logger) (store.Store, func(), error) {
	dir := dataDir
	if dir == "" {
		dir = defaultDataDir()
	}

	cfg := badger.DefaultConfig()
	cfg.Path = dir
	cfg.Logger = logger

	db, err := badger.OpenDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database at %s: %w", dir, err)
	}

	st, err := store.NewBadgerStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("Store close failed", "error", err)
		}
	}
	return st, cleanup, nil
}
