// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the gateway's request and response payloads.
package datatypes

import (
	"errors"
	"fmt"

	chat "github.com/omnichat-app/omnichat/services/chat/datatypes"
)

// ChatRequest is the POST /api/chat payload. The client owns the history
// and sends all of it each turn; the gateway is a stateless translator.
type ChatRequest struct {
	Messages []chat.ChatMessage `json:"messages"`
	Settings chat.Settings      `json:"settings"`
}

// Validate checks the request before any upstream work.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(r.Messages) > chat.MaxMessagesPerRequest {
		return fmt.Errorf("too many messages: %d exceeds limit of %d", len(r.Messages), chat.MaxMessagesPerRequest)
	}
	for i := range r.Messages {
		if err := r.Messages[i].Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}

	newest := r.Messages[len(r.Messages)-1]
	if newest.Role == chat.RoleUser && newest.Empty() {
		return errors.New("newest user message must carry text or attachments")
	}

	if err := r.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
