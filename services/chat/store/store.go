// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists chats and messages.
//
// The Store interface is the only surface the rest of the system sees;
// the BadgerDB implementation lives alongside it. Message IDs are assigned
// by the store and are strictly increasing across all chats, so "newer
// than" comparisons between messages are plain integer comparisons.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

var (
	// ErrChatNotFound is returned when the referenced chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound is returned when the referenced message does not
	// exist in the given chat.
	ErrMessageNotFound = errors.New("message not found")
)

// MessageUpdate is a partial update of a stored message. Nil fields are
// left untouched, which is what lets the streaming path persist each
// channel independently as events arrive.
type MessageUpdate struct {
	Content            *string
	ReasoningContent   *string
	GroundingMetadata  *datatypes.GroundingMetadata
	URLContextMetadata *datatypes.URLContextMetadata
	FunctionCalls      []datatypes.FunctionCall
	FunctionResponses  []datatypes.FunctionResponse
	Model              *string
}

// Empty reports whether the update would change nothing.
func (u MessageUpdate) Empty() bool {
	return u.Content == nil && u.ReasoningContent == nil &&
		u.GroundingMetadata == nil && u.URLContextMetadata == nil &&
		u.FunctionCalls == nil && u.FunctionResponses == nil && u.Model == nil
}

// Store is the persistence boundary for chats and their messages.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// CreateChat creates a chat. An empty title defaults to
	// datatypes.DefaultChatTitle.
	CreateChat(ctx context.Context, title string) (*datatypes.Chat, error)

	// GetChat returns a chat by ID, or ErrChatNotFound.
	GetChat(ctx context.Context, chatID string) (*datatypes.Chat, error)

	// RenameChat sets a chat's title.
	RenameChat(ctx context.Context, chatID, title string) error

	// DeleteChat removes a chat and all of its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// ListChats returns all chats ordered by most recently updated first.
	ListChats(ctx context.Context) ([]datatypes.Chat, error)

	// AddMessage appends a message to a chat. The store assigns the
	// message ID and creation time; the assigned ID is returned. Adding
	// the first user message to a chat still carrying the default title
	// retitles the chat from that message's content.
	AddMessage(ctx context.Context, msg *datatypes.ChatMessage) (int64, error)

	// GetMessage returns one message, or ErrMessageNotFound.
	GetMessage(ctx context.Context, chatID string, id int64) (*datatypes.ChatMessage, error)

	// UpdateMessage applies a partial update to a stored message.
	UpdateMessage(ctx context.Context, chatID string, id int64, upd MessageUpdate) error

	// DeleteMessage removes one message from a chat.
	DeleteMessage(ctx context.Context, chatID string, id int64) error

	// ListMessages returns a chat's messages in ID order (oldest first).
	ListMessages(ctx context.Context, chatID string) ([]datatypes.ChatMessage, error)

	// Export writes every chat and message as a JSON document.
	Export(ctx context.Context, w io.Writer) error

	// Import reads a JSON document produced by Export and inserts its
	// chats and messages. Existing chats with the same ID are replaced.
	Import(ctx context.Context, r io.Reader) error

	// Close releases store resources.
	Close() error
}
