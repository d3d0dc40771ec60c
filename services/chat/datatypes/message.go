// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared by the chat
// streaming pipeline: messages, attachments, normalized delta events,
// grounding metadata, and generation settings.
//
// This file contains conversation types. For delta events see delta.go,
// for grounding metadata see grounding.go, for settings see settings.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked as byte length, not rune count, to bound memory.
	MaxMessageContentBytes = 256 * 1024 // 256KB

	// MaxMessagesPerRequest is the maximum number of messages in one request.
	MaxMessagesPerRequest = 200

	// MaxAttachmentsPerMessage bounds the attachment list of one message.
	MaxAttachmentsPerMessage = 16
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces the MaxMessageContentBytes limit on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Roles
// =============================================================================

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleFunction marks a turn carrying the result of a function call
	// back to the model.
	RoleFunction Role = "function"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleFunction:
		return true
	}
	return false
}

// =============================================================================
// Attachments and Function Calls
// =============================================================================

// Attachment is a file attached to a user message.
//
// Exactly one of Data or Content is expected to be set:
//   - Data holds a data URL ("data:image/png;base64,....") for binary
//     attachments that are forwarded to the provider as inline bytes.
//   - Content holds extracted plain text for documents that were converted
//     client-side (PDF text extraction, source files, ...).
//
// Attachments are immutable once the owning message is created.
type Attachment struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"type"`
	Data     string `json:"data,omitempty"`
	Content  string `json:"content,omitempty"`
}

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result that is replayed to the model on
// the next turn. Responses are keyed by position against the owning
// message's FunctionCalls list.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// =============================================================================
// Messages
// =============================================================================

// ChatMessage is one turn in a conversation.
//
// # Description
//
// ChatMessage is both the persisted record and the unit submitted to a
// provider when building an upstream request. Content and ReasoningContent
// are mutable only while the message is the active streaming target; during
// a stream they grow by monotonic append and are never rewritten. After the
// stream ends they change only through an explicit user edit.
//
// # Fields
//
//   - ID: Locally unique, monotonically assigned by the store. Zero until
//     the message has been persisted.
//   - ChatID: Owning conversation.
//   - Role: Author of the turn.
//   - Content: Accumulated plain/markdown text.
//   - ReasoningContent: Accumulated thinking-trace text, if the provider
//     emitted one. Displayed raw; only re-quoted when resubmitted upstream.
//   - Attachments: Immutable once the message is created.
//   - GroundingMetadata / URLContextMetadata: Structured citation blobs,
//     attached mid-stream or after completion.
//   - FunctionCalls / FunctionResponses: Ordered tool interaction lists;
//     responses are positional against calls.
//   - Model: Model identifier that produced this message (assistant only).
//   - CreatedAt: Set once at creation.
//
// # Invariants
//
// At most one message per conversation is in flight (actively receiving
// stream deltas) at any time; the session controller enforces this.
type ChatMessage struct {
	ID                 int64               `json:"id,omitempty"`
	ChatID             string              `json:"chatId,omitempty"`
	Role               Role                `json:"role" validate:"required"`
	Content            string              `json:"content" validate:"maxbytes"`
	ReasoningContent   string              `json:"reasoning_content,omitempty"`
	Attachments        []Attachment        `json:"attachments,omitempty" validate:"max=16,dive"`
	GroundingMetadata  *GroundingMetadata  `json:"groundingMetadata,omitempty"`
	URLContextMetadata *URLContextMetadata `json:"urlContextMetadata,omitempty"`
	FunctionCalls      []FunctionCall      `json:"functionCalls,omitempty"`
	FunctionResponses  []FunctionResponse  `json:"functionResponses,omitempty"`
	Model              string              `json:"model,omitempty"`
	Name               string              `json:"name,omitempty"` // function-role turns only
	CreatedAt          time.Time           `json:"createdAt"`
}

// Validate validates the message fields using the shared validator.
func (m *ChatMessage) Validate() error {
	return chatValidate.Struct(m)
}

// Empty reports whether the message carries neither text nor attachments.
// The newest user turn of an outgoing request must not be empty.
func (m *ChatMessage) Empty() bool {
	return m.Content == "" && len(m.Attachments) == 0
}

// =============================================================================
// Chats
// =============================================================================

// DefaultChatTitle is the placeholder title of a freshly created chat.
// It is replaced by a truncation of the first user message.
const DefaultChatTitle = "New Chat"

// Chat is one conversation. Messages reference it by ChatID.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
