// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigurationError means the request could not even be attempted: a
// credential or required setting is missing. It is always raised before
// any network I/O.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s configuration error: %s", e.Provider, e.Reason)
}

// MissingAPIKey builds the ConfigurationError for an absent credential.
// The message is user-facing; the UI shows it verbatim.
func MissingAPIKey(provider string) *ConfigurationError {
	return &ConfigurationError{
		Provider: provider,
		Reason:   fmt.Sprintf("%s API Key is required. Please update your Settings.", displayName(provider)),
	}
}

func displayName(provider string) string {
	switch strings.ToLower(provider) {
	case "gemini":
		return "Gemini"
	case "openai":
		return "OpenAI"
	case "openrouter":
		return "OpenRouter"
	default:
		return provider
	}
}

// UpstreamHTTPError is a non-2xx initial response from the provider. Body
// holds the raw response so callers can relay provider error payloads.
type UpstreamHTTPError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.Status, e.Message())
}

// Message extracts a human-readable message from the provider error body.
// Providers disagree on shape: some send {"error": {"message": "..."}},
// some {"error": "..."}; anything else falls back to the raw body.
func (e *UpstreamHTTPError) Message() string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &envelope); err == nil && len(envelope.Error) > 0 {
		var asString string
		if err := json.Unmarshal(envelope.Error, &asString); err == nil && asString != "" {
			return asString
		}
		var asObject struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &asObject); err == nil && asObject.Message != "" {
			return asObject.Message
		}
	}

	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return body
}

// Details returns the raw body when it carries more than the extracted
// message, for verbose client display.
func (e *UpstreamHTTPError) Details() string {
	body := strings.TrimSpace(string(e.Body))
	if body == e.Message() {
		return ""
	}
	return body
}
