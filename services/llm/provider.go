// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm holds the provider adapters: thin clients that turn a chat
// history plus settings into one streaming HTTP request and hand the raw
// response body back for reassembly.
//
// Adapters never parse the stream. Their whole contract is: fail fast
// (before network) on missing configuration, surface a typed error on a
// non-2xx initial response, and otherwise return the body as-is.
package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

// Provider is one upstream LLM backend.
type Provider interface {
	// Name is the provider identifier used in settings and metrics.
	Name() string

	// Shape is the stream shape this provider's responses decode as.
	Shape() datatypes.ProviderShape

	// SendChat issues the streaming request and returns the raw response
	// body. The caller owns the body and must close it. Errors:
	//   - *ConfigurationError before any network I/O (missing credential)
	//   - *UpstreamHTTPError for a non-2xx initial response
	//   - wrapped transport errors otherwise
	SendChat(ctx context.Context, history []datatypes.ChatMessage, settings datatypes.Settings) (io.ReadCloser, error)
}

// openAICompatibleBases maps provider names to their OpenAI-compatible API
// roots. Anything not listed here and not "gemini" is rejected.
var openAICompatibleBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// ForSettings returns the adapter for the provider the settings select.
func ForSettings(settings datatypes.Settings) (Provider, error) {
	name := strings.ToLower(settings.Provider)
	switch {
	case name == "gemini":
		return NewGeminiClient(), nil
	default:
		base, ok := openAICompatibleBases[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", settings.Provider)
		}
		return NewOpenAIClient(name, base), nil
	}
}
