// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "strings"

// =============================================================================
// Generation Settings
// =============================================================================

// AdvancedSettings are the sampling knobs forwarded to the provider.
type AdvancedSettings struct {
	TopP            float32  `json:"topP" yaml:"topP"`
	TopK            int      `json:"topK" yaml:"topK"`
	MaxOutputTokens int      `json:"maxOutputTokens" yaml:"maxOutputTokens"`
	StopSequences   []string `json:"stopSequences,omitempty" yaml:"stopSequences,omitempty"`
}

// ToolSettings are the per-request tool enablement flags.
//
// FunctionDeclarations holds a raw JSON array of declarations; it is parsed
// lazily by the provider adapter and ignored when malformed.
type ToolSettings struct {
	GoogleSearch         bool   `json:"googleSearch" yaml:"googleSearch"`
	URLContext           bool   `json:"urlContext" yaml:"urlContext"`
	CodeExecution        bool   `json:"codeExecution" yaml:"codeExecution"`
	FunctionCalling      bool   `json:"functionCalling" yaml:"functionCalling"`
	FunctionDeclarations string `json:"functionDeclarations,omitempty" yaml:"functionDeclarations,omitempty"`
}

// ThinkingLevel grades how much reasoning budget newer models spend.
type ThinkingLevel string

const (
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// Settings is the read-only snapshot consumed when building one request.
//
// # Description
//
// A Settings value is constructed once per request and passed explicitly
// into the provider adapter; there is no ambient global. APIKeys maps a
// provider name to its credential — the adapter fails fast with a
// ConfigurationError when its own key is missing, before any network call.
type Settings struct {
	Model             string           `json:"model" yaml:"model" validate:"required"`
	Provider          string           `json:"provider" yaml:"provider" validate:"required"`
	Temperature       float32          `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Advanced          AdvancedSettings `json:"advanced" yaml:"advanced"`
	SystemInstruction string           `json:"systemInstruction,omitempty" yaml:"systemInstruction,omitempty"`

	Thinking       bool          `json:"thinking" yaml:"thinking"`
	ThinkingLevel  ThinkingLevel `json:"thinkingLevel,omitempty" yaml:"thinkingLevel,omitempty"`
	ThinkingBudget int           `json:"thinkingBudget,omitempty" yaml:"thinkingBudget,omitempty" validate:"gte=0,lte=65536"`

	Tools ToolSettings `json:"tools" yaml:"tools"`

	// ExcludeThinkingOnSubmit drops accumulated reasoning traces when
	// replaying assistant turns upstream.
	ExcludeThinkingOnSubmit bool `json:"excludeThinkingOnSubmit" yaml:"excludeThinkingOnSubmit"`

	// APIKeys maps provider name to credential. Never logged.
	APIKeys map[string]string `json:"apiKeys,omitempty" yaml:"apiKeys,omitempty"`
}

// Validate validates the settings snapshot.
func (s *Settings) Validate() error {
	return chatValidate.Struct(s)
}

// APIKey returns the credential for the selected provider, or "" when none
// is configured. Provider names compare case-insensitively; keys are stored
// under lowercase names.
func (s *Settings) APIKey() string {
	if s.APIKeys == nil {
		return ""
	}
	return s.APIKeys[strings.ToLower(s.Provider)]
}
