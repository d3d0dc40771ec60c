// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

func geminiSettings() datatypes.Settings {
	return datatypes.Settings{
		Model:       "gemini-2.5-flash",
		Provider:    "gemini",
		Temperature: 0.7,
		APIKeys:     map[string]string{"gemini": "test-key"},
	}
}

func TestForSettings(t *testing.T) {
	p, err := ForSettings(datatypes.Settings{Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ShapeGemini, p.Shape())

	p, err = ForSettings(datatypes.Settings{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ShapePlain, p.Shape())
	assert.Equal(t, "openai", p.Name())

	_, err = ForSettings(datatypes.Settings{Provider: "acme"})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestGemini_MissingKeyFailsBeforeNetwork(t *testing.T) {
	settings := geminiSettings()
	settings.APIKeys = nil

	_, err := NewGeminiClient().SendChat(context.Background(), nil, settings)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Gemini API Key is required. Please update your Settings.", cfgErr.Reason)
}

func TestGemini_RequestShape(t *testing.T) {
	var captured geminiRequest
	var gotPath, gotKey, gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
	}))
	defer srv.Close()

	settings := geminiSettings()
	settings.SystemInstruction = "be brief"
	settings.Tools.URLContext = true
	history := []datatypes.ChatMessage{
		{Role: datatypes.RoleUser, Content: "hi"},
		{Role: datatypes.RoleAssistant, Content: "hello", ReasoningContent: "greet back"},
		{Role: datatypes.RoleUser, Content: "check https://example.com"},
	}

	body, err := NewGeminiClient().WithBaseURL(srv.URL).SendChat(context.Background(), history, settings)
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "/models/gemini-2.5-flash:streamGenerateContent", gotPath)
	assert.Equal(t, "alt=sse", gotQuery)
	assert.Equal(t, "test-key", gotKey)

	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "<thought>\ngreet back\n</thought>\n\nhello", captured.Contents[1].Parts[0].Text)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "be brief", captured.SystemInstruction.Parts[0].Text)

	// URL context implies web search.
	require.Len(t, captured.Tools, 2)
	assert.Contains(t, captured.Tools[0], "googleSearch")
	assert.Contains(t, captured.Tools[1], "urlContext")
}

func TestGemini_ExcludeThinkingOnSubmit(t *testing.T) {
	settings := geminiSettings()
	settings.ExcludeThinkingOnSubmit = true
	history := []datatypes.ChatMessage{
		{Role: datatypes.RoleAssistant, Content: "hello", ReasoningContent: "greet back"},
	}

	contents := buildGeminiContents(history, settings)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello", contents[0].Parts[0].Text)
}

func TestGemini_AttachmentParts(t *testing.T) {
	history := []datatypes.ChatMessage{{
		Role:    datatypes.RoleUser,
		Content: "see attached",
		Attachments: []datatypes.Attachment{
			{Name: "pic.png", MimeType: "image/png", Data: "aGVsbG8="},
			{Name: "notes.txt", Content: "plain text"},
		},
	}}

	contents := buildGeminiContents(history, geminiSettings())
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 3)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, "[File: notes.txt]\nplain text", contents[0].Parts[2].Text)
}

func TestGemini_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiClient().WithBaseURL(srv.URL).SendChat(context.Background(), nil, geminiSettings())

	var httpErr *UpstreamHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Equal(t, "quota exceeded", httpErr.Message())
}

func TestGemini_SearchToolByModel(t *testing.T) {
	settings := geminiSettings()
	settings.Tools.GoogleSearch = true

	settings.Model = "gemini-1.5-pro"
	tools := buildGeminiTools(settings)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0], "googleSearchRetrieval")

	settings.Model = "gemini-2.5-flash"
	tools = buildGeminiTools(settings)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0], "googleSearch")
}

func TestGemini_FunctionDeclarationsOverrideBuiltins(t *testing.T) {
	settings := geminiSettings()
	settings.Tools.GoogleSearch = true
	settings.Tools.FunctionCalling = true
	settings.Tools.FunctionDeclarations = `[{"name": "get_weather"}]`

	tools := buildGeminiTools(settings)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0], "functionDeclarations")
}

func TestBuildThinkingConfig(t *testing.T) {
	settings := geminiSettings()
	settings.Thinking = true
	settings.ThinkingBudget = 1024

	cfg := buildThinkingConfig(settings)
	require.NotNil(t, cfg)
	assert.True(t, cfg.IncludeThoughts)
	require.NotNil(t, cfg.ThinkingBudget)
	assert.Equal(t, 1024, *cfg.ThinkingBudget)
	assert.Empty(t, cfg.ThinkingLevel)

	settings.Model = "gemini-3-pro"
	settings.ThinkingLevel = datatypes.ThinkingLow
	cfg = buildThinkingConfig(settings)
	require.NotNil(t, cfg)
	assert.Equal(t, "low", cfg.ThinkingLevel)
	assert.Nil(t, cfg.ThinkingBudget)

	settings.Model = "gemini-2.0-flash"
	assert.Nil(t, buildThinkingConfig(settings))

	settings.Thinking = false
	assert.Nil(t, buildThinkingConfig(settings))
}

func TestOpenAI_RequestShape(t *testing.T) {
	var captured map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	settings := datatypes.Settings{
		Model:             "gpt-4o-mini",
		Provider:          "openai",
		SystemInstruction: "be brief",
		APIKeys:           map[string]string{"openai": "sk-test"},
	}
	history := []datatypes.ChatMessage{
		{Role: datatypes.RoleUser, Content: "hi"},
	}

	body, err := NewOpenAIClient("openai", srv.URL).SendChat(context.Background(), history, settings)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DONE]")

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, true, captured["stream"])

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be brief", first["content"])
}

func TestOpenAI_MissingKey(t *testing.T) {
	settings := datatypes.Settings{Model: "gpt-4o", Provider: "openai"}

	_, err := NewOpenAIClient("openai", "https://api.openai.com/v1").SendChat(context.Background(), nil, settings)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "OpenAI API Key is required. Please update your Settings.", cfgErr.Reason)
}

func TestUpstreamHTTPError_MessageShapes(t *testing.T) {
	obj := &UpstreamHTTPError{Status: 500, Body: []byte(`{"error": {"message": "boom"}}`)}
	assert.Equal(t, "boom", obj.Message())

	str := &UpstreamHTTPError{Status: 500, Body: []byte(`{"error": "flat message"}`)}
	assert.Equal(t, "flat message", str.Message())

	raw := &UpstreamHTTPError{Status: 502, Body: []byte("bad gateway")}
	assert.Equal(t, "bad gateway", raw.Message())

	empty := &UpstreamHTTPError{Status: 503}
	assert.Equal(t, "upstream returned status 503", empty.Message())
}
