// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

var geminiTracer = otel.Tracer("omnichat.llm.gemini")

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// =============================================================================
// Wire Types
// =============================================================================

type geminiRequestPart struct {
	Text             string                      `json:"text,omitempty"`
	InlineData       *geminiInlineData           `json:"inlineData,omitempty"`
	FunctionCall     *datatypes.FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *datatypes.FunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string              `json:"role,omitempty"`
	Parts []geminiRequestPart `json:"parts"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	ThinkingBudget  *int   `json:"thinkingBudget,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float32               `json:"temperature"`
	TopP            float32               `json:"topP,omitempty"`
	TopK            int                   `json:"topK,omitempty"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	StopSequences   []string              `json:"stopSequences,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Tools             []map[string]any       `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// =============================================================================
// Client
// =============================================================================

// GeminiClient streams from the Gemini generateContent API in its native
// SSE shape (alt=sse).
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Provider = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini adapter against the public API root.
func NewGeminiClient() *GeminiClient {
	return &GeminiClient{
		// No overall timeout: streams are long-lived. Idle detection is
		// the reader's job; cancellation arrives via the context.
		httpClient: &http.Client{Timeout: 0},
		baseURL:    defaultGeminiBaseURL,
	}
}

// WithHTTPClient swaps the HTTP client, for tests.
func (g *GeminiClient) WithHTTPClient(c *http.Client) *GeminiClient {
	g.httpClient = c
	return g
}

// WithBaseURL points the adapter at a different API root, for tests.
func (g *GeminiClient) WithBaseURL(base string) *GeminiClient {
	g.baseURL = strings.TrimSuffix(base, "/")
	return g
}

func (g *GeminiClient) Name() string {
	return "gemini"
}

func (g *GeminiClient) Shape() datatypes.ProviderShape {
	return datatypes.ShapeGemini
}

// SendChat issues the streaming request.
//
// # Description
//
//	Builds the native request from the history and settings: roles are
//	remapped (assistant → model), attachments become inlineData or text
//	parts, stored reasoning is re-quoted in <thought> markers unless the
//	settings exclude it, and tool settings map to Gemini tool entries.
//	Requesting URL context implies web search; the two tools are only
//	useful together, so search is enabled whenever URL context is.
//
// # Outputs
//
//	io.ReadCloser - Raw SSE body. Caller must close it.
//	error - *ConfigurationError, *UpstreamHTTPError, or transport error.
func (g *GeminiClient) SendChat(ctx context.Context, history []datatypes.ChatMessage, settings datatypes.Settings) (io.ReadCloser, error) {
	ctx, span := geminiTracer.Start(ctx, "GeminiClient.SendChat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", settings.Model),
		attribute.Int("llm.num_messages", len(history)),
	)

	apiKey := settings.APIKey()
	if apiKey == "" {
		err := MissingAPIKey(g.Name())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload := g.buildRequest(history, settings)
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, settings.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			slog.Warn("read gemini error body", "error", readErr)
		}
		httpErr := &UpstreamHTTPError{Provider: g.Name(), Status: resp.StatusCode, Body: respBody}
		span.SetStatus(codes.Error, httpErr.Error())
		slog.Error("gemini returned an error",
			"status_code", resp.StatusCode,
			"model", settings.Model,
		)
		return nil, httpErr
	}

	slog.Debug("gemini stream opened",
		"model", settings.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp.Body, nil
}

func (g *GeminiClient) buildRequest(history []datatypes.ChatMessage, settings datatypes.Settings) geminiRequest {
	req := geminiRequest{
		Contents: buildGeminiContents(history, settings),
		Tools:    buildGeminiTools(settings),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     settings.Temperature,
			TopP:            settings.Advanced.TopP,
			TopK:            settings.Advanced.TopK,
			MaxOutputTokens: settings.Advanced.MaxOutputTokens,
			StopSequences:   settings.Advanced.StopSequences,
			ThinkingConfig:  buildThinkingConfig(settings),
		},
	}
	if settings.SystemInstruction != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiRequestPart{{Text: settings.SystemInstruction}},
		}
	}
	return req
}

func buildGeminiContents(history []datatypes.ChatMessage, settings datatypes.Settings) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, msg := range history {
		content := geminiContent{Role: geminiRole(msg.Role)}

		text := msg.Content
		// Stored reasoning rides along on resubmit so the model sees its
		// own prior thinking, quoted to keep it out of the answer text.
		if msg.Role == datatypes.RoleAssistant && msg.ReasoningContent != "" && !settings.ExcludeThinkingOnSubmit {
			text = "<thought>\n" + msg.ReasoningContent + "\n</thought>\n\n" + text
		}
		if text != "" {
			content.Parts = append(content.Parts, geminiRequestPart{Text: text})
		}

		for _, att := range msg.Attachments {
			switch {
			case att.Data != "":
				content.Parts = append(content.Parts, geminiRequestPart{
					InlineData: &geminiInlineData{MimeType: att.MimeType, Data: att.Data},
				})
			case att.Content != "":
				content.Parts = append(content.Parts, geminiRequestPart{
					Text: fmt.Sprintf("[File: %s]\n%s", att.Name, att.Content),
				})
			}
		}

		for i := range msg.FunctionCalls {
			content.Parts = append(content.Parts, geminiRequestPart{FunctionCall: &msg.FunctionCalls[i]})
		}
		for i := range msg.FunctionResponses {
			content.Parts = append(content.Parts, geminiRequestPart{FunctionResponse: &msg.FunctionResponses[i]})
		}

		if len(content.Parts) == 0 {
			continue
		}
		contents = append(contents, content)
	}
	return contents
}

func geminiRole(role datatypes.Role) string {
	switch role {
	case datatypes.RoleAssistant:
		return "model"
	case datatypes.RoleFunction:
		// Function results travel as user-role functionResponse parts.
		return "user"
	default:
		return "user"
	}
}

func buildGeminiTools(settings datatypes.Settings) []map[string]any {
	tools := settings.Tools

	if tools.FunctionCalling && tools.FunctionDeclarations != "" {
		var decls []map[string]any
		if err := json.Unmarshal([]byte(tools.FunctionDeclarations), &decls); err == nil && len(decls) > 0 {
			return []map[string]any{{"functionDeclarations": decls}}
		}
		slog.Warn("ignoring malformed function declarations")
	}

	var out []map[string]any
	if tools.GoogleSearch || tools.URLContext {
		// Older models only know the retrieval-style search tool.
		if strings.Contains(settings.Model, "1.5") {
			out = append(out, map[string]any{"googleSearchRetrieval": map[string]any{}})
		} else {
			out = append(out, map[string]any{"googleSearch": map[string]any{}})
		}
	}
	if tools.URLContext {
		out = append(out, map[string]any{"urlContext": map[string]any{}})
	}
	if tools.CodeExecution {
		out = append(out, map[string]any{"codeExecution": map[string]any{}})
	}
	return out
}

func buildThinkingConfig(settings datatypes.Settings) *geminiThinkingConfig {
	if !settings.Thinking {
		return nil
	}
	// 2.0-flash has no thinking support at all.
	if strings.Contains(settings.Model, "2.0-flash") {
		return nil
	}

	cfg := &geminiThinkingConfig{IncludeThoughts: true}
	if strings.Contains(settings.Model, "gemini-3") {
		level := settings.ThinkingLevel
		if level == "" {
			level = datatypes.ThinkingHigh
		}
		cfg.ThinkingLevel = string(level)
	} else if settings.ThinkingBudget > 0 {
		budget := settings.ThinkingBudget
		cfg.ThinkingBudget = &budget
	}
	return cfg
}
