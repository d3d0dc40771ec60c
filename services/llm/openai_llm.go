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

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

var openAITracer = otel.Tracer("omnichat.llm.openai")

// OpenAIClient streams from any OpenAI-compatible chat completions API in
// the plain shape. It reuses go-openai's request types for the wire format
// but issues the POST itself: the SDK's stream wrapper consumes the SSE
// body, and the reassembler needs it raw.
type OpenAIClient struct {
	httpClient *http.Client
	name       string
	baseURL    string
}

var _ Provider = (*OpenAIClient)(nil)

// NewOpenAIClient creates an adapter for one OpenAI-compatible backend.
func NewOpenAIClient(name, baseURL string) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 0},
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// WithHTTPClient swaps the HTTP client, for tests.
func (o *OpenAIClient) WithHTTPClient(c *http.Client) *OpenAIClient {
	o.httpClient = c
	return o
}

func (o *OpenAIClient) Name() string {
	return o.name
}

func (o *OpenAIClient) Shape() datatypes.ProviderShape {
	return datatypes.ShapePlain
}

// SendChat issues the streaming chat completions request and returns the
// raw SSE body. Errors follow the adapter contract (see Provider).
func (o *OpenAIClient) SendChat(ctx context.Context, history []datatypes.ChatMessage, settings datatypes.Settings) (io.ReadCloser, error) {
	ctx, span := openAITracer.Start(ctx, "OpenAIClient.SendChat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", o.name),
		attribute.String("llm.model", settings.Model),
		attribute.Int("llm.num_messages", len(history)),
	)

	apiKey := settings.APIKey()
	if apiKey == "" {
		err := MissingAPIKey(o.name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload := openai.ChatCompletionRequest{
		Model:       settings.Model,
		Messages:    buildOpenAIMessages(history, settings),
		Temperature: settings.Temperature,
		TopP:        settings.Advanced.TopP,
		MaxTokens:   settings.Advanced.MaxOutputTokens,
		Stop:        settings.Advanced.StopSequences,
		Stream:      true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshal chat completions request: %w", err)
	}

	url := o.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create chat completions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s request failed: %w", o.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			slog.Warn("read upstream error body", "provider", o.name, "error", readErr)
		}
		httpErr := &UpstreamHTTPError{Provider: o.name, Status: resp.StatusCode, Body: respBody}
		span.SetStatus(codes.Error, httpErr.Error())
		slog.Error("upstream returned an error",
			"provider", o.name,
			"status_code", resp.StatusCode,
			"model", settings.Model,
		)
		return nil, httpErr
	}

	slog.Debug("stream opened", "provider", o.name, "model", settings.Model)
	return resp.Body, nil
}

func buildOpenAIMessages(history []datatypes.ChatMessage, settings datatypes.Settings) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if settings.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: settings.SystemInstruction,
		})
	}

	for _, msg := range history {
		content := msg.Content
		if msg.Role == datatypes.RoleAssistant && msg.ReasoningContent != "" && !settings.ExcludeThinkingOnSubmit {
			content = "<thought>\n" + msg.ReasoningContent + "\n</thought>\n\n" + content
		}

		// Plain-shape backends take no binary parts; extracted attachment
		// text is inlined into the message body.
		for _, att := range msg.Attachments {
			if att.Content != "" {
				content += fmt.Sprintf("\n\n[File: %s]\n%s", att.Name, att.Content)
			}
		}

		if content == "" {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: content,
			Name:    msg.Name,
		})
	}
	return msgs
}
