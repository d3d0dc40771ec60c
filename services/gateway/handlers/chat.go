// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's HTTP endpoints: the SSE chat
// relay, its WebSocket sibling, and health.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnichat-app/omnichat/pkg/stream"
	chat "github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/normalize"
	"github.com/omnichat-app/omnichat/services/chat/observability"
	"github.com/omnichat-app/omnichat/services/gateway/datatypes"
	"github.com/omnichat-app/omnichat/services/llm"
)

// keepAliveInterval is how often the relay emits SSE comments while the
// upstream is quiet. Well under the 60s default of common proxies.
const keepAliveInterval = 15 * time.Second

// ChatDeps are the collaborators the chat handlers need.
type ChatDeps struct {
	// Factory resolves provider adapters. Defaults to llm.ForSettings.
	Factory func(chat.Settings) (llm.Provider, error)

	// Metrics is optional.
	Metrics *observability.Metrics

	// IdleTimeout bounds silent upstream reads. Zero means the default.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

func (d *ChatDeps) fill() {
	if d.Factory == nil {
		d.Factory = llm.ForSettings
	}
	if d.IdleTimeout <= 0 {
		d.IdleTimeout = stream.DefaultIdleTimeout
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// HandleChat relays one chat turn upstream and re-emits the stream in the
// plain shape.
//
// # Description
//
// The handler validates the payload, fails fast with 400 when the selected
// provider has no credential, opens the upstream stream, and translates
// every record through the normalizer back onto the response as plain
// chunks followed by a [DONE] terminator. Upstream HTTP failures are
// relayed with the upstream status and a {"error": {"message": ...}}
// payload; mid-stream failures become a single error chunk since the 200
// header is already gone.
func HandleChat(deps ChatDeps) gin.HandlerFunc {
	deps.fill()
	normalizer := normalize.New(deps.Metrics, deps.Logger)
	reader := stream.NewReader(deps.IdleTimeout)

	return func(c *gin.Context) {
		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		provider, err := deps.Factory(req.Settings)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Credential check happens here, before any upstream connection,
		// so a misconfigured client gets a plain 400 instead of a stream.
		if req.Settings.APIKey() == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": llm.MissingAPIKey(provider.Name()).Reason})
			return
		}

		start := time.Now()
		body, err := provider.SendChat(c.Request.Context(), req.Messages, req.Settings)
		if err != nil {
			relayRequestError(c, deps, provider.Name(), err)
			return
		}
		defer body.Close()

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		stopKeepAlive := startKeepAlive(writer)
		defer stopKeepAlive()

		shape := provider.Shape()
		readErr := reader.Read(c.Request.Context(), body, func(rec stream.Record) error {
			for _, d := range normalizer.Normalize(rec, shape, provider.Name()) {
				if err := writer.WriteDelta(d); err != nil {
					return err
				}
			}
			return nil
		})

		outcome := observability.StatusCompleted
		switch {
		case readErr == nil:
			if err := writer.WriteDone(); err != nil {
				deps.Logger.Warn("write stream terminator", "error", err)
			}
		case errors.Is(readErr, stream.ErrIdleTimeout):
			outcome = observability.StatusErrored
			_ = writer.WriteError("The stream stalled and was closed after the idle timeout.")
		case c.Request.Context().Err() != nil:
			// Client went away; nothing left to write to.
			outcome = observability.StatusCancelled
		default:
			outcome = observability.StatusErrored
			_ = writer.WriteError(readErr.Error())
		}

		if deps.Metrics != nil {
			deps.Metrics.RequestsTotal.WithLabelValues(provider.Name(), string(outcome)).Inc()
			deps.Metrics.StreamDurationSeconds.WithLabelValues(provider.Name(), string(outcome)).Observe(time.Since(start).Seconds())
		}
		deps.Logger.Info("chat relay finished",
			"provider", provider.Name(),
			"outcome", string(outcome),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// relayRequestError maps a pre-stream failure onto the response. Upstream
// statuses pass through; configuration problems are the client's fault.
func relayRequestError(c *gin.Context, deps ChatDeps, providerName string, err error) {
	var cfgErr *llm.ConfigurationError
	var httpErr *llm.UpstreamHTTPError

	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Reason})
	case errors.As(err, &httpErr):
		payload := gin.H{"error": gin.H{"message": httpErr.Message()}}
		if details := httpErr.Details(); details != "" {
			payload["details"] = details
		}
		c.JSON(httpErr.Status, payload)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": err.Error()}})
	}

	if deps.Metrics != nil {
		deps.Metrics.RequestsTotal.WithLabelValues(providerName, string(observability.StatusErrored)).Inc()
	}
	deps.Logger.Error("chat relay failed before streaming", "provider", providerName, "error", err)
}

// startKeepAlive pings the client on a ticker until the returned stop
// function is called.
func startKeepAlive(writer SSEWriter) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
