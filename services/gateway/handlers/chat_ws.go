// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omnichat-app/omnichat/pkg/stream"
	chat "github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/normalize"
	"github.com/omnichat-app/omnichat/services/gateway/datatypes"
	"github.com/omnichat-app/omnichat/services/llm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsFrame is one outgoing WebSocket message: a normalized delta event in
// JSON form, plus session bookkeeping frames.
type wsFrame struct {
	Type               string                   `json:"type"`
	Content            string                   `json:"content,omitempty"`
	FunctionCall       *chat.FunctionCall       `json:"functionCall,omitempty"`
	GroundingMetadata  *chat.GroundingMetadata  `json:"groundingMetadata,omitempty"`
	URLContextMetadata *chat.URLContextMetadata `json:"urlContextMetadata,omitempty"`
	Error              string                   `json:"error,omitempty"`
	SessionID          string                   `json:"sessionId,omitempty"`
}

// wsConn serializes writes; the keep-alive path in gorilla/websocket is
// not concurrent-safe on its own.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
	l  *slog.Logger
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ws.WriteJSON(v)
	if err != nil {
		c.l.Warn("write websocket frame", "error", err)
	}
	return err
}

// HandleChatWS streams chat turns over a WebSocket.
//
// # Description
//
// After the upgrade the handler sends a session_created frame, then loops:
// each incoming ChatRequest is relayed upstream and answered with one
// frame per normalized delta, closed by a done frame. Failures before the
// stream opens arrive as a single error frame; the connection stays open
// for the next turn.
func HandleChatWS(deps ChatDeps) gin.HandlerFunc {
	deps.fill()
	normalizer := normalize.New(deps.Metrics, deps.Logger)
	reader := stream.NewReader(deps.IdleTimeout)

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		conn := &wsConn{ws: ws, l: deps.Logger}

		sessionID := uuid.New().String()
		deps.Logger.Info("websocket session started", "session_id", sessionID)
		if err := conn.send(wsFrame{Type: "session_created", SessionID: sessionID}); err != nil {
			return
		}

		for {
			var req datatypes.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				deps.Logger.Info("websocket client disconnected", "session_id", sessionID, "error", err.Error())
				return
			}

			if err := streamOneTurn(c, conn, deps, normalizer, reader, req); err != nil {
				return
			}
		}
	}
}

func streamOneTurn(c *gin.Context, conn *wsConn, deps ChatDeps, normalizer *normalize.Normalizer, reader *stream.Reader, req datatypes.ChatRequest) error {
	if err := req.Validate(); err != nil {
		return conn.send(wsFrame{Type: "error", Error: err.Error()})
	}

	provider, err := deps.Factory(req.Settings)
	if err != nil {
		return conn.send(wsFrame{Type: "error", Error: err.Error()})
	}
	if req.Settings.APIKey() == "" {
		return conn.send(wsFrame{Type: "error", Error: llm.MissingAPIKey(provider.Name()).Reason})
	}

	body, err := provider.SendChat(c.Request.Context(), req.Messages, req.Settings)
	if err != nil {
		return conn.send(wsFrame{Type: "error", Error: userMessage(err)})
	}
	defer body.Close()

	shape := provider.Shape()
	readErr := reader.Read(c.Request.Context(), body, func(rec stream.Record) error {
		for _, d := range normalizer.Normalize(rec, shape, provider.Name()) {
			if err := conn.send(deltaFrame(d)); err != nil {
				return err
			}
		}
		return nil
	})
	if readErr != nil {
		return conn.send(wsFrame{Type: "error", Error: readErr.Error()})
	}
	return conn.send(wsFrame{Type: "done"})
}

func deltaFrame(d chat.Delta) wsFrame {
	switch d.Kind {
	case chat.DeltaText:
		return wsFrame{Type: "text", Content: d.Text}
	case chat.DeltaReasoning:
		return wsFrame{Type: "reasoning", Content: d.Text}
	case chat.DeltaFunctionCall:
		return wsFrame{Type: "function_call", FunctionCall: d.Call}
	case chat.DeltaMetadata:
		return wsFrame{Type: "metadata", GroundingMetadata: d.Grounding, URLContextMetadata: d.URLContext}
	case chat.DeltaError:
		return wsFrame{Type: "error", Error: d.Message}
	default:
		return wsFrame{Type: string(d.Kind)}
	}
}

func userMessage(err error) string {
	var cfgErr *llm.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Reason
	}
	var httpErr *llm.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message()
	}
	return err.Error()
}
