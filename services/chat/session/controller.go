// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session drives one chat turn end to end: append the user
// message, open the provider stream, merge each normalized delta into the
// assistant message, and persist every change as it happens.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnichat-app/omnichat/pkg/stream"
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/normalize"
	"github.com/omnichat-app/omnichat/services/chat/observability"
	"github.com/omnichat-app/omnichat/services/chat/store"
	"github.com/omnichat-app/omnichat/services/llm"
)

// errStreamFailed aborts the read loop after an in-stream error event.
var errStreamFailed = errors.New("provider reported a stream error")

// ProviderFactory resolves the adapter for a settings snapshot. Tests
// inject fakes here.
type ProviderFactory func(datatypes.Settings) (llm.Provider, error)

// SendRequest is one user turn.
type SendRequest struct {
	ChatID      string
	Text        string
	Attachments []datatypes.Attachment
	Settings    datatypes.Settings

	// OnDelta, when set, observes every merged delta plus a final End
	// event on completion. Called on the stream goroutine; keep it fast.
	OnDelta func(datatypes.Delta)
}

// RegenerateRequest replays the newest user turn.
type RegenerateRequest struct {
	ChatID   string
	Settings datatypes.Settings
	OnDelta  func(datatypes.Delta)
}

// Controller owns the send lifecycle for one client.
//
// # Description
//
// At most one request is in flight at a time; Send and Regenerate return
// ErrSessionActive otherwise. Every merged delta is persisted through a
// partial message update before the next event is processed, so a crash
// or cancellation at any point leaves the last persisted prefix intact.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Cancel may be called from any
// goroutine while a Send or Regenerate is blocked.
type Controller struct {
	store      store.Store
	factory    ProviderFactory
	normalizer *normalize.Normalizer
	reader     *stream.Reader
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithProviderFactory replaces the adapter factory, for tests.
func WithProviderFactory(f ProviderFactory) Option {
	return func(c *Controller) { c.factory = f }
}

// WithIdleTimeout sets the stream idle-read timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.reader = stream.NewReader(d) }
}

// WithMetrics attaches a metrics set.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller over a store.
func NewController(st store.Store, opts ...Option) *Controller {
	c := &Controller{
		store:   st,
		factory: llm.ForSettings,
		reader:  stream.NewReader(stream.DefaultIdleTimeout),
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.normalizer = normalize.New(c.metrics, c.logger)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel aborts the in-flight turn, if any, whether it is still dialing
// upstream or already streaming. Reports whether there was one. The
// blocked Send or Regenerate returns OutcomeCancelled with all content
// merged so far still persisted.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Send appends the user turn and streams the assistant reply.
//
// # Outputs
//
//   - *Result: Terminal outcome, including errored streams whose error is
//     recorded on the persisted assistant message.
//   - error: ErrSessionActive, validation failures, or store failures that
//     prevented the turn from starting at all.
func (c *Controller) Send(ctx context.Context, req SendRequest) (*Result, error) {
	userMsg := &datatypes.ChatMessage{
		ChatID:      req.ChatID,
		Role:        datatypes.RoleUser,
		Content:     req.Text,
		Attachments: req.Attachments,
	}
	if userMsg.Empty() {
		return nil, errors.New("message must carry text or attachments")
	}
	if err := userMsg.Validate(); err != nil {
		return nil, fmt.Errorf("validate user message: %w", err)
	}

	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()

	if _, err := c.store.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	history, err := c.store.ListMessages(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return c.run(ctx, req.ChatID, history, req.Settings, req.OnDelta)
}

// Regenerate re-runs the newest user turn.
//
// # Description
//
//	When the chat ends with an assistant reply, that reply is deleted
//	first; the user message keeps its identity and position. The user
//	turn is then replayed upstream without being re-appended. A chat
//	whose last user turn cannot be found is rejected.
func (c *Controller) Regenerate(ctx context.Context, req RegenerateRequest) (*Result, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()

	history, err := c.store.ListMessages(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	lastUser := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == datatypes.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		return nil, errors.New("no user message to regenerate")
	}

	// Drop only a reply newer than the user turn being replayed.
	if tail := history[len(history)-1]; tail.Role == datatypes.RoleAssistant && tail.ID > history[lastUser].ID {
		if err := c.store.DeleteMessage(ctx, req.ChatID, tail.ID); err != nil {
			return nil, fmt.Errorf("delete stale assistant message: %w", err)
		}
		history = history[:len(history)-1]
	}

	return c.run(ctx, req.ChatID, history, req.Settings, req.OnDelta)
}

// Edit rewrites the content of a past message. Session state is untouched;
// editing is allowed while Idle only on the message's own chat but never
// touches an in-flight stream.
func (c *Controller) Edit(ctx context.Context, chatID string, id int64, content string) error {
	return c.store.UpdateMessage(ctx, chatID, id, store.MessageUpdate{Content: &content})
}

// =============================================================================
// Lifecycle
// =============================================================================

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrSessionActive
	}
	c.state = StateSending
	return nil
}

// arm registers the cancel handle while the request is still being sent,
// so Cancel works from the moment the upstream dial starts.
func (c *Controller) arm(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
}

func (c *Controller) setStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStreaming
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.cancel = nil
}

// =============================================================================
// Stream Loop
// =============================================================================

func (c *Controller) run(ctx context.Context, chatID string, history []datatypes.ChatMessage, settings datatypes.Settings, onDelta func(datatypes.Delta)) (*Result, error) {
	provider, err := c.factory(settings)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	assistantID, err := c.store.AddMessage(ctx, &datatypes.ChatMessage{
		ChatID: chatID,
		Role:   datatypes.RoleAssistant,
		Model:  settings.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create assistant message: %w", err)
	}

	start := time.Now()
	if c.metrics != nil {
		c.metrics.ActiveStreams.Inc()
		defer c.metrics.ActiveStreams.Dec()
	}

	// Arm cancellation before dialing upstream so Cancel can abort a
	// connect that has not produced a body yet.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.arm(cancel)

	body, err := provider.SendChat(streamCtx, history, settings)
	if err != nil {
		if streamCtx.Err() != nil && ctx.Err() == nil {
			c.observe(provider.Name(), OutcomeCancelled, nil, start)
			c.logger.Info("send cancelled before stream",
				"chat_id", chatID,
				"provider", provider.Name(),
			)
			return &Result{Outcome: OutcomeCancelled, AssistantID: assistantID}, nil
		}
		return c.failBeforeStream(ctx, chatID, assistantID, provider.Name(), err)
	}
	defer body.Close()
	c.setStreaming()

	var (
		acc        accumulator
		streamErr  error
		firstToken bool
	)

	readErr := c.reader.Read(streamCtx, body, func(rec stream.Record) error {
		for _, d := range c.normalizer.Normalize(rec, provider.Shape(), provider.Name()) {
			if !firstToken {
				firstToken = true
				if c.metrics != nil {
					c.metrics.TimeToFirstTokenSeconds.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
				}
			}

			upd := acc.apply(d)
			if !upd.Empty() {
				// Persist before processing the next event. The stored
				// message is always a consistent prefix of the stream.
				if err := c.store.UpdateMessage(streamCtx, chatID, assistantID, upd); err != nil {
					return fmt.Errorf("persist delta: %w", err)
				}
			}
			if onDelta != nil {
				onDelta(d)
			}

			if d.Kind == datatypes.DeltaError {
				streamErr = fmt.Errorf("%w: %s", errStreamFailed, d.Message)
				return streamErr
			}
		}
		return nil
	})

	outcome, termErr := c.classify(readErr, streamErr)
	if termErr != nil {
		// Timeouts and read failures surface on the message like stream
		// errors do; the accumulator already appended explicit ones.
		if !errors.Is(termErr, errStreamFailed) {
			upd := acc.apply(datatypes.ErrorDelta(userFacingMessage(termErr)))
			if err := c.store.UpdateMessage(ctx, chatID, assistantID, upd); err != nil {
				c.logger.Warn("persist terminal error", "chat_id", chatID, "error", err)
			}
		}
	}

	if outcome == OutcomeCompleted && onDelta != nil {
		onDelta(datatypes.EndDelta())
	}

	c.observe(provider.Name(), outcome, termErr, start)
	c.logger.Info("stream finished",
		"chat_id", chatID,
		"provider", provider.Name(),
		"outcome", string(outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Outcome:     outcome,
		AssistantID: assistantID,
		Content:     acc.content,
		Reasoning:   acc.reasoning,
		Err:         termErr,
	}, nil
}

// failBeforeStream records a configuration or upstream failure on the
// assistant message so the failed turn stays visible in the chat.
func (c *Controller) failBeforeStream(ctx context.Context, chatID string, assistantID int64, providerName string, err error) (*Result, error) {
	content := "Error: " + userFacingMessage(err)

	var httpErr *llm.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		if details := httpErr.Details(); details != "" {
			content += "\n\nDetails: " + details
		}
	}

	if updErr := c.store.UpdateMessage(ctx, chatID, assistantID, store.MessageUpdate{Content: &content}); updErr != nil {
		c.logger.Warn("persist request error", "chat_id", chatID, "error", updErr)
	}

	c.observe(providerName, OutcomeErrored, err, time.Now())
	return &Result{
		Outcome:     OutcomeErrored,
		AssistantID: assistantID,
		Content:     content,
		Err:         err,
	}, nil
}

// classify maps the read loop's exit into a terminal outcome.
func (c *Controller) classify(readErr, streamErr error) (Outcome, error) {
	switch {
	case readErr == nil:
		return OutcomeCompleted, nil
	case streamErr != nil:
		return OutcomeErrored, streamErr
	case errors.Is(readErr, context.Canceled):
		return OutcomeCancelled, nil
	case errors.Is(readErr, stream.ErrIdleTimeout):
		return OutcomeErrored, readErr
	default:
		return OutcomeErrored, readErr
	}
}

func (c *Controller) observe(providerName string, outcome Outcome, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RequestsTotal.WithLabelValues(providerName, string(outcome)).Inc()
	c.metrics.StreamDurationSeconds.WithLabelValues(providerName, string(outcome)).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(providerName, string(errorCode(err))).Inc()
	}
}

func errorCode(err error) observability.ErrorCode {
	var cfgErr *llm.ConfigurationError
	var httpErr *llm.UpstreamHTTPError
	switch {
	case errors.As(err, &cfgErr):
		return observability.ErrorCodeConfiguration
	case errors.As(err, &httpErr):
		return observability.ErrorCodeUpstreamHTTP
	case errors.Is(err, errStreamFailed):
		return observability.ErrorCodeStreamError
	case errors.Is(err, stream.ErrIdleTimeout):
		return observability.ErrorCodeTimeout
	default:
		return observability.ErrorCodeInternal
	}
}

// userFacingMessage strips wrapping noise from errors that end up in
// message content.
func userFacingMessage(err error) string {
	var cfgErr *llm.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Reason
	}
	var httpErr *llm.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message()
	}
	if errors.Is(err, stream.ErrIdleTimeout) {
		return "The stream stalled and was closed after the idle timeout."
	}
	return err.Error()
}
