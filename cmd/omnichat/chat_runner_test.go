// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnichat-app/omnichat/pkg/ux"
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/session"
	"github.com/omnichat-app/omnichat/services/chat/storage/badger"
	"github.com/omnichat-app/omnichat/services/chat/store"
	"github.com/omnichat-app/omnichat/services/llm"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeProvider serves one canned body per call and records sent history.
type fakeProvider struct {
	mu      sync.Mutex
	bodies  []io.ReadCloser
	err     error
	calls   int
	history [][]datatypes.ChatMessage
}

func (f *fakeProvider) Name() string                   { return "fake" }
func (f *fakeProvider) Shape() datatypes.ProviderShape { return datatypes.ShapePlain }

func (f *fakeProvider) SendChat(ctx context.Context, history []datatypes.ChatMessage, settings datatypes.Settings) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, append([]datatypes.ChatMessage(nil), history...))
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.bodies) {
		return nil, errors.New("no more canned bodies")
	}
	body := f.bodies[f.calls]
	f.calls++
	return body, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sseBody(records ...string) io.ReadCloser {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString("data: " + rec + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

func textRecord(text string) string {
	return `{"choices":[{"delta":{"content":"` + text + `"}}]}`
}

// =============================================================================
// Fixtures
// =============================================================================

type runnerFixture struct {
	runner *ChatRunner
	store  store.Store
	uiBuf  *bytes.Buffer
	outBuf *bytes.Buffer
}

func newTestRunner(t *testing.T, p llm.Provider, inputs []string, chatID string) *runnerFixture {
	t.Helper()

	db, err := badger.OpenInMemory()
	require.NoError(t, err)

	st, err := store.NewBadgerStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	controller := session.NewController(st,
		session.WithProviderFactory(func(datatypes.Settings) (llm.Provider, error) { return p, nil }))

	uiBuf := &bytes.Buffer{}
	outBuf := &bytes.Buffer{}

	runner := NewChatRunner(ChatRunnerConfig{
		Controller: controller,
		Store:      st,
		ChatID:     chatID,
		Input:      NewMockInputReader(inputs),
		UI:         ux.NewChatUIWithWriter(uiBuf, ux.PersonalityMachine),
		Snapshot: func() datatypes.Settings {
			return datatypes.Settings{Model: "test-model", Provider: "fake"}
		},
		NewRenderer: func() ux.DeltaRenderer {
			return ux.NewMachineDeltaRenderer(outBuf)
		},
	})
	t.Cleanup(func() { _ = runner.Close() })

	return &runnerFixture{runner: runner, store: st, uiBuf: uiBuf, outBuf: outBuf}
}

// =============================================================================
// Tests
// =============================================================================

func TestChatRunner_SendsTurnAndPersists(t *testing.T) {
	p := &fakeProvider{bodies: []io.ReadCloser{sseBody(textRecord("Hel"), textRecord("lo"))}}
	fx := newTestRunner(t, p, []string{"say hello", "exit"}, "")

	err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, fx.outBuf.String(), "ANSWER: Hello")
	assert.Contains(t, fx.uiBuf.String(), "CHAT_START:")
	assert.Contains(t, fx.uiBuf.String(), "model=test-model")
	assert.Contains(t, fx.uiBuf.String(), "CHAT_END: messages=1")

	require.NotEmpty(t, fx.runner.ChatID())
	msgs, err := fx.store.ListMessages(context.Background(), fx.runner.ChatID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, "say hello", msgs[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestChatRunner_EmptyInputSkipped(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, []string{"", "exit"}, "")

	err := fx.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, p.callCount())
	assert.Contains(t, fx.uiBuf.String(), "CHAT_END: messages=0")
}

func TestChatRunner_EOFEndsSession(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, nil, "")

	err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fx.uiBuf.String(), "CHAT_END:")
}

func TestChatRunner_ResumeUnknownChatFails(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, []string{"exit"}, "no-such-chat")

	err := fx.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume chat")
}

func TestChatRunner_ResumeReplaysHistory(t *testing.T) {
	p := &fakeProvider{bodies: []io.ReadCloser{
		sseBody(textRecord("first reply")),
		sseBody(textRecord("second reply")),
	}}

	fx := newTestRunner(t, p, []string{"turn one", "exit"}, "")
	require.NoError(t, fx.runner.Run(context.Background()))
	chatID := fx.runner.ChatID()

	// Second session resumes the same chat over the same store.
	controller := session.NewController(fx.store,
		session.WithProviderFactory(func(datatypes.Settings) (llm.Provider, error) { return p, nil }))
	uiBuf := &bytes.Buffer{}
	resumed := NewChatRunner(ChatRunnerConfig{
		Controller: controller,
		Store:      fx.store,
		ChatID:     chatID,
		Input:      NewMockInputReader([]string{"turn two", "exit"}),
		UI:         ux.NewChatUIWithWriter(uiBuf, ux.PersonalityMachine),
		Snapshot: func() datatypes.Settings {
			return datatypes.Settings{Model: "test-model", Provider: "fake"}
		},
		NewRenderer: func() ux.DeltaRenderer { return ux.NewBufferDeltaRenderer() },
	})
	require.NoError(t, resumed.Run(context.Background()))

	msgs, err := fx.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// The second upstream call carried the whole conversation so far.
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.history, 2)
	assert.Len(t, p.history[1], 3)
	assert.Equal(t, "turn two", p.history[1][2].Content)
}

func TestChatRunner_RegenCommandReplacesReply(t *testing.T) {
	p := &fakeProvider{bodies: []io.ReadCloser{
		sseBody(textRecord("first answer")),
		sseBody(textRecord("second answer")),
	}}
	fx := newTestRunner(t, p, []string{"question", "/regen", "exit"}, "")

	require.NoError(t, fx.runner.Run(context.Background()))

	msgs, err := fx.store.ListMessages(context.Background(), fx.runner.ChatID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "second answer", msgs[1].Content)
	assert.Contains(t, fx.outBuf.String(), "ANSWER: second answer")

	// The replay carried only the user turn, not the discarded reply.
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.history, 2)
	require.Len(t, p.history[1], 1)
	assert.Equal(t, "question", p.history[1][0].Content)
}

func TestChatRunner_RegenCommandWithoutTurnReported(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, []string{"/regen", "exit"}, "")

	require.NoError(t, fx.runner.Run(context.Background()))

	assert.Contains(t, fx.uiBuf.String(), "ERROR:")
	assert.Contains(t, fx.uiBuf.String(), "no user message")
	assert.Equal(t, 0, p.callCount())
}

func TestChatRunner_EditCommandRewritesMessage(t *testing.T) {
	p := &fakeProvider{bodies: []io.ReadCloser{sseBody(textRecord("answer"))}}
	fx := newTestRunner(t, p, []string{"original question", "/edit 1 corrected question", "exit"}, "")

	require.NoError(t, fx.runner.Run(context.Background()))

	msgs, err := fx.store.ListMessages(context.Background(), fx.runner.ChatID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "corrected question", msgs[0].Content)
	assert.Equal(t, 1, p.callCount(), "the edit itself is not sent upstream")
}

func TestChatRunner_EditCommandUsageError(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, []string{"/edit 1", "exit"}, "")

	require.NoError(t, fx.runner.Run(context.Background()))

	assert.Contains(t, fx.uiBuf.String(), "ERROR:")
	assert.Contains(t, fx.uiBuf.String(), "usage: /edit")
	assert.Equal(t, 0, p.callCount())
}

func TestChatRunner_UnknownCommandReported(t *testing.T) {
	p := &fakeProvider{}
	fx := newTestRunner(t, p, []string{"/bogus", "exit"}, "")

	require.NoError(t, fx.runner.Run(context.Background()))

	assert.Contains(t, fx.uiBuf.String(), "ERROR:")
	assert.Contains(t, fx.uiBuf.String(), "unknown command")
	assert.Equal(t, 0, p.callCount(), "commands are not sent as chat turns")
}

func TestChatRunner_ProviderFailureKeepsLoopAlive(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	st, err := store.NewBadgerStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	controller := session.NewController(st,
		session.WithProviderFactory(func(datatypes.Settings) (llm.Provider, error) {
			return nil, errors.New("unknown provider \"bogus\"")
		}))

	uiBuf := &bytes.Buffer{}
	runner := NewChatRunner(ChatRunnerConfig{
		Controller: controller,
		Store:      st,
		Input:      NewMockInputReader([]string{"hello", "exit"}),
		UI:         ux.NewChatUIWithWriter(uiBuf, ux.PersonalityMachine),
		Snapshot: func() datatypes.Settings {
			return datatypes.Settings{Model: "test-model", Provider: "bogus"}
		},
		NewRenderer: func() ux.DeltaRenderer { return ux.NewBufferDeltaRenderer() },
	})

	err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, uiBuf.String(), "ERROR:")
	assert.Contains(t, uiBuf.String(), "unknown provider")
}

func TestChatRunner_SnapshotReadPerTurn(t *testing.T) {
	p := &fakeProvider{bodies: []io.ReadCloser{
		sseBody(textRecord("a")),
		sseBody(textRecord("b")),
	}}

	var mu sync.Mutex
	model := "model-one"

	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	st, err := store.NewBadgerStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	controller := session.NewController(st,
		session.WithProviderFactory(func(datatypes.Settings) (llm.Provider, error) { return p, nil }))

	runner := NewChatRunner(ChatRunnerConfig{
		Controller: controller,
		Store:      st,
		Input:      NewMockInputReader([]string{"one", "two", "exit"}),
		UI:         ux.NewChatUIWithWriter(&bytes.Buffer{}, ux.PersonalityMachine),
		Snapshot: func() datatypes.Settings {
			mu.Lock()
			defer mu.Unlock()
			s := datatypes.Settings{Model: model, Provider: "fake"}
			model = "model-two"
			return s
		},
		NewRenderer: func() ux.DeltaRenderer { return ux.NewBufferDeltaRenderer() },
	})

	require.NoError(t, runner.Run(context.Background()))

	msgs, err := st.ListMessages(context.Background(), runner.ChatID())
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	// Assistant messages record the model each turn was sent with.
	assert.Equal(t, "model-two", msgs[1].Model)
	assert.Equal(t, "model-two", msgs[3].Model)
}
