// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, src io.Reader, idle time.Duration) ([]Record, error) {
	t.Helper()
	var records []Record
	err := NewReader(idle).Read(context.Background(), src, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

func TestReader_ReadsFullStream(t *testing.T) {
	src := strings.NewReader("data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n")

	records, err := collect(t, src, time.Second)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"a":1}`, records[0].Data)
	assert.Equal(t, `{"b":2}`, records[1].Data)
}

func TestReader_EOFWithoutTerminatorIsNotAnError(t *testing.T) {
	src := strings.NewReader("data: {\"a\":1}\n\n")

	records, err := collect(t, src, time.Second)

	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestReader_HandlerErrorStopsStream(t *testing.T) {
	src := strings.NewReader("data: {\"a\":1}\n\ndata: {\"b\":2}\n\n")
	sentinel := errors.New("stop")

	var seen int
	err := NewReader(time.Second).Read(context.Background(), src, func(Record) error {
		seen++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, seen)
}

func TestReader_ContextCancellationStopsReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A pipe that never delivers data simulates a hung upstream.
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() {
		done <- NewReader(time.Minute).Read(ctx, pr, func(Record) error {
			t.Error("no record expected after cancellation")
			return nil
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after cancellation")
	}
}

func TestReader_IdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	err := NewReader(50*time.Millisecond).Read(context.Background(), pr, func(Record) error {
		return nil
	})

	assert.ErrorIs(t, err, ErrIdleTimeout)
}

// slowReader delivers its payload in fixed-size fragments with a pause in
// between, exercising the partial-line buffer under realistic pacing.
type slowReader struct {
	payload string
	pos     int
	step    int
	pause   time.Duration
}

func (s *slowReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.payload) {
		return 0, io.EOF
	}
	time.Sleep(s.pause)
	end := s.pos + s.step
	if end > len(s.payload) {
		end = len(s.payload)
	}
	n := copy(p, s.payload[s.pos:end])
	s.pos += n
	return n, nil
}

func TestReader_FragmentedDelivery(t *testing.T) {
	payload := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	records, err := collect(t, &slowReader{payload: payload, step: 7, pause: time.Millisecond}, time.Second)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Data, `"Hel"`)
	assert.Contains(t, records[1].Data, `"lo"`)
}
