// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream provides the SSE reassembly layer of the chat pipeline.
//
// This file contains the stream reader, which drives an io.Reader through
// the framing parser and delivers records via a callback.
//
// Context Support:
//
//	Reading stops as soon as the context is cancelled; no record buffered
//	after cancellation is delivered. An idle-read timeout guards against
//	upstream stalls.
package stream

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrIdleTimeout is returned when no bytes arrive within the configured
// idle window. Callers map it to the same failure path as an upstream
// HTTP error.
var ErrIdleTimeout = errors.New("stream: idle read timeout")

// DefaultIdleTimeout is the idle-read window used when none is configured.
const DefaultIdleTimeout = 90 * time.Second

// readBufferSize is the chunk size for reads off the response body.
const readBufferSize = 4096

// RecordHandler receives framed records in emission order. Returning a
// non-nil error stops the read and propagates the error to the caller.
type RecordHandler func(Record) error

// Reader drives a byte stream through a framing Parser.
//
// # Description
//
// Reader owns the read loop: it reads chunks, feeds the parser, and invokes
// the handler for every completed record, strictly in input order. The loop
// ends on the stream terminator, EOF, context cancellation, idle timeout, or
// handler error.
//
// The source reads happen on a helper goroutine so cancellation can
// interrupt a blocked read. The caller remains responsible for closing the
// source; closing it also unblocks the helper.
//
// # Thread Safety
//
// A Reader is stateless and may be shared; a single Read call drives one
// stream and must not be invoked concurrently with itself on the same
// source.
type Reader struct {
	idleTimeout time.Duration
}

// NewReader creates a Reader with the given idle-read timeout.
// A zero or negative timeout selects DefaultIdleTimeout.
func NewReader(idleTimeout time.Duration) *Reader {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Reader{idleTimeout: idleTimeout}
}

// chunk is one read result handed from the helper goroutine to the loop.
type chunk struct {
	data []byte
	err  error
}

// Read consumes src until the stream ends, invoking handler per record.
//
// # Outputs
//
//   - nil on normal termination ([DONE] or EOF)
//   - ctx.Err() when the context was cancelled
//   - ErrIdleTimeout when no bytes arrived within the idle window
//   - the handler's error when it stopped the stream
//   - the underlying read error otherwise
func (r *Reader) Read(ctx context.Context, src io.Reader, handler RecordHandler) error {
	parser := NewParser()

	chunks := make(chan chunk)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readBufferSize)
			n, err := src.Read(buf)
			c := chunk{err: err}
			if n > 0 {
				c.data = buf[:n]
			}
			select {
			case chunks <- c:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(r.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return ErrIdleTimeout

		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.idleTimeout)

			for _, rec := range parser.Feed(c.data) {
				// Cancellation is a suspension point between records too.
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := handler(rec); err != nil {
					return err
				}
			}
			if parser.Done() {
				return nil
			}
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return nil
				}
				return c.err
			}
		}
	}
}
