// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import "errors"

// State is where the controller currently is in its send lifecycle.
//
// Transitions: Idle → Sending → Streaming, then back to Idle with the
// terminal outcome recorded on the Result. There is no queued state: a
// send while not Idle is rejected outright.
type State string

const (
	// StateIdle means no request is in flight.
	StateIdle State = "idle"

	// StateSending covers request construction through the upstream
	// response headers arriving.
	StateSending State = "sending"

	// StateStreaming means the response body is open and deltas are being
	// merged and persisted.
	StateStreaming State = "streaming"
)

// Outcome is how a stream ended.
type Outcome string

const (
	// OutcomeCompleted is normal termination ([DONE] or clean EOF).
	OutcomeCompleted Outcome = "completed"

	// OutcomeCancelled is user-initiated abort. Partial content survives;
	// cancellation is not an error.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeErrored covers configuration failures, upstream HTTP errors,
	// in-stream error events, and idle timeouts.
	OutcomeErrored Outcome = "errored"
)

// ErrSessionActive is returned by Send and Regenerate while another
// request is in flight. Callers cancel first or wait.
var ErrSessionActive = errors.New("a chat request is already in flight")

// Result describes a finished stream.
type Result struct {
	// Outcome is the terminal state the stream reached.
	Outcome Outcome

	// AssistantID is the persisted assistant message, valid whenever one
	// was created (including errored streams carrying partial content).
	AssistantID int64

	// Content and Reasoning are the final merged channels.
	Content   string
	Reasoning string

	// Err is the terminal error for OutcomeErrored, nil otherwise.
	Err error
}
