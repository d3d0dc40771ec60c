// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"github.com/omnichat-app/omnichat/services/chat/datatypes"
	"github.com/omnichat-app/omnichat/services/chat/store"
)

// accumulator folds delta events into the in-flight assistant message.
//
// # Invariants
//
// Text and reasoning only ever grow by appending, so any earlier snapshot
// of either channel is a prefix of any later one. Each apply returns the
// partial update for exactly the fields that event touched; nothing else
// is rewritten.
type accumulator struct {
	content    string
	reasoning  string
	calls      []datatypes.FunctionCall
	grounding  *datatypes.GroundingMetadata
	urlContext *datatypes.URLContextMetadata
}

// apply folds one event and returns the store update it implies. End
// events change nothing and return an empty update.
func (a *accumulator) apply(d datatypes.Delta) store.MessageUpdate {
	switch d.Kind {
	case datatypes.DeltaText:
		a.content += d.Text
		return store.MessageUpdate{Content: &a.content}

	case datatypes.DeltaReasoning:
		a.reasoning += d.Text
		return store.MessageUpdate{ReasoningContent: &a.reasoning}

	case datatypes.DeltaFunctionCall:
		if d.Call != nil {
			a.calls = append(a.calls, *d.Call)
		}
		return store.MessageUpdate{FunctionCalls: a.calls}

	case datatypes.DeltaMetadata:
		upd := store.MessageUpdate{}
		if d.Grounding != nil {
			a.grounding = d.Grounding
			upd.GroundingMetadata = d.Grounding
		}
		if d.URLContext != nil {
			a.urlContext = d.URLContext
			upd.URLContextMetadata = d.URLContext
		}
		return upd

	case datatypes.DeltaError:
		// Partial content is preserved; the error text is appended so the
		// message shows both what arrived and why it stopped.
		if a.content != "" {
			a.content += "\n\n"
		}
		a.content += "Error: " + d.Message
		return store.MessageUpdate{Content: &a.content}

	default:
		return store.MessageUpdate{}
	}
}
