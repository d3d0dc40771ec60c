// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Grounding Metadata
// =============================================================================

// GroundingWeb identifies one web source backing a grounded answer.
type GroundingWeb struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

// GroundingChunk is one retrieved source. Only web sources are modeled.
type GroundingChunk struct {
	Web *GroundingWeb `json:"web,omitempty"`
}

// GroundingSegment locates the span of answer text a support applies to.
// Indices are byte offsets into the final answer text.
type GroundingSegment struct {
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
	Text       string `json:"text,omitempty"`
}

// GroundingSupport ties a text segment to the chunks that support it.
type GroundingSupport struct {
	Segment               GroundingSegment `json:"segment"`
	GroundingChunkIndices []int            `json:"groundingChunkIndices,omitempty"`
}

// SearchEntryPoint carries the provider-rendered search suggestion widget.
type SearchEntryPoint struct {
	RenderedContent string `json:"renderedContent,omitempty"`
}

// GroundingMetadata is the citation/source blob a search-augmented provider
// attaches to a generated response. The field shapes mirror the wire format
// so the blob survives a round trip through the store untouched.
type GroundingMetadata struct {
	WebSearchQueries  []string           `json:"webSearchQueries,omitempty"`
	GroundingChunks   []GroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []GroundingSupport `json:"groundingSupports,omitempty"`
	SearchEntryPoint  *SearchEntryPoint  `json:"searchEntryPoint,omitempty"`
}

// =============================================================================
// URL Context Metadata
// =============================================================================

// URLMetadata reports the retrieval outcome for one URL the model was asked
// to read via the URL-context tool.
type URLMetadata struct {
	RetrievedURL       string `json:"retrievedUrl,omitempty"`
	URLRetrievalStatus string `json:"urlRetrievalStatus,omitempty"`
}

// URLContextMetadata is attached when the URL-context tool ran.
type URLContextMetadata struct {
	URLMetadata []URLMetadata `json:"urlMetadata,omitempty"`
}

// =============================================================================
// Citation Injection
// =============================================================================

// AddCitations injects inline markdown citations into answer text based on
// grounding metadata.
//
// # Description
//
// For each grounding support, a citation link "[[n]](uri)" is appended at
// the end of the supported segment. Supports are processed from the highest
// EndIndex down so earlier insertions do not shift later offsets. Text
// without usable metadata is returned unchanged.
//
// # Inputs
//
//   - text: The final answer text (never a partial stream).
//   - md: Grounding metadata, may be nil.
//
// # Outputs
//
//   - string: Text with citations injected, or the input unchanged.
func AddCitations(text string, md *GroundingMetadata) string {
	if text == "" || md == nil || len(md.GroundingSupports) == 0 || len(md.GroundingChunks) == 0 {
		return text
	}

	supports := make([]GroundingSupport, len(md.GroundingSupports))
	copy(supports, md.GroundingSupports)
	sort.SliceStable(supports, func(i, j int) bool {
		return supports[i].Segment.EndIndex > supports[j].Segment.EndIndex
	})

	out := text
	for _, sup := range supports {
		end := sup.Segment.EndIndex
		if end <= 0 || len(sup.GroundingChunkIndices) == 0 {
			continue
		}

		var links []string
		for _, idx := range sup.GroundingChunkIndices {
			if idx < 0 || idx >= len(md.GroundingChunks) {
				continue
			}
			chunk := md.GroundingChunks[idx]
			if chunk.Web != nil && chunk.Web.URI != "" {
				links = append(links, fmt.Sprintf("[[%d]](%s)", idx+1, chunk.Web.URI))
			}
		}
		if len(links) == 0 {
			continue
		}

		if end <= len(out) {
			out = out[:end] + " " + strings.Join(links, "") + out[end:]
		}
	}
	return out
}
