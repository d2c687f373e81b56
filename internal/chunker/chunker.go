// Package chunker splits manual text into position-tagged passages under a
// character budget.
//
// Text is segmented on "." into sentence units; each unit is trimmed and the
// terminator re-appended. Units are accumulated greedily into passages joined
// by single spaces. Offsets index into the reconstructed joined text, so a
// passage's offset equals the total length of the passages before it plus one
// separator per boundary. Offsets therefore cannot slice the raw upload.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// DefaultMaxChunkSize is the passage budget in characters used when the
// caller passes a non-positive size.
const DefaultMaxChunkSize = 1000

// terminator is the sentence separator. It is re-appended to every unit.
const terminator = "."

// Split returns the passages of text, in document order. A sentence longer
// than maxChunkSize becomes its own oversized passage; it is never truncated.
// Empty or whitespace-only input yields an empty, non-nil slice.
func Split(text string, maxChunkSize int) []rag.Passage {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	passages := make([]rag.Passage, 0)
	var (
		current    []string
		currentLen int
		offset     int
	)

	flush := func() {
		joined := strings.Join(current, " ")
		passages = append(passages, rag.Passage{Text: joined, Offset: offset})
		offset += utf8.RuneCountInString(joined) + 1
	}

	for _, sentence := range Sentences(text) {
		n := utf8.RuneCountInString(sentence)
		if currentLen+n > maxChunkSize && len(current) > 0 {
			flush()
			current = []string{sentence}
			currentLen = n
			continue
		}
		current = append(current, sentence)
		currentLen += n
	}

	if len(current) > 0 {
		flush()
	}
	return passages
}

// Sentences returns the trimmed, terminator-suffixed sentence units of text.
// Empty units are skipped.
func Sentences(text string) []string {
	parts := strings.Split(text, terminator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+terminator)
	}
	return out
}
