package text

import (
	"fmt"
	"unicode/utf8"
)

// DefaultMaxChunkChars leaves headroom under the provider's input limit for
// the system instructions.
const DefaultMaxChunkChars = 800_000 - 10_000

type Chunk struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Text  string `json:"text"`
}

// ContinuationNote tells the model it is looking at a fragment.
func (c Chunk) ContinuationNote() string {
	if c.Total <= 1 {
		return ""
	}
	return fmt.Sprintf("\n\nNote: This is part %d of %d of a larger document.", c.Index+1, c.Total)
}

// Split cuts text at fixed character offsets so that every chunk but the last
// holds exactly maxChars characters. Characters are runes, so multi-byte
// sequences are never cut. Concatenating the chunks yields text unchanged.
func Split(text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	total := utf8.RuneCountInString(text)
	if total <= maxChars {
		return []Chunk{{Index: 0, Total: 1, Text: text}}
	}

	n := (total + maxChars - 1) / maxChars
	chunks := make([]Chunk, 0, n)

	start, count := 0, 0
	for i := range text {
		if count == maxChars {
			chunks = append(chunks, Chunk{Index: len(chunks), Total: n, Text: text[start:i]})
			start, count = i, 0
		}
		count++
	}
	chunks = append(chunks, Chunk{Index: len(chunks), Total: n, Text: text[start:]})

	return chunks
}
