package prompt

import (
	"fmt"
	"strings"
	"time"
)

// Base is the default proofreading instruction set.
const Base = `You are a meticulous professional proofreader and consistency reviewer.

Review the document for:
- spelling mistakes and typos
- grammar and punctuation errors
- inconsistent terminology, names, dates, figures and formatting
- statements that contradict other parts of the document
- awkward or ambiguous phrasing that changes the meaning

Report every issue as one finding. Quote the original text exactly as it appears so it can be located, and give a concrete corrected version as the suggestion. Do not report stylistic preferences that are not errors. If the document has no issues, return an empty array.`

const pageContract = `The document text is divided by page markers of the form "=== PAGE N ===". Every finding must set "page" to the number N of the nearest marker that precedes the quoted text. Before answering, check each page number against the literal markers in the text; never guess a page that has no marker.`

// Build returns the default system instructions for now.
func Build(now time.Time, extra ...string) string {
	return Compose(Base, now, extra...)
}

// Compose joins base, the page marker contract, the current date and any
// knowledge blocks. Blank blocks are skipped.
func Compose(base string, now time.Time, extra ...string) string {
	parts := []string{strings.TrimSpace(base), pageContract, fmt.Sprintf("Today's date is %s.", now.Format("January 2, 2006"))}
	for _, block := range extra {
		if b := strings.TrimSpace(block); b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}
