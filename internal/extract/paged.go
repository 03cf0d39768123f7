package extract

import (
	"fmt"
	"strings"
)

// Page is one logical page. Number is 1-based and follows the source
// document, so gaps are possible when empty pages are dropped.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

type PagedText struct {
	Pages []Page `json:"pages"`
}

// Marker is the literal boundary token the model is told to cite pages from.
func Marker(page int) string {
	return fmt.Sprintf("=== PAGE %d ===", page)
}

// newPagedText keeps page numbers strictly increasing and guarantees that
// page 1 exists.
func newPagedText(pages []Page) *PagedText {
	out := make([]Page, 0, len(pages)+1)
	for _, p := range pages {
		if p.Number < 1 {
			continue
		}
		if n := len(out); n > 0 && p.Number <= out[n-1].Number {
			out[n-1].Text = joinText(out[n-1].Text, p.Text)
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 || out[0].Number != 1 {
		out = append([]Page{{Number: 1}}, out...)
	}
	return &PagedText{Pages: out}
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}

// Flatten renders the pages as a single string with a marker line before
// each page.
func (p *PagedText) Flatten() string {
	var b strings.Builder
	for i, page := range p.Pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(Marker(page.Number))
		b.WriteByte('\n')
		b.WriteString(page.Text)
	}
	return b.String()
}

func (p *PagedText) PageNumbers() []int {
	nums := make([]int, len(p.Pages))
	for i, page := range p.Pages {
		nums[i] = page.Number
	}
	return nums
}
