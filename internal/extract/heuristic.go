package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// WordsPerPage is the fallback page size when no table of contents is found.
const WordsPerPage = 500

var (
	tocHeading = regexp.MustCompile(`(?i)table of contents`)
	tocEntry   = regexp.MustCompile(`^(.+?)[\s.]{2,}(\d+)\s*$`)
)

type tocEntryPage struct {
	title string
	page  int
}

// InferPages splits plain text without native page structure. A table of
// contents, when present, maps section titles to pages; otherwise a page
// closes roughly every WordsPerPage words. It never fails: text with no
// detectable boundary is returned as page 1.
func InferPages(text string) []Page {
	if loc := tocHeading.FindStringIndex(text); loc != nil {
		end := len(text)
		if i := strings.Index(text[loc[0]:], "\n\n"); i >= 0 {
			end = loc[0] + i
		}
		if entries := parseTOC(text[loc[0]:end]); len(entries) > 0 {
			return splitByTOC(text, loc[0], end, entries)
		}
	}
	return splitByWords(text, WordsPerPage)
}

func parseTOC(block string) []tocEntryPage {
	var entries []tocEntryPage
	seen := make(map[string]int)
	for _, line := range strings.Split(block, "\n") {
		m := tocEntry.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		title := strings.ToLower(strings.TrimSpace(m[1]))
		page, err := strconv.Atoi(m[2])
		if err != nil || title == "" {
			continue
		}
		if i, ok := seen[title]; ok {
			entries[i].page = page
			continue
		}
		seen[title] = len(entries)
		entries = append(entries, tocEntryPage{title: title, page: page})
	}
	return entries
}

// splitByTOC starts a new page when a line outside the TOC block mentions a
// listed title whose page is ahead of the current one.
func splitByTOC(text string, tocStart, tocEnd int, entries []tocEntryPage) []Page {
	pb := newPageBuilder()
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		lineStart := offset
		offset += len(line) + 1

		inTOC := lineStart >= tocStart && lineStart < tocEnd
		trimmed := strings.TrimSpace(line)
		if !inTOC && len(trimmed) > 10 {
			lower := strings.ToLower(trimmed)
			for _, e := range entries {
				if strings.Contains(lower, e.title) {
					if e.page > pb.current {
						pb.next(e.page)
					}
					break
				}
			}
		}
		pb.add(line)
	}
	return pb.done()
}

func splitByWords(text string, perPage int) []Page {
	pb := newPageBuilder()
	count := 0
	for _, line := range strings.Split(text, "\n") {
		words := len(strings.Fields(line))
		count += words
		if count > perPage && strings.TrimSpace(line) != "" {
			pb.next(pb.current + 1)
			count = words
		}
		pb.add(line)
	}
	return pb.done()
}

type pageBuilder struct {
	pages   []Page
	lines   []string
	current int
}

func newPageBuilder() *pageBuilder {
	return &pageBuilder{current: 1}
}

func (b *pageBuilder) add(line string) {
	b.lines = append(b.lines, line)
}

func (b *pageBuilder) next(page int) {
	b.pages = append(b.pages, Page{Number: b.current, Text: strings.Join(b.lines, "\n")})
	b.lines = nil
	b.current = page
}

func (b *pageBuilder) done() []Page {
	return append(b.pages, Page{Number: b.current, Text: strings.Join(b.lines, "\n")})
}
