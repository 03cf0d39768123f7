package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const maxDocumentXML = 200 << 20

// extractDocx walks word/document.xml in order. A hard page break closes the
// current page; text before the break stays on the old page.
func extractDocx(data []byte) ([]Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %w", ErrExtractionFailed, err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("%w: zip container has no word/document.xml", ErrUnsupportedFormat)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open document.xml: %w", ErrExtractionFailed, err)
	}
	defer rc.Close()

	w := &docxWalker{page: 1}
	dec := xml.NewDecoder(io.LimitReader(rc, maxDocumentXML))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse document.xml: %w", ErrExtractionFailed, err)
		}
		w.handle(tok)
	}
	w.closePage()

	return w.pages, nil
}

type docxWalker struct {
	pages  []Page
	page   int
	lines  []string
	para   strings.Builder
	inText bool
}

func (w *docxWalker) handle(tok xml.Token) {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "p":
			w.para.Reset()
		case "t":
			w.inText = true
		case "tab":
			w.para.WriteByte('\t')
		case "br", "cr":
			if attr(t, "type") == "page" {
				w.flushParagraph()
				w.closePage()
				w.page++
				return
			}
			w.para.WriteByte('\n')
		}
	case xml.EndElement:
		switch t.Name.Local {
		case "t":
			w.inText = false
		case "p":
			w.flushParagraph()
		}
	case xml.CharData:
		if w.inText {
			w.para.Write(t)
		}
	}
}

// flushParagraph appends the pending paragraph text; whitespace-only
// paragraphs are skipped.
func (w *docxWalker) flushParagraph() {
	text := w.para.String()
	w.para.Reset()
	if strings.TrimSpace(text) != "" {
		w.lines = append(w.lines, text)
	}
}

func (w *docxWalker) closePage() {
	w.pages = append(w.pages, Page{Number: w.page, Text: strings.Join(w.lines, "\n")})
	w.lines = nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
