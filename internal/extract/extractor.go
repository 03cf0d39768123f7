package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"docproof/apps/backend/internal/fetch"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrExtractionFailed  = errors.New("text extraction failed")
)

type format string

const (
	formatDocx format = "docx"
	formatPDF  format = "pdf"
	formatText format = "txt"
)

type Extractor struct {
	inferTextPages bool
}

// New returns an extractor. When inferTextPages is set, plain text is split
// into pages by InferPages instead of staying a single page.
func New(inferTextPages bool) *Extractor {
	return &Extractor{inferTextPages: inferTextPages}
}

func (e *Extractor) Extract(ctx context.Context, doc *fetch.RawDocument) (*PagedText, error) {
	if doc == nil || len(doc.Data) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrExtractionFailed)
	}

	f, err := detectFormat(doc)
	if err != nil {
		return nil, err
	}

	var pages []Page
	switch f {
	case formatDocx:
		pages, err = extractDocx(doc.Data)
	case formatPDF:
		pages, err = extractPDF(doc.Data)
	default:
		text, enc := decodeText(doc.Data)
		slog.DebugContext(ctx, "decoded text document", "encoding", enc)
		if e.inferTextPages {
			pages = InferPages(text)
		} else {
			pages = []Page{{Number: 1, Text: text}}
		}
	}
	if err != nil {
		return nil, err
	}

	paged := newPagedText(pages)
	slog.InfoContext(ctx, "document extracted", "format", f, "origin", doc.Origin, "pages", len(paged.Pages))
	return paged, nil
}

// detectFormat checks the declared MIME type, then the file extension, then
// magic bytes. Remote blobs that match nothing are read as text; uploads are
// rejected instead.
func detectFormat(doc *fetch.RawDocument) (format, error) {
	mt, _, _ := mime.ParseMediaType(doc.MimeType)
	switch {
	case mt == fetch.MimeTypeDocx:
		return formatDocx, nil
	case mt == fetch.MimeTypePDF:
		return formatPDF, nil
	case strings.HasPrefix(mt, "text/"):
		return formatText, nil
	}

	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".docx":
		return formatDocx, nil
	case ".pdf":
		return formatPDF, nil
	case ".txt", ".md", ".csv":
		return formatText, nil
	}

	sniffed := fetch.SniffMimeType(doc.Data)
	if doc.Origin == fetch.OriginLocalUpload && sniffed == fetch.MimeTypeText {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, doc.Name, doc.MimeType)
	}
	switch sniffed {
	case fetch.MimeTypeDocx:
		return formatDocx, nil
	case fetch.MimeTypeXlsx, fetch.MimeTypePptx, fetch.MimeTypeZip:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, sniffed)
	case fetch.MimeTypePDF:
		return formatPDF, nil
	default:
		return formatText, nil
	}
}
