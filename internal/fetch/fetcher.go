package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"docproof/apps/backend/internal/source"
)

type Origin string

const (
	OriginPublicExport     Origin = "public_export"
	OriginAuthenticatedAPI Origin = "authenticated_api"
	OriginLocalUpload      Origin = "local_upload"
)

// RawDocument holds fetched bytes until the extractor consumes them.
type RawDocument struct {
	Data     []byte
	Origin   Origin
	Name     string
	MimeType string
}

// StatusFunc receives human-readable progress notes. It may be nil.
type StatusFunc func(message string)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 100 << 20

	defaultDocsBase  = "https://docs.google.com"
	defaultDriveBase = "https://drive.google.com"
)

type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	newDrive   DriveFactory
	oauth      *oauth2.Config
	timeout    time.Duration
	maxBytes   int64
	docsBase   string
	driveBase  string
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

func WithDriveFactory(fn DriveFactory) Option {
	return func(f *Fetcher) { f.newDrive = fn }
}

// WithOAuthConfig lets expired credentials refresh themselves when a refresh
// token is present.
func WithOAuthConfig(cfg *oauth2.Config) Option {
	return func(f *Fetcher) { f.oauth = cfg }
}

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithRateLimit paces public export requests across all tasks.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) { f.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithBaseURLs(docs, drive string) Option {
	return func(f *Fetcher) {
		f.docsBase = strings.TrimRight(docs, "/")
		f.driveBase = strings.TrimRight(drive, "/")
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(5, 10),
		newDrive:   NewDriveClient,
		timeout:    DefaultTimeout,
		maxBytes:   DefaultMaxBytes,
		docsBase:   defaultDocsBase,
		driveBase:  defaultDriveBase,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type attempt struct {
	desc string
	fn   func(ctx context.Context) (*RawDocument, error)
}

// Fetch returns the raw bytes behind ref. Remote references walk an ordered
// chain of attempts and stop at the first success.
func (f *Fetcher) Fetch(ctx context.Context, ref source.Reference, creds *Credentials, status StatusFunc) (*RawDocument, error) {
	if ref.Kind == source.KindUpload {
		return &RawDocument{
			Data:     ref.Data,
			Origin:   OriginLocalUpload,
			Name:     ref.FileName,
			MimeType: ref.MIMEType,
		}, nil
	}
	if ref.DocumentID == "" {
		return nil, fmt.Errorf("%w: missing document id", ErrFetchFailed)
	}

	chain := f.attempts(ref, creds)
	for i, a := range chain {
		if status != nil {
			status(fmt.Sprintf("Fetching document: %s (%d/%d)", a.desc, i+1, len(chain)))
		}

		doc, err := f.run(ctx, a)
		if err == nil {
			slog.InfoContext(ctx, "document fetched", "attempt", a.desc, "origin", doc.Origin, "bytes", len(doc.Data))
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
		}
		slog.WarnContext(ctx, "fetch attempt failed", "attempt", a.desc, "index", i+1, "total", len(chain), "error", err)
	}

	// The authenticated error is the authoritative one (permission denied
	// rather than a public "not found"), so give it one more try and return it.
	if creds != nil {
		doc, err := f.run(ctx, f.authenticatedAttempt(ref.DocumentID, creds))
		if err == nil {
			return doc, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return nil, fmt.Errorf("%w: could not fetch document content: make sure the document is publicly accessible or authenticate with Google", ErrFetchFailed)
}

func (f *Fetcher) run(ctx context.Context, a attempt) (*RawDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return a.fn(ctx)
}

func (f *Fetcher) attempts(ref source.Reference, creds *Credentials) []attempt {
	var chain []attempt
	if creds != nil {
		chain = append(chain, f.authenticatedAttempt(ref.DocumentID, creds))
	}

	id := url.PathEscape(ref.DocumentID)
	docExport := fmt.Sprintf("%s/document/d/%s/export?format=", f.docsBase, id)

	if ref.NativeDoc {
		return append(chain,
			f.publicAttempt("plain-text export", docExport+"txt", MimeTypeText),
			f.publicAttempt("docx export", docExport+"docx", MimeTypeDocx),
			f.publicAttempt("mirror plain-text export", fmt.Sprintf("%s/document/u/0/d/%s/export?format=txt", f.docsBase, id), MimeTypeText),
		)
	}

	return append(chain,
		f.publicAttempt("direct download", fmt.Sprintf("%s/uc?export=download&id=%s", f.driveBase, url.QueryEscape(ref.DocumentID)), ""),
		f.publicAttempt("document plain-text export", docExport+"txt", MimeTypeText),
		f.publicAttempt("document docx export", docExport+"docx", MimeTypeDocx),
		f.publicAttempt("presentation plain-text export", fmt.Sprintf("%s/presentation/d/%s/export?format=txt", f.docsBase, id), MimeTypeText),
		f.publicAttempt("spreadsheet csv export", fmt.Sprintf("%s/spreadsheets/d/%s/export?format=csv", f.docsBase, id), MimeTypeCSV),
	)
}

func (f *Fetcher) authenticatedAttempt(id string, creds *Credentials) attempt {
	return attempt{
		desc: "authenticated Drive API",
		fn: func(ctx context.Context) (*RawDocument, error) {
			return f.fetchAuthenticated(ctx, id, creds)
		},
	}
}

func (f *Fetcher) publicAttempt(desc, target, mimeType string) attempt {
	return attempt{
		desc: desc,
		fn: func(ctx context.Context) (*RawDocument, error) {
			return f.fetchPublic(ctx, target, mimeType)
		},
	}
}

func (f *Fetcher) tokenSource(ctx context.Context, creds *Credentials) oauth2.TokenSource {
	if f.oauth != nil && creds.RefreshToken != "" {
		return f.oauth.TokenSource(ctx, creds.Token())
	}
	return oauth2.StaticTokenSource(creds.Token())
}

func (f *Fetcher) fetchAuthenticated(ctx context.Context, id string, creds *Credentials) (*RawDocument, error) {
	client, err := f.newDrive(ctx, f.tokenSource(ctx, creds))
	if err != nil {
		return nil, err
	}

	meta, err := client.Metadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get file metadata: %w", err)
	}

	var body io.ReadCloser
	mimeType := meta.MimeType
	if exportMime, ok := exportFormat(meta.MimeType); ok {
		body, err = client.Export(ctx, id, exportMime)
		mimeType = exportMime
	} else {
		body, err = client.Download(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", meta.Name, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", meta.Name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file %s has no content", meta.Name)
	}

	return &RawDocument{
		Data:     data,
		Origin:   OriginAuthenticatedAPI,
		Name:     meta.Name,
		MimeType: mimeType,
	}, nil
}

func (f *Fetcher) fetchPublic(ctx context.Context, target, mimeType string) (*RawDocument, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty response body")
	}
	// Private documents answer with a sign-in page instead of an error status.
	if isHTML(resp.Header.Get("Content-Type"), data) {
		return nil, errors.New("received an HTML page instead of document content")
	}

	if mimeType == "" {
		mimeType = SniffMimeType(data)
		// Later attempts in the chain export these as text.
		if mimeType == MimeTypeXlsx || mimeType == MimeTypePptx || mimeType == MimeTypeZip {
			return nil, fmt.Errorf("download is %s, not a document", mimeType)
		}
	}

	return &RawDocument{
		Data:     data,
		Origin:   OriginPublicExport,
		Name:     fileName(resp.Header.Get("Content-Disposition")),
		MimeType: mimeType,
	}, nil
}

// SniffMimeType classifies a blob by its magic bytes. Zip containers are
// told apart by their entries; one that cannot be opened is assumed DOCX.
func SniffMimeType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("PK")):
		return sniffZip(data)
	case bytes.HasPrefix(data, []byte("%PDF")):
		return MimeTypePDF
	default:
		return MimeTypeText
	}
}

func sniffZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return MimeTypeDocx
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return MimeTypeDocx
		case strings.HasPrefix(f.Name, "xl/"):
			return MimeTypeXlsx
		case strings.HasPrefix(f.Name, "ppt/"):
			return MimeTypePptx
		}
	}
	return MimeTypeZip
}

func isHTML(contentType string, data []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/html" {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 256)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func fileName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
