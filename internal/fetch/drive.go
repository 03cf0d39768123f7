package fetch

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Google Workspace MIME types and the formats they are exported as.
const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"

	MimeTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypePptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeTypeZip  = "application/zip"
	MimeTypePDF  = "application/pdf"
	MimeTypeText = "text/plain"
	MimeTypeCSV  = "text/csv"
)

// Credentials are OAuth2 tokens for the Drive API, possibly already refreshed
// by the caller.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}
}

// OAuthConfig returns the refresh configuration for a Google OAuth client, or
// nil when no client id is configured.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	if clientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveReadonlyScope},
	}
}

type FileMeta struct {
	ID       string
	Name     string
	MimeType string
}

// DriveClient is the slice of the Drive v3 API the fetcher needs.
type DriveClient interface {
	Metadata(ctx context.Context, id string) (*FileMeta, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Export(ctx context.Context, id, mimeType string) (io.ReadCloser, error)
}

type DriveFactory func(ctx context.Context, ts oauth2.TokenSource) (DriveClient, error)

type googleDrive struct {
	svc *drive.Service
}

// NewDriveClient creates a Drive API client using the provided TokenSource.
func NewDriveClient(ctx context.Context, ts oauth2.TokenSource) (DriveClient, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &googleDrive{svc: svc}, nil
}

func (d *googleDrive) Metadata(ctx context.Context, id string) (*FileMeta, error) {
	f, err := d.svc.Files.Get(id).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType").
		Context(ctx).
		Do()
	if err != nil {
		return nil, WrapError(err)
	}
	return &FileMeta{ID: f.Id, Name: f.Name, MimeType: f.MimeType}, nil
}

func (d *googleDrive) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, WrapError(err)
	}
	return resp.Body, nil
}

func (d *googleDrive) Export(ctx context.Context, id, mimeType string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Export(id, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, WrapError(err)
	}
	return resp.Body, nil
}

// exportFormat picks the export MIME type for Workspace files. Docs go out as
// DOCX so hard page breaks survive.
func exportFormat(mimeType string) (string, bool) {
	switch mimeType {
	case MimeTypeGoogleDoc:
		return MimeTypeDocx, true
	case MimeTypeGoogleSheet:
		return MimeTypeCSV, true
	case MimeTypeGoogleSlides:
		return MimeTypeText, true
	default:
		return "", false
	}
}
