package source

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidReference = errors.New("invalid document reference")

type Kind string

const (
	KindDrive  Kind = "google_drive"
	KindUpload Kind = "local_upload"
)

// Reference is a resolved document reference. Drive references carry a
// document id; uploads carry the bytes as received.
type Reference struct {
	Kind Kind

	Input      string
	DocumentID string
	// NativeDoc is set when the input pointed at a Google Docs document,
	// which narrows the public export URLs worth trying.
	NativeDoc bool

	Data     []byte
	FileName string
	MIMEType string
}

// idPatterns are tried in order; the first match wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/([a-zA-Z0-9_-]+)/?$`),
}

// ExtractDocumentID pulls the Drive identifier out of a sharing URL or
// returns the input unchanged when it already looks like a bare id.
func ExtractDocumentID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidReference)
	}

	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(input); m != nil {
			return m[1], nil
		}
	}

	if !strings.ContainsAny(input, "/.") {
		return input, nil
	}

	return "", fmt.Errorf("%w: could not extract document id from %q", ErrInvalidReference, input)
}

func ResolveRemote(input string) (Reference, error) {
	id, err := ExtractDocumentID(input)
	if err != nil {
		return Reference{}, err
	}
	return Reference{
		Kind:       KindDrive,
		Input:      strings.TrimSpace(input),
		DocumentID: id,
		NativeDoc:  strings.Contains(input, "/document/"),
	}, nil
}

func ResolveUpload(data []byte, fileName, mimeType string) (Reference, error) {
	if len(data) == 0 {
		return Reference{}, fmt.Errorf("%w: empty upload", ErrInvalidReference)
	}
	return Reference{
		Kind:     KindUpload,
		Data:     data,
		FileName: fileName,
		MIMEType: mimeType,
	}, nil
}

// Identity is the stable cache identity of the referenced document.
func (r Reference) Identity() string {
	if r.Kind == KindUpload {
		return fmt.Sprintf("upload:%x", sha256.Sum256(r.Data))
	}
	return r.DocumentID
}

// Display is a short human-readable description used for persisted records.
func (r Reference) Display() string {
	if r.Kind == KindUpload {
		return r.FileName
	}
	if r.Input != "" {
		return r.Input
	}
	return r.DocumentID
}
