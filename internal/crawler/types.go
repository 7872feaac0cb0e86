package crawler

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"
)

// AddressStatus is the lifecycle state of an Address. Values are persisted as
// integers, so the order must not change.
type AddressStatus int

// Address status values.
const (
	StatusFresh AddressStatus = iota
	StatusOpening
	StatusVisited
	StatusDuplicate
	StatusUnsupported
	StatusFailedToOpen
	StatusErrorOnPage
	StatusRequiresUserAction
	StatusFlaggedToSkip
)

var addressStatusNames = [...]string{
	StatusFresh:              "Fresh",
	StatusOpening:            "Opening",
	StatusVisited:            "Visited",
	StatusDuplicate:          "Duplicate",
	StatusUnsupported:        "Unsupported",
	StatusFailedToOpen:       "FailedToOpen",
	StatusErrorOnPage:        "ErrorOnPage",
	StatusRequiresUserAction: "RequiresUserAction",
	StatusFlaggedToSkip:      "FlaggedToSkip",
}

func (s AddressStatus) String() string {
	if s < 0 || int(s) >= len(addressStatusNames) {
		return fmt.Sprintf("AddressStatus(%d)", int(s))
	}
	return addressStatusNames[s]
}

// Valid reports whether s is one of the declared statuses.
func (s AddressStatus) Valid() bool {
	return s >= StatusFresh && s <= StatusFlaggedToSkip
}

// Terminal reports whether s ends a visit attempt. Only Fresh and Opening are
// non-terminal.
func (s AddressStatus) Terminal() bool {
	return s.Valid() && s != StatusFresh && s != StatusOpening
}

// ContentType classifies stored page content. Values are persisted.
type ContentType int

// Page content types.
const (
	ContentHTML ContentType = iota
	ContentCompressedHTML
	ContentText
	ContentCompressedText
	ContentImage
	ContentPDF
	ContentBinary
)

var contentTypeNames = [...]string{
	ContentHTML:           "Html",
	ContentCompressedHTML: "CompressedHtml",
	ContentText:           "Text",
	ContentCompressedText: "CompressedText",
	ContentImage:          "Image",
	ContentPDF:            "Pdf",
	ContentBinary:         "Binary",
}

func (c ContentType) String() string {
	if c < 0 || int(c) >= len(contentTypeNames) {
		return fmt.Sprintf("ContentType(%d)", int(c))
	}
	return contentTypeNames[c]
}

// Compressed reports whether content of this type is stored gzip-compressed.
func (c ContentType) Compressed() bool {
	return c == ContentCompressedHTML || c == ContentCompressedText
}

// Markup reports whether the content is HTML and thus eligible for link extraction.
func (c ContentType) Markup() bool {
	return c == ContentHTML || c == ContentCompressedHTML
}

// Annotations is the append-only audit trail attached to an Address.
type Annotations []string

// String joins the annotations for presentation.
func (a Annotations) String() string {
	return strings.Join(a, "; ")
}

// Address is a normalized crawl target.
type Address struct {
	ID           int64         `json:"id"`
	Status       AddressStatus `json:"status"`
	Comments     Annotations   `json:"comments,omitempty"`
	Tags         string        `json:"tags,omitempty"`
	ContentGroup string        `json:"content_group,omitempty"`
	Scheme       string        `json:"scheme"`
	Domain       string        `json:"domain"`
	// Port is zero when the scheme's default port is used.
	Port int    `json:"port,omitempty"`
	Path string `json:"path"`
	// Query keeps the leading "?" and is empty when the URL had none.
	Query string `json:"query,omitempty"`
}

// Annotate appends a non-blank note to the comment log.
func (a *Address) Annotate(note string) {
	if strings.TrimSpace(note) == "" {
		return
	}
	a.Comments = append(a.Comments, note)
}

// Page is a stored snapshot of one Address.
type Page struct {
	ID        int64 `json:"id"`
	AddressID int64 `json:"address_id"`
	// Content holds the raw (or gzip-compressed) body; ContentPath is used
	// instead when the content lives on disk.
	Content     []byte      `json:"-"`
	ContentPath string      `json:"content_path,omitempty"`
	ContentType ContentType `json:"content_type"`
	Downloaded  time.Time   `json:"downloaded"`
	Tags        string      `json:"tags,omitempty"`
}

// Text returns the page content as a string, decompressing it when needed.
func (p Page) Text() (string, error) {
	if !p.ContentType.Compressed() {
		return string(p.Content), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(p.Content))
	if err != nil {
		return "", fmt.Errorf("open compressed content of page %d: %w", p.ID, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompress content of page %d: %w", p.ID, err)
	}
	return string(raw), nil
}

// Compress gzips text for storage as one of the compressed content types.
func Compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("compress content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed content: %w", err)
	}
	return buf.Bytes(), nil
}

// Link is an anchor found in an HTML document.
type Link struct {
	Href string
	Text string
}
