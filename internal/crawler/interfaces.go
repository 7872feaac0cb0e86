package crawler

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested address or page does not exist.
var ErrNotFound = errors.New("record not found")

// AddressKey is the normalized identity used to look an Address up.
type AddressKey struct {
	Scheme string
	Domain string
	// Port is the effective port of the URL being looked up.
	Port        int
	Path        string
	Query       string
	IgnoreQuery bool
}

// Matches applies the identity rules: scheme and domain compare
// case-insensitively, a recorded port must equal the key's port, paths match
// regardless of one trailing slash, and the query only matters when not ignored.
func (k AddressKey) Matches(a Address) bool {
	if !strings.EqualFold(a.Scheme, k.Scheme) || a.Domain != strings.ToLower(k.Domain) {
		return false
	}
	if a.Port != 0 && a.Port != k.Port {
		return false
	}
	if a.Path != k.Path && a.Path+"/" != k.Path && a.Path != k.Path+"/" {
		return false
	}
	return k.IgnoreQuery || a.Query == k.Query
}

// AddressStore persists addresses.
type AddressStore interface {
	GetAddress(ctx context.Context, id int64) (Address, error)
	// FindAddress returns the lowest-id address matching key, or ErrNotFound.
	FindAddress(ctx context.Context, key AddressKey) (Address, error)
	// CreateAddress inserts the address and assigns its ID.
	CreateAddress(ctx context.Context, address *Address) error
	UpdateAddress(ctx context.Context, address Address) error
	// NextFresh returns the lowest-id Fresh address, restricted to domain when
	// it is non-empty, or ErrNotFound.
	NextFresh(ctx context.Context, domain string) (Address, error)
}

// PageStore persists page snapshots.
type PageStore interface {
	// CreatePage inserts the page and assigns its ID.
	CreatePage(ctx context.Context, page *Page) error
	GetPage(ctx context.Context, id int64) (Page, error)
	// ListPagesAfter returns up to limit pages with ID > afterID in ascending ID order.
	ListPagesAfter(ctx context.Context, afterID int64, limit int) ([]Page, error)
	CountPages(ctx context.Context) (int64, error)
}

// Store combines address and page persistence.
type Store interface {
	AddressStore
	PageStore
	Close() error
}

// Browser is the headless-browser acquisition channel. It is not safe for
// concurrent use; callers drive it from a single goroutine.
type Browser interface {
	Open(ctx context.Context, url string) (*Outcome, error)
	ScrollDown(ctx context.Context, pixels int) error
	ScrollToBottom(ctx context.Context) error
	KeepScrollingDown(ctx context.Context) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	CapturePageImage(ctx context.Context) ([]byte, error)
	CapturePDF(ctx context.Context) ([]byte, error)
	PageContent(ctx context.Context) (string, error)
	IsOriginalWindowShown(ctx context.Context) (bool, error)
}

// Credentials authenticate an FTP session.
type Credentials struct {
	Username string
	Password string
}

// FTPDownloader is the FTP acquisition channel.
type FTPDownloader interface {
	Download(ctx context.Context, url string, creds *Credentials, targetDir string) (*Outcome, error)
}

// CaptureKind names one of the audit captures taken of every HTML page.
type CaptureKind string

// Capture kinds.
const (
	CaptureScreenshot CaptureKind = "screenshot"
	CapturePageImage  CaptureKind = "wholePage"
	CapturePDF        CaptureKind = "page"
)

// FileStore persists downloadable content and captures per content group.
type FileStore interface {
	// GroupDir returns (creating it if needed) the local directory for address artifacts.
	GroupDir(address Address) (string, error)
	SaveDownloadable(ctx context.Context, address Address, outcome *Outcome) (string, ContentType, error)
	SaveCapture(ctx context.Context, address Address, kind CaptureKind, data []byte) (string, error)
}

// BlobStore mirrors saved artifacts to object storage. It returns the URI of
// the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Asker queries an AI model, optionally about an image.
type Asker interface {
	Ask(ctx context.Context, prompt, imagePath string) (string, error)
}

// Confirmer pauses for an operator decision. It returns false when the
// operator chooses to skip and an error when ctx ends first.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
