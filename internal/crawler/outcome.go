package crawler

import (
	"fmt"
	"io"
)

// OutcomeStatus tags the result of a single acquisition attempt.
type OutcomeStatus int

// Acquisition outcome statuses.
const (
	OutcomeOk OutcomeStatus = iota
	OutcomeOkButNetworkActive
	OutcomeCantConnect
	OutcomeFailedToLoad
	OutcomeRequiresUserAction
	OutcomeDownloadableContent
	OutcomeUnsupportedContentType
	OutcomeUnsupportedScheme
	OutcomePageWithAttachment
)

var outcomeStatusNames = [...]string{
	OutcomeOk:                     "Ok",
	OutcomeOkButNetworkActive:     "OkButNetworkActive",
	OutcomeCantConnect:            "CantConnect",
	OutcomeFailedToLoad:           "FailedToLoad",
	OutcomeRequiresUserAction:     "RequiresUserAction",
	OutcomeDownloadableContent:    "DownloadableContent",
	OutcomeUnsupportedContentType: "UnsupportedContentType",
	OutcomeUnsupportedScheme:      "UnsupportedScheme",
	OutcomePageWithAttachment:     "PageWithAttachment",
}

func (s OutcomeStatus) String() string {
	if s < 0 || int(s) >= len(outcomeStatusNames) {
		return fmt.Sprintf("OutcomeStatus(%d)", int(s))
	}
	return outcomeStatusNames[s]
}

// Downloadable reports whether the outcome carries content to be saved as a file.
func (s OutcomeStatus) Downloadable() bool {
	return s == OutcomeDownloadableContent || s == OutcomePageWithAttachment
}

// Content is the body of a downloadable outcome. It is one of TextContent,
// BinaryContent, or StreamContent.
type Content interface {
	isContent()
}

// TextContent is a body that decoded as text.
type TextContent string

// BinaryContent is a body that could only be read as bytes.
type BinaryContent []byte

// StreamContent is a body handed over as a stream, typically a browser download.
type StreamContent struct {
	io.ReadCloser
}

func (TextContent) isContent()   {}
func (BinaryContent) isContent() {}
func (StreamContent) isContent() {}

// Outcome is the transient result of one fetch attempt.
type Outcome struct {
	OriginalURL      string
	FinalURL         string
	Status           OutcomeStatus
	ErrorMessage     string
	UserActionNeeded string
	ContentName      string
	Content          Content
	// SavedPath is set by channels that already wrote the content to disk.
	SavedPath string
}

// Close releases a stream body, if any.
func (o *Outcome) Close() error {
	if o == nil {
		return nil
	}
	if s, ok := o.Content.(StreamContent); ok && s.ReadCloser != nil {
		return s.Close()
	}
	return nil
}
