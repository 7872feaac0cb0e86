// Package classify decides what an acquisition response is: an HTML page to
// crawl, a downloadable file, or content the scraper cannot handle.
package classify

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Disposition is the verdict derived from response headers.
type Disposition struct {
	// Status is OutcomeOk for HTML, OutcomeDownloadableContent or
	// OutcomeUnsupportedContentType otherwise.
	Status       crawler.OutcomeStatus
	MediaType    string
	FileName     string
	ErrorMessage string
}

var supportedTypes = func() map[string]struct{} {
	types := []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain",
		"application/xml",
		"text/xml",
		"application/json",
		"application/zip",
		"application/gzip",
		"application/x-tar",
		"application/x-7z-compressed",
		"application/x-rar-compressed",
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}()

// MediaType returns the lower-cased media type of a content-type header value.
func MediaType(contentType string) string {
	media, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(media))
}

// Supported reports whether media is a non-HTML type saved as a file.
func Supported(media string) bool {
	if strings.HasPrefix(media, "image/") {
		return true
	}
	_, ok := supportedTypes[media]
	return ok
}

func isHTML(media string) bool {
	return media == "" || media == "text/html" || media == "application/xhtml+xml"
}

// Classify maps the content-type and content-disposition headers of the
// response for finalURL to a disposition.
func Classify(contentType, contentDisposition, finalURL string) Disposition {
	media := MediaType(contentType)
	d := Disposition{Status: crawler.OutcomeOk, MediaType: media}

	if name, attached := attachmentName(contentDisposition); attached {
		d.Status = crawler.OutcomeDownloadableContent
		d.FileName = name
		if d.FileName == "" {
			d.FileName = FileNameFromURL(finalURL, media)
		}
		return d
	}
	switch {
	case Supported(media):
		d.Status = crawler.OutcomeDownloadableContent
		d.FileName = FileNameFromURL(finalURL, media)
	case !isHTML(media):
		d.Status = crawler.OutcomeUnsupportedContentType
		d.ErrorMessage = "Unknown content type: " + contentType
	}
	return d
}

// attachmentName reports whether the disposition marks a file and returns
// its filename, if any. A bare "inline" disposition does not.
func attachmentName(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	kind, params, err := mime.ParseMediaType(header)
	if err != nil {
		name := rawFilename(header)
		return name, name != "" || strings.HasPrefix(strings.ToLower(header), "attachment")
	}
	name := strings.Trim(params["filename"], `"' `)
	return name, name != "" || kind == "attachment"
}

func rawFilename(header string) string {
	lower := strings.ToLower(header)
	idx := strings.Index(lower, "filename=")
	if idx < 0 {
		return ""
	}
	value := header[idx+len("filename="):]
	if end := strings.Index(value, ";"); end >= 0 {
		value = value[:end]
	}
	return strings.Trim(value, `"' `)
}

// FileNameFromURL builds a file name from the URL with an extension inferred
// from media.
func FileNameFromURL(rawURL, media string) string {
	base := crawler.SanitizeFileName(strings.TrimRight(rawURL, "/"))
	return base + Extension(media)
}

// Extension returns the conventional file extension for media, with a dot.
func Extension(media string) string {
	if mt := mimetype.Lookup(media); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}

const unreadableBody = "Content-type not set and content doesn't seem to be text."

// ReadBody attaches the response body to a downloadable outcome: valid UTF-8
// becomes TextContent, anything else BinaryContent. When read fails the
// outcome is reclassified as UnsupportedContentType.
func ReadBody(outcome *crawler.Outcome, read func() ([]byte, error)) {
	body, err := read()
	if err != nil {
		outcome.Status = crawler.OutcomeUnsupportedContentType
		outcome.ErrorMessage = unreadableBody
		outcome.Content = nil
		return
	}
	if utf8.Valid(body) {
		outcome.Content = crawler.TextContent(body)
		return
	}
	outcome.Content = crawler.BinaryContent(body)
}

// Apply copies a disposition onto an outcome.
func (d Disposition) Apply(outcome *crawler.Outcome) {
	if d.Status == crawler.OutcomeOk {
		return
	}
	outcome.Status = d.Status
	outcome.ContentName = d.FileName
	if d.ErrorMessage != "" {
		outcome.ErrorMessage = d.ErrorMessage
	}
}
