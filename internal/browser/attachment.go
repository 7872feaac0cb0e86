package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitescraper/internal/classify"
)

// AttachmentConfig controls the direct download client.
type AttachmentConfig struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps the download in bytes; zero means unlimited.
	MaxBodySize int
}

// Attachment is a file fetched outside the browser.
type Attachment struct {
	FinalURL string
	FileName string
	Body     io.ReadCloser
	Err      error
}

// AttachmentFetcher downloads URLs whose browser navigation was aborted
// because the server answered with an attachment.
type AttachmentFetcher struct {
	cfg       AttachmentConfig
	collector *colly.Collector
}

// NewAttachmentFetcher builds a fetcher backed by a Colly collector.
func NewAttachmentFetcher(cfg AttachmentConfig) *AttachmentFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &AttachmentFetcher{cfg: cfg, collector: c}
}

// Fetch starts the download and delivers exactly one Attachment on the
// returned channel. If ctx ends first the result is still delivered to the
// buffered channel and can be dropped.
func (f *AttachmentFetcher) Fetch(ctx context.Context, rawURL string) <-chan Attachment {
	out := make(chan Attachment, 1)
	collector := f.collector.Clone()

	var result Attachment
	collector.OnResponse(func(r *colly.Response) {
		finalURL := r.Request.URL.String()
		name := classify.Classify(
			r.Headers.Get("Content-Type"),
			r.Headers.Get("Content-Disposition"),
			finalURL,
		).FileName
		if name == "" {
			name = classify.FileNameFromURL(finalURL, classify.MediaType(r.Headers.Get("Content-Type")))
		}
		result = Attachment{
			FinalURL: finalURL,
			FileName: name,
			Body:     io.NopCloser(bytes.NewReader(append([]byte(nil), r.Body...))),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.Err = fmt.Errorf("download attachment: HTTP %d: %w", r.StatusCode, err)
			return
		}
		result.Err = fmt.Errorf("download attachment: %w", err)
	})

	go func() {
		if err := ctx.Err(); err != nil {
			out <- Attachment{Err: err}
			return
		}
		if err := collector.Visit(rawURL); err != nil && result.Err == nil {
			result.Err = fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if result.Err == nil && result.Body == nil {
			result.Err = fmt.Errorf("download attachment %s: empty response", rawURL)
		}
		out <- result
	}()
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
