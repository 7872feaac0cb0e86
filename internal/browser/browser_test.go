package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	b := New(Config{}, nil)
	assert.Equal(t, 30*time.Second, b.cfg.NavigationTimeout)
	assert.Equal(t, 30*time.Second, b.cfg.IdleTimeout)
	assert.Equal(t, 90, b.cfg.ScrollStepsLimit)
}

func TestOpenRejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zap.NewNop())
	for _, raw := range []string{"ftp://example.com/a.zip", "mailto:someone@example.com", "gopher://x"} {
		outcome, err := b.Open(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, crawler.OutcomeUnsupportedScheme, outcome.Status, raw)
		assert.Equal(t, raw, outcome.OriginalURL)
	}
}

func TestClosedBrowserIsNotStarted(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zap.NewNop())
	require.NoError(t, b.Close())
	_, err := b.Open(context.Background(), "https://example.com/")
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = b.PageContent(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestNavigationErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		timedOut bool
		want     navErrorKind
	}{
		{errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), false, navConnect},
		{errors.New("page load error net::ERR_CONNECTION_REFUSED"), false, navConnect},
		{errors.New("page load error net::ERR_CONNECTION_TIMED_OUT"), false, navConnect},
		{errors.New("page load error net::ERR_ABORTED"), false, navAborted},
		{errors.New("page load error net::ERR_CERT_INVALID"), false, navOther},
		{fmt.Errorf("navigate: %w", context.DeadlineExceeded), false, navTimeout},
		{errors.New("anything"), true, navTimeout},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, navigationErrorKind(tc.err, tc.timedOut), tc.err.Error())
	}
}

func TestNavigationFailedOutcomes(t *testing.T) {
	t.Parallel()

	b := New(Config{NavigationTimeout: time.Second}, zap.NewNop())

	out, err := b.navigationFailed(context.Background(), &crawler.Outcome{OriginalURL: "http://x"},
		errors.New("page load error net::ERR_CONNECTION_REFUSED"), false)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeCantConnect, out.Status)
	assert.Contains(t, out.ErrorMessage, "Connection error: ")

	out, err = b.navigationFailed(context.Background(), &crawler.Outcome{OriginalURL: "http://x"},
		context.DeadlineExceeded, true)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeFailedToLoad, out.Status)
	assert.Contains(t, out.ErrorMessage, "Page load timed out after 1s")

	out, err = b.navigationFailed(context.Background(), &crawler.Outcome{OriginalURL: "http://x"},
		errors.New("page load error net::ERR_SSL_PROTOCOL_ERROR"), false)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeFailedToLoad, out.Status)
	assert.Equal(t, "Browser error: page load error net::ERR_SSL_PROTOCOL_ERROR", out.ErrorMessage)
}

func TestAbortedNavigationFallsBackToDirectDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	b := New(Config{}, zap.NewNop())
	aborted := errors.New("page load error net::ERR_ABORTED")

	out, err := b.navigationFailed(context.Background(), &crawler.Outcome{OriginalURL: srv.URL + "/get"}, aborted, false)
	require.NoError(t, err)
	defer func() { _ = out.Close() }()
	assert.Equal(t, crawler.OutcomePageWithAttachment, out.Status)
	assert.Equal(t, "report.pdf", out.ContentName)
	assert.Equal(t, srv.URL+"/get", out.FinalURL)
	stream, ok := out.Content.(crawler.StreamContent)
	require.True(t, ok)
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(body))

	out, err = b.navigationFailed(context.Background(), &crawler.Outcome{OriginalURL: srv.URL + "/missing"}, aborted, false)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeFailedToLoad, out.Status)
	assert.Contains(t, out.ErrorMessage, "potentially triggered by a download link")
}

func TestPageWatchTracksMainDocument(t *testing.T) {
	t.Parallel()

	w := newPageWatch()
	w.handle(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: cdp.FrameID("main")})
	select {
	case <-w.idle:
		t.Fatal("idle before the document response")
	default:
	}

	w.handle(&network.EventResponseReceived{
		RequestID: "req-1",
		FrameID:   cdp.FrameID("main"),
		Type:      network.ResourceTypeDocument,
		Response: &network.Response{
			Status:     200,
			StatusText: "OK",
			URL:        "https://example.com/landing",
			Headers:    network.Headers{"Content-Type": "text/html", "Set-Cookie": "a=1\nb=2"},
		},
	})
	w.handle(&network.EventResponseReceived{
		RequestID: "req-2",
		FrameID:   cdp.FrameID("ad-frame"),
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{Status: 404, URL: "https://ads.example.net/"},
	})
	w.handle(&network.EventResponseReceived{
		RequestID: "req-3",
		FrameID:   cdp.FrameID("main"),
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{Status: 500},
	})

	doc := w.document()
	assert.Equal(t, network.RequestID("req-1"), doc.requestID)
	assert.Equal(t, 200, doc.status)
	assert.Equal(t, "https://example.com/landing", doc.url)
	assert.Equal(t, "text/html", doc.headers.Get("Content-Type"))
	assert.Equal(t, []string{"a=1", "b=2"}, doc.headers.Values("Set-Cookie"))

	w.handle(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: cdp.FrameID("ad-frame")})
	w.handle(&page.EventLifecycleEvent{Name: "load", FrameID: cdp.FrameID("main")})
	select {
	case <-w.idle:
		t.Fatal("idle signalled by another frame")
	default:
	}
	w.handle(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: cdp.FrameID("main")})
	w.handle(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: cdp.FrameID("main")})
	select {
	case <-w.idle:
	default:
		t.Fatal("expected idle after main frame networkIdle")
	}
}

func TestToHTTPHeaderValueShapes(t *testing.T) {
	t.Parallel()

	h := toHTTPHeader(network.Headers{
		"X-One":   "a",
		"X-Many":  []string{"b", "c"},
		"X-Any":   []interface{}{"d", 1},
		"X-Other": 42,
	})
	assert.Equal(t, "a", h.Get("X-One"))
	assert.Equal(t, []string{"b", "c"}, h.Values("X-Many"))
	assert.Equal(t, []string{"d", "1"}, h.Values("X-Any"))
	assert.Equal(t, "42", h.Get("X-Other"))
}
