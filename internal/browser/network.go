package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// documentResponse is the main-frame response of a navigation.
type documentResponse struct {
	requestID  network.RequestID
	status     int
	statusText string
	headers    http.Header
	url        string
}

// pageWatch follows target events during one navigation.
type pageWatch struct {
	mu       sync.RWMutex
	frameID  cdp.FrameID
	response documentResponse
	idle     chan struct{}
	idleOnce sync.Once
}

func newPageWatch() *pageWatch {
	return &pageWatch{idle: make(chan struct{})}
}

func (w *pageWatch) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		w.captureResponse(e)
	case *page.EventLifecycleEvent:
		if e.Name != "networkIdle" {
			return
		}
		w.mu.RLock()
		main := w.frameID != "" && e.FrameID == w.frameID
		w.mu.RUnlock()
		if main {
			w.idleOnce.Do(func() { close(w.idle) })
		}
	}
}

// captureResponse records the first document response and later document
// responses of the same frame.
func (w *pageWatch) captureResponse(e *network.EventResponseReceived) {
	if e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frameID != "" && e.FrameID != w.frameID {
		return
	}
	w.frameID = e.FrameID
	w.response = documentResponse{
		requestID:  e.RequestID,
		status:     int(e.Response.Status),
		statusText: e.Response.StatusText,
		headers:    toHTTPHeader(e.Response.Headers),
		url:        e.Response.URL,
	}
}

func (w *pageWatch) document() documentResponse {
	w.mu.RLock()
	defer w.mu.RUnlock()
	resp := w.response
	resp.headers = resp.headers.Clone()
	if resp.headers == nil {
		resp.headers = http.Header{}
	}
	return resp
}

func toHTTPHeader(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			for _, line := range strings.Split(v, "\n") {
				headers.Add(key, line)
			}
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

type navErrorKind int

const (
	navOther navErrorKind = iota
	navTimeout
	navConnect
	navAborted
)

var connectErrors = []string{
	"net::ERR_CONNECTION_REFUSED",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_NAME_NOT_RESOLVED",
}

func navigationErrorKind(err error, timedOut bool) navErrorKind {
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return navTimeout
	}
	msg := err.Error()
	for _, marker := range connectErrors {
		if strings.Contains(msg, marker) {
			return navConnect
		}
	}
	if strings.Contains(msg, "net::ERR_ABORTED") {
		return navAborted
	}
	return navOther
}
