// Package browser drives a headless Chrome through chromedp and implements
// crawler.Browser: it opens pages, classifies what came back, scrolls,
// captures the page and reports on open windows.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/classify"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// ErrNotStarted is returned when the browser was closed or failed to start.
var ErrNotStarted = errors.New("browser not started")

// Config controls the Chrome instance.
type Config struct {
	// HideUI runs Chrome headless.
	HideUI            bool
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleTimeout bounds the wait for network idle after the load event.
	IdleTimeout      time.Duration
	ScrollStepsLimit int
	// AttachmentTimeout bounds the direct download used when navigation is
	// aborted by an attachment.
	AttachmentTimeout time.Duration
}

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultScrollStepsLimit  = 90
)

// Browser owns one Chrome tab. It starts Chrome on first use and must be
// driven from a single goroutine.
type Browser struct {
	cfg         Config
	attachments *AttachmentFetcher
	logger      *zap.Logger
	sleep       func(context.Context, time.Duration) error
	rnd         *rand.Rand

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      bool
}

// New configures a Browser. Chrome is launched lazily by Start or the first
// page operation.
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ScrollStepsLimit <= 0 {
		cfg.ScrollStepsLimit = defaultScrollStepsLimit
	}
	attachments := NewAttachmentFetcher(AttachmentConfig{UserAgent: cfg.UserAgent, Timeout: cfg.AttachmentTimeout})
	return &Browser{
		cfg:         cfg,
		attachments: attachments,
		logger:      logger.Named("browser"),
		sleep:       sleepContext,
		rnd:         newJitter(),
	}
}

// Start launches Chrome and opens the working tab.
func (b *Browser) Start(ctx context.Context) error {
	_, err := b.tab(ctx)
	return err
}

func (b *Browser) tab(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrNotStarted
	}
	if b.tabCtx != nil {
		return b.tabCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.HideUI),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(b.logger.Sugar().Debugf))

	if err := chromedp.Run(tabCtx, b.setupAction()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.allocCtx, b.allocCancel = allocCtx, allocCancel
	b.tabCtx, b.tabCancel = tabCtx, tabCancel
	b.logger.Info("browser started", zap.Bool("headless", b.cfg.HideUI))
	return tabCtx, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the tab while honoring the caller's ctx.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := b.tab(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := joinContext(tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close shuts Chrome down. The Browser cannot be used afterwards.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.tabCtx, b.allocCtx = nil, nil
	return nil
}

// Open navigates to rawURL and waits for it to settle. Navigation problems
// are reported in the Outcome; the error is non-nil only when ctx ended or
// the browser is unusable.
func (b *Browser) Open(ctx context.Context, rawURL string) (*crawler.Outcome, error) {
	outcome := &crawler.Outcome{OriginalURL: rawURL}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		outcome.Status = crawler.OutcomeUnsupportedScheme
		return outcome, nil
	}
	tabCtx, err := b.tab(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.ObserveNavigation(rawURL, outcome.Status.String(), time.Since(start))
	}()

	watch := newPageWatch()
	listenCtx, stopListening := context.WithCancel(tabCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, watch.handle)

	navCtx, cancel := joinContext(tabCtx, ctx)
	defer cancel()
	navCtx, cancelNav := context.WithTimeout(navCtx, b.cfg.NavigationTimeout)
	defer cancelNav()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("open %s: %w", rawURL, ctxErr)
		}
		return b.navigationFailed(ctx, outcome, err, errors.Is(navCtx.Err(), context.DeadlineExceeded))
	}

	resp := watch.document()
	if resp.status == 0 {
		outcome.Status = crawler.OutcomeFailedToLoad
		outcome.ErrorMessage = "No response received from the page"
		return outcome, nil
	}
	if resp.status < 200 || resp.status > 299 {
		outcome.Status = crawler.OutcomeFailedToLoad
		outcome.ErrorMessage = fmt.Sprintf("HTTP %d: %s", resp.status, resp.statusText)
		return outcome, nil
	}

	idle := b.waitIdle(ctx, watch)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open %s: %w", rawURL, err)
	}

	var location string
	if err := b.run(ctx, chromedp.Location(&location)); err != nil || location == "" {
		location = resp.url
	}
	outcome.FinalURL = location

	disposition := classify.Classify(resp.headers.Get("Content-Type"), resp.headers.Get("Content-Disposition"), location)
	disposition.Apply(outcome)
	switch {
	case outcome.Status == crawler.OutcomeDownloadableContent:
		classify.ReadBody(outcome, func() ([]byte, error) {
			return b.responseBody(ctx, resp.requestID)
		})
	case outcome.Status != crawler.OutcomeOk:
	case idle:
		outcome.Status = crawler.OutcomeOk
	default:
		outcome.Status = crawler.OutcomeOkButNetworkActive
	}
	return outcome, nil
}

func (b *Browser) navigationFailed(ctx context.Context, outcome *crawler.Outcome, err error, timedOut bool) (*crawler.Outcome, error) {
	switch navigationErrorKind(err, timedOut) {
	case navTimeout:
		outcome.Status = crawler.OutcomeFailedToLoad
		outcome.ErrorMessage = fmt.Sprintf("Page load timed out after %s: %v", b.cfg.NavigationTimeout, err)
	case navConnect:
		outcome.Status = crawler.OutcomeCantConnect
		outcome.ErrorMessage = "Connection error: " + err.Error()
	case navAborted:
		return b.downloadAttachment(ctx, outcome, err)
	default:
		outcome.Status = crawler.OutcomeFailedToLoad
		outcome.ErrorMessage = "Browser error: " + err.Error()
	}
	return outcome, nil
}

// downloadAttachment fetches a URL whose navigation Chrome aborted, which
// happens when the response is served as an attachment.
func (b *Browser) downloadAttachment(ctx context.Context, outcome *crawler.Outcome, navErr error) (*crawler.Outcome, error) {
	select {
	case res := <-b.attachments.Fetch(ctx, outcome.OriginalURL):
		if res.Err != nil {
			outcome.Status = crawler.OutcomeFailedToLoad
			outcome.ErrorMessage = fmt.Sprintf(
				"page aborted for url: %s (potentially triggered by a download link). Message: %v",
				outcome.OriginalURL, navErr)
			b.logger.Debug("attachment download failed", zap.String("url", outcome.OriginalURL), zap.Error(res.Err))
			return outcome, nil
		}
		outcome.Status = crawler.OutcomePageWithAttachment
		outcome.FinalURL = res.FinalURL
		outcome.ContentName = res.FileName
		outcome.Content = crawler.StreamContent{ReadCloser: res.Body}
		return outcome, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("download attachment %s: %w", outcome.OriginalURL, ctx.Err())
	}
}

func (b *Browser) waitIdle(ctx context.Context, watch *pageWatch) bool {
	timer := time.NewTimer(b.cfg.IdleTimeout)
	defer timer.Stop()
	select {
	case <-watch.idle:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Browser) responseBody(ctx context.Context, requestID network.RequestID) ([]byte, error) {
	if requestID == "" {
		return nil, errors.New("main document request is unknown")
	}
	var body []byte
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// PageContent returns the current DOM serialized as HTML.
func (b *Browser) PageContent(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

// IsOriginalWindowShown reports whether exactly one page target is open,
// which is false after the site opened a popup or a new tab.
func (b *Browser) IsOriginalWindowShown(ctx context.Context) (bool, error) {
	tabCtx, err := b.tab(ctx)
	if err != nil {
		return false, err
	}
	runCtx, cancel := joinContext(tabCtx, ctx)
	defer cancel()
	targets, err := chromedp.Targets(runCtx)
	if err != nil {
		return false, fmt.Errorf("list targets: %w", err)
	}
	pages := 0
	for _, t := range targets {
		if t.Type == "page" {
			pages++
		}
	}
	return pages == 1, nil
}

// joinContext returns a context carrying parent's values and deadline that
// is also cancelled when other ends.
func joinContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func newJitter() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- scroll jitter only.
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
