// Package triage runs one address through acquisition: it fetches the
// address over the right channel, interprets the outcome, stores what came
// back and moves the address to its terminal status.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/address"
	"github.com/JakeFAU/sitescraper/internal/classify"
	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Config holds the policy knobs of the pipeline.
type Config struct {
	// WaitForUserAction pauses for the operator on new windows, sign-in
	// redirects and blocked pages instead of giving up on them.
	WaitForUserAction bool
	// FTPCredentials are used when the URL carries none. Nil means anonymous.
	FTPCredentials *crawler.Credentials
}

// Dependencies are the collaborators the pipeline drives.
type Dependencies struct {
	Registry *address.Registry
	Pages    crawler.PageStore
	Browser  crawler.Browser
	FTP      crawler.FTPDownloader
	Files    crawler.FileStore
	// Screener is nil when AI screening is disabled.
	Screener  *classify.Screener
	Confirmer crawler.Confirmer
	Clock     crawler.Clock
}

// Result describes a finished visit.
type Result struct {
	// ClaimedID is the address that was requested.
	ClaimedID int64
	// Address is the address the visit ended on. After a redirect to a
	// different known URL it is the redirect target.
	Address crawler.Address
	Outcome crawler.OutcomeStatus
	// Page is set when a snapshot or downloaded file was stored.
	Page *crawler.Page
}

// Acquirer runs the acquisition pipeline. It drives a single browser and so
// must not be used concurrently.
type Acquirer struct {
	registry  *address.Registry
	pages     crawler.PageStore
	browser   crawler.Browser
	ftp       crawler.FTPDownloader
	files     crawler.FileStore
	screener  *classify.Screener
	confirmer crawler.Confirmer
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Acquirer.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		registry:  deps.Registry,
		pages:     deps.Pages,
		browser:   deps.Browser,
		ftp:       deps.FTP,
		files:     deps.Files,
		screener:  deps.Screener,
		confirmer: deps.Confirmer,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("triage"),
	}
}

// visit is the mutable state of one Acquire call.
type visit struct {
	address     crawler.Address
	originalURL string
	outcome     *crawler.Outcome
	screenshot  string
	page        *crawler.Page
}

func (v *visit) result(claimed int64) Result {
	r := Result{ClaimedID: claimed, Address: v.address, Page: v.page}
	if v.outcome != nil {
		r.Outcome = v.outcome.Status
	}
	return r
}

// Acquire claims the address, fetches it and records the terminal status.
// Only persistence failures and cancellation are returned as errors; any
// problem with the page itself ends up in the address status and comments.
func (t *Acquirer) Acquire(ctx context.Context, id int64) (Result, error) {
	addr, err := t.registry.Get(ctx, id)
	if err != nil {
		return Result{ClaimedID: id}, err
	}
	if err := t.registry.SetStatus(ctx, &addr, crawler.StatusOpening, ""); err != nil {
		return Result{ClaimedID: id}, err
	}
	v := &visit{address: addr, originalURL: addr.URL()}
	logger := t.logger.With(zap.Int64("address_id", id), zap.String("url", v.originalURL))
	logger.Debug("acquiring address")

	defer func() {
		if err := v.outcome.Close(); err != nil {
			logger.Warn("close outcome body", zap.Error(err))
		}
	}()

	if v.outcome, err = t.fetch(ctx, v.address, v.originalURL); err != nil {
		return v.result(id), t.release(ctx, v, err)
	}

	steps := []func(context.Context, *visit) (bool, error){
		t.checkIssues,
		t.checkRedirection,
		t.saveDownloadable,
		t.captureAndScreen,
		t.switchToFinalAddress,
		t.storePage,
	}
	for _, step := range steps {
		stop, err := step(ctx, v)
		if err != nil {
			return v.result(id), t.release(ctx, v, err)
		}
		if stop {
			break
		}
	}
	logger.Info("address processed",
		zap.Stringer("status", v.address.Status),
		zap.Int64("final_address_id", v.address.ID),
	)
	return v.result(id), nil
}

// release puts an address left in Opening by a cancelled visit back to
// Fresh so the next run picks it up again. The write outlives ctx.
func (t *Acquirer) release(ctx context.Context, v *visit, cause error) error {
	interrupted := ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	if !interrupted || v.address.Status != crawler.StatusOpening {
		return cause
	}
	if err := t.registry.SetStatus(context.WithoutCancel(ctx), &v.address, crawler.StatusFresh, "visit interrupted"); err != nil {
		return errors.Join(cause, err)
	}
	t.logger.Info("interrupted address returned to the frontier", zap.Int64("address_id", v.address.ID))
	return cause
}

// fetch picks the acquisition channel by scheme. A nil outcome means the
// scheme is not handled.
func (t *Acquirer) fetch(ctx context.Context, addr crawler.Address, url string) (*crawler.Outcome, error) {
	switch strings.ToLower(addr.Scheme) {
	case "http", "https":
		if t.browser == nil {
			return nil, nil
		}
		outcome, err := t.browser.Open(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("open %s: %w", url, ctx.Err())
			}
			return &crawler.Outcome{
				OriginalURL:  url,
				FinalURL:     url,
				Status:       crawler.OutcomeFailedToLoad,
				ErrorMessage: err.Error(),
			}, nil
		}
		return outcome, nil
	case "ftp", "ftps":
		if t.ftp == nil {
			return nil, nil
		}
		dir, err := t.files.GroupDir(addr)
		if err != nil {
			return &crawler.Outcome{
				OriginalURL:  url,
				FinalURL:     url,
				Status:       crawler.OutcomeFailedToLoad,
				ErrorMessage: fmt.Sprintf("prepare download directory: %v", err),
			}, nil
		}
		outcome, err := t.ftp.Download(ctx, url, t.cfg.FTPCredentials, dir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("download %s: %w", url, ctx.Err())
			}
			return &crawler.Outcome{
				OriginalURL:  url,
				FinalURL:     url,
				Status:       crawler.OutcomeFailedToLoad,
				ErrorMessage: err.Error(),
			}, nil
		}
		return outcome, nil
	default:
		return nil, nil
	}
}

func (t *Acquirer) checkIssues(ctx context.Context, v *visit) (bool, error) {
	o := v.outcome
	switch {
	case o == nil:
		t.logger.Info("acquisition not supported",
			zap.Int64("address_id", v.address.ID),
			zap.String("scheme", v.address.Scheme),
		)
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusUnsupported, "")
	case o.ErrorMessage != "":
		t.logger.Warn("acquisition failed",
			zap.Int64("address_id", v.address.ID),
			zap.Stringer("outcome", o.Status),
			zap.String("error", o.ErrorMessage),
		)
		status := crawler.StatusErrorOnPage
		switch o.Status {
		case crawler.OutcomeCantConnect:
			status = crawler.StatusFailedToOpen
		case crawler.OutcomeUnsupportedContentType:
			status = crawler.StatusUnsupported
		}
		if err := t.registry.SetStatus(ctx, &v.address, status, o.ErrorMessage); err != nil {
			return true, err
		}
		if o.Status == crawler.OutcomeCantConnect && strings.EqualFold(v.address.Scheme, "http") {
			return true, t.seedHTTPS(ctx, v.address)
		}
		return true, nil
	case o.UserActionNeeded != "":
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction, o.UserActionNeeded)
	case o.Status == crawler.OutcomeUnsupportedScheme:
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusUnsupported,
			"Unsupported URI scheme: "+v.address.Scheme)
	}
	return false, nil
}

func (t *Acquirer) seedHTTPS(ctx context.Context, addr crawler.Address) error {
	secure := addr
	secure.Scheme = "https"
	sibling, created, err := t.registry.GetOrCreate(ctx, secure.URL(), false, "Added by changing http to https", addr.ContentGroup)
	if err != nil {
		return err
	}
	if created {
		t.logger.Info("seeded https sibling",
			zap.Int64("address_id", addr.ID),
			zap.Int64("sibling_id", sibling.ID),
		)
	}
	return nil
}

func (t *Acquirer) checkRedirection(ctx context.Context, v *visit) (bool, error) {
	final := v.outcome.FinalURL
	if final == "" || address.AreURIsEqual(v.originalURL, final, true) {
		return false, nil
	}

	if !t.originalWindowShown(ctx) {
		if !t.cfg.WaitForUserAction {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction,
				"It seems a new window/tab has been opened")
		}
		prompt := fmt.Sprintf("It seems that from the address %d (%s) a new window/tab has been opened. "+
			"Please check the browser and set the right window.", v.address.ID, v.originalURL)
		ok, err := t.confirm(ctx, prompt)
		if err != nil {
			return true, err
		}
		if !ok {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusUnsupported,
				"It seems a new window/tab has been opened and the user didn't want to continue")
		}
		return t.refetch(ctx, v)
	}

	if isSignInURL(final) {
		const note = "The page requires to sign in"
		if !t.cfg.WaitForUserAction {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction, note)
		}
		prompt := fmt.Sprintf("It looks like the address %d (%s) requires to log in.", v.address.ID, v.originalURL)
		ok, err := t.confirm(ctx, prompt)
		if err != nil {
			return true, err
		}
		if !ok {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction, note)
		}
		return t.refetch(ctx, v)
	}
	return false, nil
}

func isSignInURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.Contains(lower, "signin") || strings.Contains(lower, "auth") || strings.Contains(lower, "login")
}

func (t *Acquirer) originalWindowShown(ctx context.Context) bool {
	if t.browser == nil {
		return true
	}
	shown, err := t.browser.IsOriginalWindowShown(ctx)
	if err != nil {
		t.logger.Warn("inspect browser windows", zap.Error(err))
		return true
	}
	return shown
}

func (t *Acquirer) confirm(ctx context.Context, prompt string) (bool, error) {
	if t.confirmer == nil {
		return false, nil
	}
	ok, err := t.confirmer.Confirm(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("wait for operator: %w", err)
	}
	return ok, nil
}

// refetch re-opens the original URL after the operator intervened and
// re-validates the new outcome.
func (t *Acquirer) refetch(ctx context.Context, v *visit) (bool, error) {
	if err := v.outcome.Close(); err != nil {
		t.logger.Warn("close outcome body", zap.Error(err))
	}
	outcome, err := t.fetch(ctx, v.address, v.originalURL)
	if err != nil {
		v.outcome = nil
		return true, err
	}
	v.outcome = outcome
	return t.checkIssues(ctx, v)
}

func (t *Acquirer) saveDownloadable(ctx context.Context, v *visit) (bool, error) {
	if !v.outcome.Status.Downloadable() {
		return false, nil
	}
	path, contentType, err := t.files.SaveDownloadable(ctx, v.address, v.outcome)
	if err != nil {
		t.logger.Error("save downloadable content", zap.Int64("address_id", v.address.ID), zap.Error(err))
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusErrorOnPage,
			fmt.Sprintf("Could not save downloadable content: %v", err))
	}
	page := &crawler.Page{
		AddressID:   v.address.ID,
		ContentPath: path,
		ContentType: contentType,
		Downloaded:  t.clock.Now(),
	}
	if err := t.pages.CreatePage(ctx, page); err != nil {
		return true, fmt.Errorf("store file page for address %d: %w", v.address.ID, err)
	}
	v.page = page
	note := fmt.Sprintf("Content for address %d saved as a file: %s.", v.address.ID, path)
	return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusVisited, note)
}

func (t *Acquirer) captureAndScreen(ctx context.Context, v *visit) (bool, error) {
	t.capture(ctx, v)
	if t.screener == nil || v.screenshot == "" {
		return false, nil
	}
	screening, ok := t.screener.Screen(ctx, v.screenshot)
	if !ok {
		return false, nil
	}
	switch screening.Verdict {
	case classify.VerdictError:
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusErrorOnPage, "The page shows an error")
	case classify.VerdictBlocked:
		const note = "The page is blocked by a login or captcha"
		if !t.cfg.WaitForUserAction {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction, note)
		}
		ok, err := t.confirm(ctx, "It looks like the page requires to log in.")
		if err != nil {
			return true, err
		}
		if !ok {
			return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusRequiresUserAction, note)
		}
		if stop, err := t.refetch(ctx, v); stop || err != nil {
			return stop, err
		}
		if v.outcome.Status.Downloadable() {
			return t.saveDownloadable(ctx, v)
		}
		t.capture(ctx, v)
	case classify.VerdictUnrecognized:
		t.logger.Warn("unexpected ai response",
			zap.Int64("address_id", v.address.ID),
			zap.String("answer", screening.Answer),
		)
		return false, t.registry.Annotate(ctx, &v.address, "Unexpected AI response: "+screening.Answer)
	}
	return false, nil
}

// capture stores the audit captures of the current page. Failures are logged.
func (t *Acquirer) capture(ctx context.Context, v *visit) {
	if t.browser == nil || !isBrowserScheme(v.address.Scheme) {
		return
	}
	captures := []struct {
		kind crawler.CaptureKind
		take func(context.Context) ([]byte, error)
	}{
		{crawler.CaptureScreenshot, t.browser.CaptureScreenshot},
		{crawler.CapturePageImage, t.browser.CapturePageImage},
		{crawler.CapturePDF, t.browser.CapturePDF},
	}
	for _, c := range captures {
		data, err := c.take(ctx)
		if err != nil {
			t.logger.Warn("capture failed", zap.Int64("address_id", v.address.ID), zap.String("kind", string(c.kind)), zap.Error(err))
			continue
		}
		path, err := t.files.SaveCapture(ctx, v.address, c.kind, data)
		if err != nil {
			t.logger.Warn("save capture", zap.Int64("address_id", v.address.ID), zap.String("kind", string(c.kind)), zap.Error(err))
			continue
		}
		if c.kind == crawler.CaptureScreenshot {
			v.screenshot = path
		}
	}
}

func isBrowserScheme(scheme string) bool {
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}

func (t *Acquirer) switchToFinalAddress(ctx context.Context, v *visit) (bool, error) {
	final := v.outcome.FinalURL
	if final == "" || address.AreURIsEqual(v.originalURL, final, true) {
		return false, nil
	}
	target, created, err := t.registry.GetOrCreate(ctx, final, true, "redirected from "+v.originalURL, v.address.ContentGroup)
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidURL) {
			t.logger.Warn("ignoring unusable final url", zap.String("final_url", final), zap.Error(err))
			return false, nil
		}
		return true, err
	}
	if target.ID == v.address.ID {
		return false, nil
	}
	if err := t.registry.SetStatus(ctx, &v.address, crawler.StatusDuplicate, "redirects to "+final); err != nil {
		return true, err
	}
	// A target that already went through the frontier keeps its status.
	if !created && target.Status != crawler.StatusFresh {
		t.logger.Info("address redirects to an address already processed",
			zap.Int64("address_id", v.address.ID),
			zap.Int64("target_id", target.ID),
			zap.Stringer("target_status", target.Status),
		)
		return true, nil
	}
	t.logger.Info("address redirects to another address",
		zap.Int64("address_id", v.address.ID),
		zap.Int64("target_id", target.ID),
	)
	v.address = target
	return false, t.registry.SetStatus(ctx, &v.address, crawler.StatusOpening, "")
}

func (t *Acquirer) storePage(ctx context.Context, v *visit) (bool, error) {
	note := ""
	if v.outcome.Status != crawler.OutcomeOk {
		note = "AddressOpeningStatus: " + v.outcome.Status.String()
	}
	if t.browser == nil || !isBrowserScheme(v.address.Scheme) {
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusVisited, note)
	}

	if err := t.browser.ScrollToBottom(ctx); err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		t.logger.Warn("scroll to bottom", zap.Int64("address_id", v.address.ID), zap.Error(err))
	}
	content, err := t.browser.PageContent(ctx)
	if err != nil {
		return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusErrorOnPage,
			fmt.Sprintf("Could not read page content: %v", err))
	}
	page := &crawler.Page{
		AddressID:   v.address.ID,
		Content:     []byte(content),
		ContentType: crawler.ContentHTML,
		Downloaded:  t.clock.Now(),
	}
	if err := t.pages.CreatePage(ctx, page); err != nil {
		return true, fmt.Errorf("store page for address %d: %w", v.address.ID, err)
	}
	v.page = page
	return true, t.registry.SetStatus(ctx, &v.address, crawler.StatusVisited, note)
}
