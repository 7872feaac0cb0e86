// Package frontier selects the next Fresh address and drives the
// acquire-then-extract loop until none remain, either across every known
// address or restricted to one domain.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/address"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/progress"
	"github.com/JakeFAU/sitescraper/internal/triage"
)

// Comments recorded on addresses the frontier registers itself.
const (
	CommentDomainStart   = "entered for domain download"
	CommentEnteredByUser = "Entered by user"
)

// Acquirer visits one address.
type Acquirer interface {
	Acquire(ctx context.Context, id int64) (triage.Result, error)
}

// Extractor turns a stored page into new Fresh addresses.
type Extractor interface {
	PopulateFromPage(ctx context.Context, page crawler.Page, sameDomainOnly bool) ([]crawler.Address, error)
}

// Limiter paces visits per domain.
type Limiter interface {
	Wait(ctx context.Context, domain string) error
}

// Dependencies are the collaborators of a Frontier.
type Dependencies struct {
	Registry  *address.Registry
	Addresses crawler.AddressStore
	Acquirer  Acquirer
	Extractor Extractor
	// Limiter, when set, is waited on before every visit.
	Limiter Limiter
	// Guard keeps runs from overlapping on the shared browser. Nil disables it.
	Guard   *crawler.RunGuard
	Emitter progress.Emitter
	IDs     crawler.IDGenerator
	Clock   crawler.Clock
}

// Summary reports what a run did.
type Summary struct {
	RunID   uuid.UUID
	Visited int
	// PageIDs lists the stored pages in visit order.
	PageIDs []int64
	Created int
}

// Frontier runs crawl loops. Only one run may be active at a time.
type Frontier struct {
	registry  *address.Registry
	addresses crawler.AddressStore
	acquirer  Acquirer
	extractor Extractor
	limiter   Limiter
	guard     *crawler.RunGuard
	emitter   progress.Emitter
	ids       crawler.IDGenerator
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Frontier.
func New(deps Dependencies, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard
	}
	return &Frontier{
		registry:  deps.Registry,
		addresses: deps.Addresses,
		acquirer:  deps.Acquirer,
		extractor: deps.Extractor,
		limiter:   deps.Limiter,
		guard:     deps.Guard,
		emitter:   emitter,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    logger.Named("frontier"),
	}
}

// run carries the identity and counters of one invocation.
type run struct {
	id      uuid.UUID
	mode    progress.Mode
	domain  string
	started time.Time
	summary Summary
}

func (f *Frontier) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

func (f *Frontier) begin(mode progress.Mode, domain string) (*run, func(), error) {
	release, err := f.guard.Acquire(string(mode))
	if err != nil {
		return nil, nil, err
	}
	id := uuid.New()
	if f.ids != nil {
		if generated, err := f.ids.NewRunID(); err == nil {
			id = generated
		} else {
			f.logger.Warn("run id generation failed; using random id", zap.Error(err))
		}
	}
	r := &run{id: id, mode: mode, domain: domain, started: f.now()}
	r.summary.RunID = id
	f.emit(r, progress.Event{Stage: progress.StageRunStart})
	return r, release, nil
}

func (f *Frontier) finish(r *run, err error) {
	evt := progress.Event{
		Stage:   progress.StageRunDone,
		Created: int64(r.summary.Created),
		Dur:     f.now().Sub(r.started),
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
	}
	f.emit(r, evt)
}

func (f *Frontier) emit(r *run, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.id)
	evt.TS = f.now()
	evt.Mode = r.mode
	if evt.Domain == "" {
		evt.Domain = r.domain
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	f.emitter.Emit(evt)
}

// CrawlAll visits the lowest-id Fresh address until none remain, extracting
// links from every stored page without restricting their domain.
func (f *Frontier) CrawlAll(ctx context.Context) (Summary, error) {
	r, release, err := f.begin(progress.ModeCrawl, "")
	if err != nil {
		return Summary{}, err
	}
	defer release()

	f.logger.Info("crawl started", zap.Stringer("run_id", r.id))
	err = f.loop(ctx, r, "", false)
	f.finish(r, err)
	f.logger.Info("crawl finished",
		zap.Stringer("run_id", r.id),
		zap.Int("visited", r.summary.Visited),
		zap.Int("created", r.summary.Created),
		zap.Error(err),
	)
	return r.summary, err
}

// CrawlDomain registers startURL (and the root of its domain when startURL
// has a path) under the domain's content group, then visits Fresh addresses
// of that domain only, following same-domain links.
func (f *Frontier) CrawlDomain(ctx context.Context, startURL string) (Summary, error) {
	u, err := crawler.ParseURL(startURL)
	if err != nil {
		return Summary{}, err
	}
	domain := strings.ToLower(u.Hostname())

	r, release, err := f.begin(progress.ModeDomain, domain)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	start, err := f.seedDomain(ctx, startURL)
	if err == nil {
		f.logger.Info("domain crawl started", zap.Stringer("run_id", r.id), zap.String("domain", domain))
		err = f.revisitStart(ctx, r, start)
	}
	if err == nil {
		err = f.loop(ctx, r, domain, true)
	}
	f.finish(r, err)
	f.logger.Info("no more fresh addresses for domain",
		zap.String("domain", domain),
		zap.Int("visited", r.summary.Visited),
		zap.Error(err),
	)
	return r.summary, err
}

func (f *Frontier) seedDomain(ctx context.Context, startURL string) (crawler.Address, error) {
	group, err := address.DomainGroupName(startURL)
	if err != nil {
		return crawler.Address{}, err
	}
	start, created, err := f.registry.GetOrCreate(ctx, startURL, false, CommentDomainStart, group)
	if err != nil {
		return crawler.Address{}, err
	}
	if !created {
		if start.ContentGroup == "" {
			if err := f.registry.SetGroupName(ctx, &start, group); err != nil {
				return start, err
			}
		} else {
			group = start.ContentGroup
		}
	}
	if strings.Trim(start.Path, "/") == "" && start.Query == "" {
		return start, nil
	}
	root := start.RootURL()
	if strings.EqualFold(strings.TrimRight(root, "/"), strings.TrimRight(startURL, "/")) {
		return start, nil
	}
	_, _, err = f.registry.GetOrCreate(ctx, root, false, "entered as domain of "+startURL, group)
	return start, err
}

// revisitStart visits a start address that an earlier run already processed
// so its links reach the frontier again. Fresh starts are left to the loop.
func (f *Frontier) revisitStart(ctx context.Context, r *run, start crawler.Address) error {
	if start.Status == crawler.StatusFresh {
		return nil
	}
	f.logger.Info("revisiting domain start address",
		zap.Int64("address_id", start.ID),
		zap.Stringer("status", start.Status),
	)
	res, err := f.visit(ctx, r, start)
	if err != nil || res.Page == nil {
		return err
	}
	return f.extract(ctx, r, *res.Page, true)
}

func (f *Frontier) loop(ctx context.Context, r *run, domain string, sameDomainOnly bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		next, err := f.addresses.NextFresh(ctx, domain)
		if errors.Is(err, crawler.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next fresh address: %w", err)
		}
		res, err := f.visit(ctx, r, next)
		if err != nil {
			return err
		}
		if res.Page == nil {
			continue
		}
		if err := f.extract(ctx, r, *res.Page, sameDomainOnly); err != nil {
			return err
		}
	}
}

func (f *Frontier) visit(ctx context.Context, r *run, next crawler.Address) (triage.Result, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, next.Domain); err != nil {
			return triage.Result{ClaimedID: next.ID, Address: next}, err
		}
	}
	started := f.now()
	f.emit(r, progress.Event{
		Stage:     progress.StageAddressClaimed,
		URL:       next.URL(),
		AddressID: next.ID,
	})
	f.logger.Debug("visiting address", zap.Int64("address_id", next.ID), zap.String("url", next.URL()))
	res, err := f.acquirer.Acquire(ctx, next.ID)
	if err != nil {
		return res, fmt.Errorf("acquire address %d: %w", next.ID, err)
	}
	r.summary.Visited++
	evt := progress.Event{
		Stage:     progress.StageAddressDone,
		URL:       res.Address.URL(),
		AddressID: next.ID,
		Status:    res.Address.Status.String(),
		Outcome:   res.Outcome.String(),
		Dur:       f.now().Sub(started),
	}
	if res.Page != nil {
		evt.PageID = res.Page.ID
		r.summary.PageIDs = append(r.summary.PageIDs, res.Page.ID)
	}
	f.emit(r, evt)
	return res, nil
}

func (f *Frontier) extract(ctx context.Context, r *run, page crawler.Page, sameDomainOnly bool) error {
	created, err := f.extractor.PopulateFromPage(ctx, page, sameDomainOnly)
	if err != nil {
		return fmt.Errorf("populate addresses from page %d: %w", page.ID, err)
	}
	r.summary.Created += len(created)
	if len(created) > 0 {
		f.emit(r, progress.Event{
			Stage:     progress.StageLinksFound,
			AddressID: page.AddressID,
			PageID:    page.ID,
			Created:   int64(len(created)),
		})
	}
	return nil
}

// Download visits a single address by id without following its links.
func (f *Frontier) Download(ctx context.Context, id int64) (triage.Result, error) {
	r, release, err := f.begin(progress.ModeSingle, "")
	if err != nil {
		return triage.Result{ClaimedID: id}, err
	}
	defer release()

	addr, err := f.registry.Get(ctx, id)
	if err != nil {
		f.finish(r, err)
		return triage.Result{ClaimedID: id}, err
	}
	res, err := f.visit(ctx, r, addr)
	f.finish(r, err)
	return res, err
}

// Open registers rawURL as entered by the user and visits it.
func (f *Frontier) Open(ctx context.Context, rawURL string) (triage.Result, error) {
	addr, _, err := f.registry.GetOrCreate(ctx, rawURL, false, CommentEnteredByUser, "")
	if err != nil {
		return triage.Result{}, err
	}
	return f.Download(ctx, addr.ID)
}
