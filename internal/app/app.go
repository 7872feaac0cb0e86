// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/address"
	"github.com/JakeFAU/sitescraper/internal/ai"
	"github.com/JakeFAU/sitescraper/internal/api"
	"github.com/JakeFAU/sitescraper/internal/browser"
	"github.com/JakeFAU/sitescraper/internal/classify"
	"github.com/JakeFAU/sitescraper/internal/clock/system"
	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/confirm"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/frontier"
	"github.com/JakeFAU/sitescraper/internal/ftp"
	idgen "github.com/JakeFAU/sitescraper/internal/id/uuid"
	"github.com/JakeFAU/sitescraper/internal/links"
	"github.com/JakeFAU/sitescraper/internal/policy/ratelimit"
	"github.com/JakeFAU/sitescraper/internal/progress"
	"github.com/JakeFAU/sitescraper/internal/progress/sinks"
	"github.com/JakeFAU/sitescraper/internal/publisher/pubsub"
	"github.com/JakeFAU/sitescraper/internal/relink"
	"github.com/JakeFAU/sitescraper/internal/storage/gcs"
	"github.com/JakeFAU/sitescraper/internal/storage/local"
	"github.com/JakeFAU/sitescraper/internal/storage/memory"
	"github.com/JakeFAU/sitescraper/internal/storage/postgres"
	"github.com/JakeFAU/sitescraper/internal/storage/s3"
	"github.com/JakeFAU/sitescraper/internal/storage/sqlite"
	"github.com/JakeFAU/sitescraper/internal/triage"
)

const closeTimeout = 10 * time.Second

// BrowserCloser is the acquisition channel plus its shutdown hook.
type BrowserCloser interface {
	crawler.Browser
	Close() error
}

// Option overrides a collaborator, mainly for tests.
type Option func(*options)

type options struct {
	store     crawler.Store
	browser   BrowserCloser
	ftp       crawler.FTPDownloader
	confirmer crawler.Confirmer
	asker     crawler.Asker
	registry  prometheus.Registerer
}

// WithStore uses store instead of the configured driver.
func WithStore(store crawler.Store) Option { return func(o *options) { o.store = store } }

// WithBrowser uses b instead of launching Chrome.
func WithBrowser(b BrowserCloser) Option { return func(o *options) { o.browser = b } }

// WithFTP uses d instead of dialing real FTP servers.
func WithFTP(d crawler.FTPDownloader) Option { return func(o *options) { o.ftp = d } }

// WithConfirmer replaces the console prompt.
func WithConfirmer(c crawler.Confirmer) Option { return func(o *options) { o.confirmer = c } }

// WithAsker replaces the AI client.
func WithAsker(a crawler.Asker) Option { return func(o *options) { o.asker = a } }

// WithRegisterer registers the progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.registry = reg } }

// App holds the shared, long-lived services of one CLI invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.Store
	files     *local.FileStore
	browser   BrowserCloser
	asker     crawler.Asker
	hub       *progress.Hub
	registry  *address.Registry
	extractor *links.Extractor
	acquirer  *triage.Acquirer
	frontier  *frontier.Frontier
	relinker  *relink.Relinker

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds every service from cfg. On failure, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("store", cfg.Store.Driver),
		zap.String("mirror", cfg.Mirror.Driver),
		zap.Bool("ai", cfg.AI.Enabled),
	)

	if a.store = o.store; a.store == nil {
		if a.store, err = openStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}
	a.onClose("store", a.store.Close)

	mirror, err := a.openMirror(ctx)
	if err != nil {
		return nil, err
	}
	if a.files, err = local.New(cfg.Save, mirror, logger); err != nil {
		return nil, fmt.Errorf("init save location: %w", err)
	}

	if a.browser = o.browser; a.browser == nil {
		a.browser = browser.New(browser.Config{
			HideUI:            cfg.Browser.HideUI,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.Browser.NavTimeout(),
			IdleTimeout:       cfg.Browser.IdleTimeout(),
			ScrollStepsLimit:  cfg.Browser.ScrollStepsLimit,
		}, logger)
	}
	a.onClose("browser", a.browser.Close)

	ftpDownloader := o.ftp
	if ftpDownloader == nil {
		ftpDownloader = ftp.New(ftp.Config{Timeout: cfg.FTP.Timeout()}, logger)
	}

	if a.asker = o.asker; a.asker == nil {
		a.asker = ai.New(ai.Config{
			Endpoint: cfg.AI.Endpoint,
			Model:    cfg.AI.Model,
			Timeout:  cfg.AI.Timeout(),
			APIKey:   cfg.AI.APIKey,
		}, logger)
	}
	var screener *classify.Screener
	if cfg.AI.Enabled {
		screener = classify.NewScreener(a.asker, logger)
	}

	confirmer := o.confirmer
	if confirmer == nil {
		confirmer = crawler.Confirmer(confirm.AutoDeny{})
		if cfg.Crawl.WaitForUserActionOnBlockedPages {
			confirmer = confirm.NewConsole(os.Stdin, os.Stderr)
		}
	}

	if a.hub, err = a.openHub(ctx, o.registry); err != nil {
		return nil, err
	}

	guard := &crawler.RunGuard{}
	ids := idgen.New()
	clock := system.New()

	a.registry = address.NewRegistry(a.store, logger)
	a.extractor = links.NewExtractor(a.registry, a.store, logger)
	a.acquirer = triage.New(triage.Dependencies{
		Registry:  a.registry,
		Pages:     a.store,
		Browser:   a.browser,
		FTP:       ftpDownloader,
		Files:     a.files,
		Screener:  screener,
		Confirmer: confirmer,
		Clock:     clock,
	}, triage.Config{
		WaitForUserAction: cfg.Crawl.WaitForUserActionOnBlockedPages,
		FTPCredentials:    cfg.FTP.Credentials(),
	}, logger)
	deps := frontier.Dependencies{
		Registry:  a.registry,
		Addresses: a.store,
		Acquirer:  a.acquirer,
		Extractor: a.extractor,
		Guard:     guard,
		Emitter:   a.hub,
		IDs:       ids,
		Clock:     clock,
	}
	if limiter := ratelimit.New(cfg.Crawl.Politeness); limiter.Enabled() {
		logger.Info("per-domain pacing enabled",
			zap.Float64("domain_rps", cfg.Crawl.Politeness.RequestsPerSecond),
			zap.Int("domain_burst", cfg.Crawl.Politeness.Burst),
		)
		deps.Limiter = limiter
	}
	a.frontier = frontier.New(deps, logger)
	a.relinker = relink.New(relink.Dependencies{
		Pages:     a.store,
		Populator: a.extractor,
		Guard:     guard,
		Emitter:   a.hub,
		IDs:       ids,
		Clock:     clock,
	}, relink.Config{
		ChunkSize:      cfg.Crawl.RelinkChunkSize,
		CheckpointPath: a.CheckpointPath(),
	}, logger)

	logger.Info("application services initialized")
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (crawler.Store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.StoreMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) openMirror(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Mirror.Driver {
	case config.MirrorNone:
		return nil, nil
	case config.MirrorGCS:
		bs, err := gcs.Dial(ctx, a.cfg.Mirror.GCS, gcs.DefaultClientFactory{}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open gcs mirror: %w", err)
		}
		a.onClose("gcs mirror", bs.Close)
		return bs, nil
	case config.MirrorS3:
		bs, err := s3.New(a.cfg.Mirror.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 mirror: %w", err)
		}
		if err := bs.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("open s3 mirror: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown mirror driver %q", a.cfg.Mirror.Driver)
	}
}

func (a *App) openHub(ctx context.Context, reg prometheus.Registerer) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(a.logger), promSink}

	if ps := a.cfg.Events.PubSub; ps.Topic != "" {
		pub, err := pubsub.Dial(ctx, ps.ProjectID, ps.Topic)
		if err != nil {
			return nil, fmt.Errorf("open event topic: %w", err)
		}
		a.onClose("pubsub", pub.Close)
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, ps.Topic))
	}

	hub := progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...)
	a.onClose("progress hub", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return hub.Close(ctx)
	})
	return hub, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close shuts services down in reverse order of creation. The progress hub
// flushes before the publisher and store it depends on go away.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the address and page store.
func (a *App) Store() crawler.Store { return a.store }

// Frontier returns the crawl loop driver.
func (a *App) Frontier() *frontier.Frontier { return a.frontier }

// Relinker returns the batch link backfill.
func (a *App) Relinker() *relink.Relinker { return a.relinker }

// Extractor returns the link extractor.
func (a *App) Extractor() *links.Extractor { return a.extractor }

// APIServer builds the status server over the store.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.store, a.cfg.Server.API, a.logger)
}

// CheckpointPath is where the relink pass records progress.
func (a *App) CheckpointPath() string {
	if a.cfg.Crawl.RelinkCheckpoint != "" {
		return a.cfg.Crawl.RelinkCheckpoint
	}
	return filepath.Join(a.cfg.Save.BaseDir, relink.CheckpointFile)
}

// ErrNotCapturable is returned when a page could not be loaded well enough to capture.
var ErrNotCapturable = errors.New("page cannot be captured")

// Capture loads rawURL in the browser and writes the requested capture to target.
func (a *App) Capture(ctx context.Context, kind crawler.CaptureKind, rawURL, target string) error {
	outcome, err := a.browser.Open(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	defer outcome.Close() //nolint:errcheck // stream bodies are not captured

	if outcome.Status != crawler.OutcomeOk && outcome.Status != crawler.OutcomeOkButNetworkActive {
		return fmt.Errorf("%w: %s: %s %s", ErrNotCapturable, rawURL, outcome.Status, outcome.ErrorMessage)
	}

	var data []byte
	switch kind {
	case crawler.CaptureScreenshot:
		data, err = a.browser.CaptureScreenshot(ctx)
	case crawler.CapturePageImage:
		data, err = a.browser.CapturePageImage(ctx)
	case crawler.CapturePDF:
		data, err = a.browser.CapturePDF(ctx)
	default:
		return fmt.Errorf("unknown capture kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("capture %s of %s: %w", kind, rawURL, err)
	}
	if err := local.WriteFile(target, data); err != nil {
		return err
	}
	a.logger.Info("capture saved",
		zap.String("kind", string(kind)),
		zap.String("url", rawURL),
		zap.String("path", target),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Ask sends a free-text question about an image to the AI model.
func (a *App) Ask(ctx context.Context, imagePath, question string) (string, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("image %s: %w", imagePath, err)
	}
	return a.asker.Ask(ctx, question, imagePath)
}
