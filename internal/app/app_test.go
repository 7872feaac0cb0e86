package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/relink"
	"github.com/JakeFAU/sitescraper/internal/storage/memory"
)

type fakeBrowser struct {
	crawler.MockBrowser
	closed int
}

func (b *fakeBrowser) Close() error {
	b.closed++
	return nil
}

type closeCountingStore struct {
	*memory.Store
	closed int
}

func (s *closeCountingStore) Close() error {
	s.closed++
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Save.BaseDir = t.TempDir()
	cfg.Store.Driver = config.StoreMemory
	cfg.Crawl.WaitForUserActionOnBlockedPages = false
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) (*App, *fakeBrowser) {
	t.Helper()
	b := &fakeBrowser{}
	opts = append([]Option{WithBrowser(b), WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := New(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return a, b
}

func TestNewWiresServices(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	a, b := newTestApp(t, cfg)

	require.NotNil(t, a.Store())
	require.NotNil(t, a.Frontier())
	require.NotNil(t, a.Relinker())
	require.NotNil(t, a.Extractor())
	assert.Equal(t, filepath.Join(cfg.Save.BaseDir, relink.CheckpointFile), a.CheckpointPath())
	assert.Equal(t, cfg, a.Config())

	a.Close()
	assert.Equal(t, 1, b.closed)
	a.Close()
	assert.Equal(t, 1, b.closed, "second Close is a no-op")
}

func TestNewOpensSQLiteStore(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "scraper.db")

	a, _ := newTestApp(t, cfg)
	defer a.Close()

	addr := crawler.Address{Scheme: "https", Domain: "example.com", Path: "/"}
	require.NoError(t, a.Store().CreateAddress(context.Background(), &addr))
	_, err := os.Stat(cfg.Store.SQLite.Path)
	require.NoError(t, err)
}

func TestNewClosesWhatItOpenedOnFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Mirror.Driver = "azure"
	store := &closeCountingStore{Store: memory.NewStore()}

	_, err := New(context.Background(), cfg, zap.NewNop(),
		WithStore(store),
		WithBrowser(&fakeBrowser{}),
		WithRegisterer(prometheus.NewRegistry()),
	)

	require.ErrorContains(t, err, "unknown mirror driver")
	assert.Equal(t, 1, store.closed)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"

	_, err := New(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))

	require.ErrorContains(t, err, "unknown store driver")
}

func TestCheckpointPathOverride(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Crawl.RelinkCheckpoint = filepath.Join(t.TempDir(), "cp.json")

	a, _ := newTestApp(t, cfg)
	defer a.Close()

	assert.Equal(t, cfg.Crawl.RelinkCheckpoint, a.CheckpointPath())
}

func TestCapture(t *testing.T) {
	t.Parallel()
	const url = "https://example.com/"

	tests := []struct {
		kind  crawler.CaptureKind
		setup func(b *fakeBrowser)
		want  []byte
	}{
		{
			kind:  crawler.CaptureScreenshot,
			setup: func(b *fakeBrowser) { b.On("CaptureScreenshot", mock.Anything).Return([]byte("png"), nil) },
			want:  []byte("png"),
		},
		{
			kind:  crawler.CapturePageImage,
			setup: func(b *fakeBrowser) { b.On("CapturePageImage", mock.Anything).Return([]byte("full"), nil) },
			want:  []byte("full"),
		},
		{
			kind:  crawler.CapturePDF,
			setup: func(b *fakeBrowser) { b.On("CapturePDF", mock.Anything).Return([]byte("%PDF"), nil) },
			want:  []byte("%PDF"),
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			a, b := newTestApp(t, testConfig(t))
			defer a.Close()
			b.On("Open", mock.Anything, url).Return(&crawler.Outcome{OriginalURL: url, FinalURL: url, Status: crawler.OutcomeOkButNetworkActive}, nil)
			tt.setup(b)
			target := filepath.Join(t.TempDir(), "out", "capture.bin")

			require.NoError(t, a.Capture(context.Background(), tt.kind, url, target))

			got, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			b.AssertExpectations(t)
		})
	}
}

func TestCaptureRefusesFailedPages(t *testing.T) {
	t.Parallel()
	a, b := newTestApp(t, testConfig(t))
	defer a.Close()
	b.On("Open", mock.Anything, "https://down.example/").Return(&crawler.Outcome{
		Status:       crawler.OutcomeCantConnect,
		ErrorMessage: "Connection error: net::ERR_CONNECTION_REFUSED",
	}, nil)
	target := filepath.Join(t.TempDir(), "shot.png")

	err := a.Capture(context.Background(), crawler.CaptureScreenshot, "https://down.example/", target)

	require.ErrorIs(t, err, ErrNotCapturable)
	require.ErrorContains(t, err, "CantConnect")
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
	b.AssertNotCalled(t, "CaptureScreenshot", mock.Anything)
}

func TestAsk(t *testing.T) {
	t.Parallel()
	asker := &crawler.MockAsker{}
	a, _ := newTestApp(t, testConfig(t), WithAsker(asker))
	defer a.Close()
	image := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0o600))
	asker.On("Ask", mock.Anything, "What is shown?", image).Return("a login form", nil)

	answer, err := a.Ask(context.Background(), image, "What is shown?")

	require.NoError(t, err)
	assert.Equal(t, "a login form", answer)

	_, err = a.Ask(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "?")
	require.Error(t, err)
	asker.AssertNumberOfCalls(t, "Ask", 1)
}

func TestAPIServerUsesStore(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testConfig(t))
	defer a.Close()
	addr := crawler.Address{Scheme: "https", Domain: "example.com", Path: "/"}
	require.NoError(t, a.Store().CreateAddress(context.Background(), &addr))

	rec := httptest.NewRecorder()
	a.APIServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/addresses/next", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"domain":"example.com"`)
}
