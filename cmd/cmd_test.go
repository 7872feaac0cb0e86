package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/app"
	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/relink"
	"github.com/JakeFAU/sitescraper/internal/storage/memory"
)

type closingBrowser struct {
	crawler.MockBrowser
}

func (*closingBrowser) Close() error { return nil }

// useTestApp swaps the application factory for one backed by an in-memory
// store and a browser that is never started.
func useTestApp(t *testing.T, store *memory.Store) string {
	t.Helper()
	saveDir := t.TempDir()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		cfg.Save.BaseDir = saveDir
		cfg.Server.Port = 0
		cfg.Crawl.WaitForUserActionOnBlockedPages = false
		return app.New(ctx, cfg, zap.NewNop(),
			app.WithStore(store),
			app.WithBrowser(&closingBrowser{}),
			app.WithRegisterer(prometheus.NewRegistry()),
		)
	}
	t.Cleanup(func() { newApp = orig })
	t.Setenv("SCRAPER_LOGGING_LEVEL", "error")
	return saveDir
}

func run(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, shutdown := newRootCmd()
	defer shutdown()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func seedPage(t *testing.T, store *memory.Store) crawler.Page {
	t.Helper()
	ctx := context.Background()
	owner := crawler.Address{Status: crawler.StatusVisited, Scheme: "https", Domain: "ex.com", Path: "/"}
	require.NoError(t, store.CreateAddress(ctx, &owner))
	page := crawler.Page{
		AddressID:   owner.ID,
		ContentType: crawler.ContentHTML,
		Content: []byte(`<html><body>
<a href="/about">About</a>
<a href="https://other.org/x">Other</a>
</body></html>`),
		Downloaded: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePage(ctx, &page))
	return page
}

func TestVersionCommand(t *testing.T) {
	out, err := run(context.Background(), t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sitescraper dev")
}

func TestCrawlEmptyStore(t *testing.T) {
	useTestApp(t, memory.NewStore())

	out, err := run(context.Background(), t, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, "visited 0 addresses, stored 0 pages, created 0 addresses")
}

func TestDownloadArguments(t *testing.T) {
	useTestApp(t, memory.NewStore())

	_, err := run(context.Background(), t, "download", "abc")
	require.ErrorContains(t, err, `invalid address id "abc"`)

	_, err = run(context.Background(), t, "download", "-3")
	require.Error(t, err)

	_, err = run(context.Background(), t, "download", "42")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestCaptureUnknownKind(t *testing.T) {
	useTestApp(t, memory.NewStore())

	_, err := run(context.Background(), t, "capture", "gif", "https://ex.com/", "out.gif")
	require.ErrorContains(t, err, `unknown capture kind "gif"`)
}

func TestRelinkPage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		created int
	}{
		{name: "all links", args: nil, created: 2},
		{name: "same domain", args: []string{"--domain"}, created: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			useTestApp(t, store)
			page := seedPage(t, store)

			args := append([]string{"relink-page", "1"}, tt.args...)
			out, err := run(context.Background(), t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, "https://ex.com/about")
			assert.Contains(t, out, "addresses from page 1")

			created, err := store.NextFresh(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, "/about", created.Path)
			assert.NotEqual(t, page.AddressID, created.ID)
			if tt.created == 1 {
				assert.NotContains(t, out, "other.org")
			} else {
				assert.Contains(t, out, "https://other.org/x")
			}
		})
	}
}

func TestRelinkPageInvalidID(t *testing.T) {
	useTestApp(t, memory.NewStore())

	_, err := run(context.Background(), t, "relink-page", "0")
	require.ErrorContains(t, err, "invalid page id")
}

func TestRelinkCheckpoints(t *testing.T) {
	store := memory.NewStore()
	saveDir := useTestApp(t, store)
	seedPage(t, store)

	out, err := run(context.Background(), t, "relink", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "relinked 1 pages up to page 1, created 2 addresses")

	cp, err := relink.LoadCheckpoint(filepath.Join(saveDir, relink.CheckpointFile))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.LastID)

	// A second run resumes after the checkpoint and finds nothing new.
	out, err = run(context.Background(), t, "relink", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "relinked 0 pages up to page 1")

	// --from rewinds; the links already exist so nothing is created.
	out, err = run(context.Background(), t, "relink", "--quiet", "--from", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "relinked 1 pages up to page 1, created 0 addresses")
}

func TestServeStopsOnCancel(t *testing.T) {
	useTestApp(t, memory.NewStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := run(ctx, t, "serve")
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
