package browser

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/classify"
)

func TestAttachmentFetcherNamesFiles(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		switch r.URL.Path {
		case "/export":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="prices.csv"`)
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		case "/files/manual.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		case "/redirect":
			http.Redirect(w, r, "/files/manual.pdf", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewAttachmentFetcher(AttachmentConfig{UserAgent: "sitescraper-test", Timeout: 5 * time.Second})

	res := <-f.Fetch(context.Background(), srv.URL+"/export")
	require.NoError(t, res.Err)
	assert.Equal(t, "prices.csv", res.FileName)
	assert.Equal(t, "sitescraper-test", gotUA.Load())
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))

	res = <-f.Fetch(context.Background(), srv.URL+"/redirect")
	require.NoError(t, res.Err)
	assert.Equal(t, srv.URL+"/files/manual.pdf", res.FinalURL)
	assert.Equal(t, classify.FileNameFromURL(srv.URL+"/files/manual.pdf", "application/pdf"), res.FileName)
	assert.True(t, strings.HasSuffix(res.FileName, ".pdf"))

	res = <-f.Fetch(context.Background(), srv.URL+"/nothing-here")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "HTTP 404")
	assert.Nil(t, res.Body)
}

func TestAttachmentFetcherCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := <-NewAttachmentFetcher(AttachmentConfig{}).Fetch(ctx, "http://127.0.0.1:1/")
	require.ErrorIs(t, res.Err, context.Canceled)
}
