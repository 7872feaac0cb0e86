package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitescraper/internal/storage/gcs"
)

type stubFactory struct {
	client *storage.Client
	err    error
}

func (f stubFactory) NewClient(context.Context) (*storage.Client, error) {
	return f.client, f.err
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/pages-bucket/o")
		assert.Equal(t, "scraper/shop_com/1-page.pdf", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "%PDF-1.7")
		assert.Contains(t, string(body), "application/pdf")
		fmt.Fprintln(w, `{"name": "scraper/shop_com/1-page.pdf", "bucket": "pages-bucket"}`)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "pages-bucket", Prefix: "/scraper/"})

	uri, err := store.PutObject(context.Background(), "shop_com/1-page.pdf", "application/pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "gs://pages-bucket/scraper/shop_com/1-page.pdf", uri)
	require.NoError(t, store.Close())
}

func TestPutObjectErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, gcs.Config{Bucket: "pages-bucket"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := store.PutObject(ctx, "a.txt", "text/plain", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(ctx, " ", "text/plain", strings.NewReader("x"))
	require.EqualError(t, err, "path is required")
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestDial(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client, err := storage.NewClient(context.Background(),
			option.WithoutAuthentication(),
			option.WithHTTPClient(&http.Client{
				Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
					assert.Contains(t, r.URL.Path, "/storage/v1/b/pages-bucket")
					return &http.Response{
						StatusCode: http.StatusOK,
						Body:       io.NopCloser(strings.NewReader(`{}`)),
						Header:     make(http.Header),
						Request:    r,
					}, nil
				}),
			}),
		)
		require.NoError(t, err)

		store, err := gcs.Dial(context.Background(), gcs.Config{Bucket: "pages-bucket"}, stubFactory{client: client}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("ClientError", func(t *testing.T) {
		_, err := gcs.Dial(context.Background(), gcs.Config{Bucket: "b"}, stubFactory{err: fmt.Errorf("no credentials")}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create GCS client")
	})

	t.Run("BucketAttrsError", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		client, err := storage.NewClient(ctx,
			option.WithoutAuthentication(),
			option.WithHTTPClient(&http.Client{
				Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
					return &http.Response{
						StatusCode: http.StatusNotFound,
						Body:       io.NopCloser(strings.NewReader(`{"error":{"code":404,"message":"not found"}}`)),
						Header:     make(http.Header),
						Request:    r,
					}, nil
				}),
			}),
		)
		require.NoError(t, err)

		_, err = gcs.Dial(ctx, gcs.Config{Bucket: "missing"}, stubFactory{client: client}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `get GCS bucket "missing" attributes`)
	})
}
