package local_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/storage/local"
	"github.com/JakeFAU/sitescraper/internal/storage/memory"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()}, nil, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data", "pages")
		_, err := local.New(local.Config{BaseDir: dir}, nil, nil)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, nil, nil)
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file}, nil, nil)
		assert.Error(t, err)
	})
	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{BaseDir: tempDir}, nil, nil)
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func newStore(t *testing.T, mirror crawler.BlobStore) (*local.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, mirror, zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func TestGroupDir(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t, nil)

	got, err := store.GroupDir(crawler.Address{ID: 7, ContentGroup: "shop_com"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shop_com"), got)

	got, err = store.GroupDir(crawler.Address{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "7"), got)
	assert.DirExists(t, got)

	got, err = store.GroupDir(crawler.Address{ID: 8, ContentGroup: "../escape"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "___escape"), got)
}

func TestSaveCaptureLayout(t *testing.T) {
	t.Parallel()
	mirror := memory.NewBlobStore()
	store, dir := newStore(t, mirror)
	addr := crawler.Address{ID: 42, ContentGroup: "shop_com"}

	cases := map[crawler.CaptureKind]string{
		crawler.CaptureScreenshot: "42-screenshot.png",
		crawler.CapturePageImage:  "42-wholePage.png",
		crawler.CapturePDF:        "42-page.pdf",
	}
	for kind, name := range cases {
		got, err := store.SaveCapture(context.Background(), addr, kind, []byte("data-"+string(kind)))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "shop_com", name), got)
		data, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Equal(t, "data-"+string(kind), string(data))

		mirrored, _, ok := mirror.Object("shop_com/" + name)
		require.True(t, ok, name)
		assert.Equal(t, data, mirrored)
	}

	_, err := store.SaveCapture(context.Background(), addr, crawler.CaptureKind("video"), nil)
	require.Error(t, err)
}

func TestSaveDownloadable(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t, nil)
	addr := crawler.Address{ID: 3, ContentGroup: "docs"}

	tests := []struct {
		name    string
		outcome *crawler.Outcome
		file    string
		content string
		ct      crawler.ContentType
	}{
		{
			name:    "text",
			outcome: &crawler.Outcome{ContentName: "notes.txt", Content: crawler.TextContent("hello")},
			file:    "notes.txt",
			content: "hello",
			ct:      crawler.ContentText,
		},
		{
			name:    "binary",
			outcome: &crawler.Outcome{ContentName: "report.PDF", Content: crawler.BinaryContent{0x25, 0x50, 0xff}},
			file:    "report.PDF",
			content: "\x25\x50\xff",
			ct:      crawler.ContentPDF,
		},
		{
			name:    "stream",
			outcome: &crawler.Outcome{ContentName: "archive.zip", Content: crawler.StreamContent{ReadCloser: io.NopCloser(bytes.NewReader([]byte("PK")))}},
			file:    "archive.zip",
			content: "PK",
			ct:      crawler.ContentBinary,
		},
		{
			name:    "traversal stripped",
			outcome: &crawler.Outcome{ContentName: "../../etc/passwd.json", Content: crawler.TextContent("{}")},
			file:    "passwd.json",
			content: "{}",
			ct:      crawler.ContentText,
		},
		{
			name:    "unnamed",
			outcome: &crawler.Outcome{Content: crawler.TextContent("x")},
			file:    "3.bin",
			content: "x",
			ct:      crawler.ContentBinary,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ct, err := store.SaveDownloadable(context.Background(), addr, tc.outcome)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "docs", tc.file), got)
			assert.Equal(t, tc.ct, ct)
			data, err := os.ReadFile(got)
			require.NoError(t, err)
			assert.Equal(t, tc.content, string(data))
		})
	}
}

func TestSaveDownloadableAlreadySaved(t *testing.T) {
	t.Parallel()
	mirror := memory.NewBlobStore()
	store, dir := newStore(t, mirror)
	addr := crawler.Address{ID: 5, ContentGroup: "ftp_site"}

	groupDir, err := store.GroupDir(addr)
	require.NoError(t, err)
	saved := filepath.Join(groupDir, "data.csv")
	require.NoError(t, os.WriteFile(saved, []byte("a,b"), 0o600))

	got, ct, err := store.SaveDownloadable(context.Background(), addr, &crawler.Outcome{SavedPath: saved, ContentName: "data.csv"})
	require.NoError(t, err)
	assert.Equal(t, saved, got)
	assert.Equal(t, crawler.ContentBinary, ct)
	_, _, ok := mirror.Object("ftp_site/data.csv")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "ftp_site", "data.csv"), got)
}

func TestSaveDownloadableWithoutContent(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t, nil)

	_, _, err := store.SaveDownloadable(context.Background(), crawler.Address{ID: 1}, &crawler.Outcome{ContentName: "a.pdf"})
	require.Error(t, err)
	_, _, err = store.SaveDownloadable(context.Background(), crawler.Address{ID: 1}, nil)
	require.Error(t, err)
}

type failingMirror struct{}

func (failingMirror) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t, failingMirror{})

	got, err := store.SaveCapture(context.Background(), crawler.Address{ID: 9}, crawler.CapturePDF, []byte("%PDF"))
	require.NoError(t, err)
	assert.FileExists(t, got)
}

func TestContentTypeForFile(t *testing.T) {
	t.Parallel()

	cases := map[string]crawler.ContentType{
		"index.html":   crawler.ContentHTML,
		"a/b/page.HTM": crawler.ContentHTML,
		"doc.pdf":      crawler.ContentPDF,
		"logo.svg":     crawler.ContentImage,
		"photo.jpeg":   crawler.ContentImage,
		"anim.gif":     crawler.ContentImage,
		"feed.xml":     crawler.ContentText,
		"app.js":       crawler.ContentText,
		"data.json":    crawler.ContentText,
		"readme.txt":   crawler.ContentText,
		"sheet.xlsx":   crawler.ContentBinary,
		"no-extension": crawler.ContentBinary,
	}
	for name, want := range cases {
		assert.Equal(t, want, local.ContentTypeForFile(name), name)
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "out", "nested", "page.pdf")
	require.NoError(t, local.WriteFile(target, []byte("%PDF")))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}
