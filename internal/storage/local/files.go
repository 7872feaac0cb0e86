// Package local keeps downloaded files and page captures on the local
// filesystem, one directory per content group.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// Config captures the parameters for the file store.
type Config struct {
	// BaseDir is the save location all group directories live under.
	BaseDir string `mapstructure:"location"`
}

// FileStore implements crawler.FileStore. When a mirror is configured every
// saved file is also uploaded to it; mirror failures are logged only.
type FileStore struct {
	baseDir string
	mirror  crawler.BlobStore
	logger  *zap.Logger
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config, mirror crawler.BlobStore, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("save location is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create save location: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat save location: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("save location %s is not a directory", cfg.BaseDir)
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("save location is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &FileStore{baseDir: cfg.BaseDir, mirror: mirror, logger: logger.Named("files")}, nil
}

// BaseDir returns the save location.
func (s *FileStore) BaseDir() string { return s.baseDir }

func groupName(address crawler.Address) string {
	if g := strings.TrimSpace(address.ContentGroup); g != "" {
		return crawler.SanitizeFileName(g)
	}
	return strconv.FormatInt(address.ID, 10)
}

// GroupDir returns {base}/{content group or address id}, creating it.
func (s *FileStore) GroupDir(address crawler.Address) (string, error) {
	dir := filepath.Join(s.baseDir, groupName(address))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create group directory: %w", err)
	}
	return dir, nil
}

// SaveDownloadable writes the outcome content to {group}/{file name} and
// returns the path with the content type derived from the extension.
// Content a channel already wrote to disk is only classified and mirrored.
func (s *FileStore) SaveDownloadable(ctx context.Context, address crawler.Address, outcome *crawler.Outcome) (string, crawler.ContentType, error) {
	if outcome == nil {
		return "", crawler.ContentBinary, errors.New("no outcome to save")
	}
	if outcome.SavedPath != "" {
		s.mirrorFile(ctx, outcome.SavedPath)
		return outcome.SavedPath, ContentTypeForFile(outcome.SavedPath), nil
	}

	dir, err := s.GroupDir(address)
	if err != nil {
		return "", crawler.ContentBinary, err
	}
	name := safeFileName(outcome.ContentName)
	if name == "" {
		name = strconv.FormatInt(address.ID, 10) + ".bin"
	}
	target := filepath.Join(dir, name)
	if !within(s.baseDir, target) {
		return "", crawler.ContentBinary, fmt.Errorf("path traversal detected in %q", outcome.ContentName)
	}

	var body io.Reader
	switch c := outcome.Content.(type) {
	case crawler.TextContent:
		body = strings.NewReader(string(c))
	case crawler.BinaryContent:
		body = bytes.NewReader(c)
	case crawler.StreamContent:
		if c.ReadCloser == nil {
			return "", crawler.ContentBinary, errors.New("no content to save")
		}
		body = c
	default:
		return "", crawler.ContentBinary, errors.New("no content to save")
	}

	written, err := writeFile(target, body)
	if err != nil {
		return "", crawler.ContentBinary, err
	}
	source := outcome.FinalURL
	if source == "" {
		source = outcome.OriginalURL
	}
	metrics.ObserveDownload(source, written)
	s.logger.Info("file saved",
		zap.Int64("address_id", address.ID),
		zap.String("path", target),
		zap.Int64("bytes", written),
	)
	s.mirrorFile(ctx, target)
	return target, ContentTypeForFile(target), nil
}

var captureExtensions = map[crawler.CaptureKind]string{
	crawler.CaptureScreenshot: ".png",
	crawler.CapturePageImage:  ".png",
	crawler.CapturePDF:        ".pdf",
}

// SaveCapture writes {group}/{id}-{kind}.{png|pdf}.
func (s *FileStore) SaveCapture(ctx context.Context, address crawler.Address, kind crawler.CaptureKind, data []byte) (string, error) {
	ext, ok := captureExtensions[kind]
	if !ok {
		return "", fmt.Errorf("unknown capture kind %q", kind)
	}
	dir, err := s.GroupDir(address)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, fmt.Sprintf("%d-%s%s", address.ID, kind, ext))
	if _, err := writeFile(target, bytes.NewReader(data)); err != nil {
		return "", err
	}
	s.mirrorFile(ctx, target)
	return target, nil
}

// WriteFile saves data at an operator-chosen path, creating parent
// directories. It backs the manual capture commands.
func WriteFile(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	_, err := writeFile(target, bytes.NewReader(data))
	return err
}

func (s *FileStore) mirrorFile(ctx context.Context, target string) {
	if s.mirror == nil {
		return
	}
	rel, err := filepath.Rel(s.baseDir, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		s.logger.Debug("file outside save location not mirrored", zap.String("path", target))
		return
	}
	f, err := os.Open(target) // #nosec G304 -- the file was just written under the save location.
	if err != nil {
		s.logger.Warn("open file for mirror", zap.String("path", target), zap.Error(err))
		return
	}
	defer f.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(target); err == nil {
		contentType = mt.String()
	}
	uri, err := s.mirror.PutObject(ctx, filepath.ToSlash(rel), contentType, f)
	if err != nil {
		s.logger.Warn("mirror file", zap.String("path", target), zap.Error(err))
		return
	}
	s.logger.Debug("file mirrored", zap.String("path", target), zap.String("uri", uri))
}

// ContentTypeForFile maps a file extension to the stored content type.
func ContentTypeForFile(name string) crawler.ContentType {
	switch strings.ToLower(path.Ext(filepath.ToSlash(name))) {
	case ".html", ".htm":
		return crawler.ContentHTML
	case ".pdf":
		return crawler.ContentPDF
	case ".png", ".jpg", ".jpeg", ".svg", ".gif":
		return crawler.ContentImage
	case ".txt", ".xml", ".js", ".json":
		return crawler.ContentText
	default:
		return crawler.ContentBinary
	}
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return crawler.Truncate(name, 255)
}

func within(base, target string) bool {
	cleanBase := filepath.Clean(base)
	return strings.HasPrefix(filepath.Clean(target), cleanBase+string(filepath.Separator))
}

func writeFile(target string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- callers build target under a known directory.
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return 0, fmt.Errorf("write file %s: %w", target, err)
	}
	return written, nil
}
