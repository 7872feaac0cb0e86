// Package ftp downloads files from FTP servers into a content group directory.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/metrics"
)

const (
	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous"
	defaultTimeout    = 30 * time.Second
)

// Conn is the part of an FTP session the downloader uses.
type Conn interface {
	Login(user, password string) error
	Retrieve(path string) (io.ReadCloser, error)
	Quit() error
}

// DialFunc opens a session to addr (host:port). secure selects implicit TLS.
type DialFunc func(ctx context.Context, addr string, secure bool, timeout time.Duration) (Conn, error)

// Config controls the downloader.
type Config struct {
	Timeout time.Duration
}

// Downloader implements crawler.FTPDownloader.
type Downloader struct {
	cfg    Config
	dial   DialFunc
	logger *zap.Logger
}

// New builds a Downloader that dials real servers.
func New(cfg Config, logger *zap.Logger) *Downloader {
	return NewWithDialer(cfg, Dial, logger)
}

// NewWithDialer builds a Downloader over a custom dialer.
func NewWithDialer(cfg Config, dial DialFunc, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Downloader{cfg: cfg, dial: dial, logger: logger.Named("ftp")}
}

// Download fetches rawURL into targetDir. Credentials embedded in the URL
// win over creds; with neither the session is anonymous. Transfer problems
// are reported in the outcome, the error is reserved for cancellation.
func (d *Downloader) Download(ctx context.Context, rawURL string, creds *crawler.Credentials, targetDir string) (*crawler.Outcome, error) {
	outcome := &crawler.Outcome{OriginalURL: rawURL}
	u, err := crawler.ParseURL(rawURL)
	if err != nil {
		return d.failed(outcome, err.Error()), nil
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return d.failed(outcome, fmt.Sprintf("the address '%s' does not name a file", rawURL)), nil
	}

	secure := strings.EqualFold(u.Scheme, "ftps")
	addr := net.JoinHostPort(u.Hostname(), strconv.Itoa(crawler.EffectivePort(u)))
	conn, err := d.dial(ctx, addr, secure, d.cfg.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, ctx.Err())
		}
		return d.failed(outcome, fmt.Sprintf("connect to %s: %v", addr, err)), nil
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			d.logger.Debug("quit ftp session", zap.String("addr", addr), zap.Error(err))
		}
	}()

	user, password := login(u, creds)
	if err := conn.Login(user, password); err != nil {
		return d.failed(outcome, fmt.Sprintf("login as %s: %v", user, err)), nil
	}

	body, err := conn.Retrieve(u.Path)
	if err != nil {
		if isMissing(err) {
			metrics.ObserveFTPTransfer("missing")
			outcome.Status = crawler.OutcomeFailedToLoad
			outcome.ErrorMessage = fmt.Sprintf("the file under '%s' does not exist on the server", rawURL)
			return outcome, nil
		}
		return d.failed(outcome, fmt.Sprintf("retrieve %s: %v", u.Path, err)), nil
	}
	defer body.Close()

	target := filepath.Join(targetDir, name)
	written, err := writeFile(ctx, target, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("download %s: %w", rawURL, ctx.Err())
		}
		return d.failed(outcome, err.Error()), nil
	}

	metrics.ObserveFTPTransfer("ok")
	metrics.ObserveDownload(rawURL, written)
	d.logger.Info("file downloaded",
		zap.String("url", rawURL),
		zap.String("path", target),
		zap.Int64("bytes", written),
	)
	outcome.Status = crawler.OutcomeDownloadableContent
	outcome.FinalURL = rawURL
	outcome.ContentName = name
	outcome.SavedPath = target
	return outcome, nil
}

func (d *Downloader) failed(outcome *crawler.Outcome, msg string) *crawler.Outcome {
	metrics.ObserveFTPTransfer("error")
	outcome.Status = crawler.OutcomeFailedToLoad
	outcome.ErrorMessage = msg
	return outcome
}

func login(u *url.URL, creds *crawler.Credentials) (string, string) {
	if u.User != nil && u.User.Username() != "" {
		password, _ := u.User.Password()
		return u.User.Username(), password
	}
	if creds != nil && creds.Username != "" && creds.Password != "" {
		return creds.Username, creds.Password
	}
	return anonymousUser, anonymousPassword
}

func isMissing(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

// writeFile copies r to target, removing the partial file on failure.
func writeFile(ctx context.Context, target string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- target is inside the group directory.
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	written, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return 0, fmt.Errorf("write %s: %w", target, err)
	}
	return written, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Dial connects with github.com/jlaffaye/ftp.
func Dial(ctx context.Context, addr string, secure bool, timeout time.Duration) (Conn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}
	if secure {
		host, _, _ := net.SplitHostPort(addr)
		opts = append(opts, ftp.DialWithTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}
	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ftp: %w", err)
	}
	return serverConn{c: c}, nil
}

type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) Login(user, password string) error { return s.c.Login(user, password) }

func (s serverConn) Retrieve(p string) (io.ReadCloser, error) {
	resp, err := s.c.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s serverConn) Quit() error { return s.c.Quit() }
