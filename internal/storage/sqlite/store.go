// Package sqlite provides a single-file SQLite crawler.Store, the default
// backend for a local crawl.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config locates the database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// Store implements crawler.Store on top of database/sql.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const addressColumns = `id, status, comments, tags, content_group, scheme, domain, port, path, query`

func scanAddress(row interface{ Scan(...any) error }) (crawler.Address, error) {
	var (
		a        crawler.Address
		comments string
	)
	err := row.Scan(&a.ID, &a.Status, &comments, &a.Tags, &a.ContentGroup, &a.Scheme, &a.Domain, &a.Port, &a.Path, &a.Query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Address{}, crawler.ErrNotFound
		}
		return crawler.Address{}, err
	}
	if comments != "" {
		if err := json.Unmarshal([]byte(comments), &a.Comments); err != nil {
			return crawler.Address{}, fmt.Errorf("parse comments of address %d: %w", a.ID, err)
		}
	}
	if len(a.Comments) == 0 {
		a.Comments = nil
	}
	return a, nil
}

func encodeComments(a crawler.Annotations) (string, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(a))
	if err != nil {
		return "", fmt.Errorf("serialize comments: %w", err)
	}
	return string(raw), nil
}

// GetAddress returns the address with id.
func (s *Store) GetAddress(ctx context.Context, id int64) (crawler.Address, error) {
	a, err := scanAddress(s.db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = ?`, id))
	if err != nil {
		return crawler.Address{}, fmt.Errorf("get address %d: %w", id, err)
	}
	return a, nil
}

// FindAddress returns the lowest-id address matching key.
func (s *Store) FindAddress(ctx context.Context, key crawler.AddressKey) (crawler.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses
WHERE lower(scheme) = ? AND domain = ? AND (port = 0 OR port = ?)
	AND path IN (?, ?, ?) AND (? OR query = ?)
ORDER BY id LIMIT 1`
	a, err := scanAddress(s.db.QueryRowContext(ctx, query,
		strings.ToLower(key.Scheme),
		strings.ToLower(key.Domain),
		key.Port,
		key.Path,
		key.Path+"/",
		strings.TrimSuffix(key.Path, "/"),
		key.IgnoreQuery,
		key.Query,
	))
	if err != nil {
		return crawler.Address{}, fmt.Errorf("find address: %w", err)
	}
	return a, nil
}

// CreateAddress inserts the address and assigns its ID.
func (s *Store) CreateAddress(ctx context.Context, address *crawler.Address) error {
	comments, err := encodeComments(address.Comments)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO addresses (status, comments, tags, content_group, scheme, domain, port, path, query)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		address.Status,
		comments,
		address.Tags,
		address.ContentGroup,
		address.Scheme,
		address.Domain,
		address.Port,
		address.Path,
		address.Query,
	)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	address.ID = id
	return nil
}

// UpdateAddress replaces the stored address.
func (s *Store) UpdateAddress(ctx context.Context, address crawler.Address) error {
	comments, err := encodeComments(address.Comments)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE addresses SET status = ?, comments = ?, tags = ?, content_group = ?,
	scheme = ?, domain = ?, port = ?, path = ?, query = ?
WHERE id = ?`,
		address.Status,
		comments,
		address.Tags,
		address.ContentGroup,
		address.Scheme,
		address.Domain,
		address.Port,
		address.Path,
		address.Query,
		address.ID,
	)
	if err != nil {
		return fmt.Errorf("update address %d: %w", address.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update address %d: %w", address.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update address %d: %w", address.ID, crawler.ErrNotFound)
	}
	return nil
}

// NextFresh returns the lowest-id Fresh address, optionally restricted to domain.
func (s *Store) NextFresh(ctx context.Context, domain string) (crawler.Address, error) {
	domain = strings.ToLower(domain)
	a, err := scanAddress(s.db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses
WHERE status = ? AND (? = '' OR domain = ?)
ORDER BY id LIMIT 1`, crawler.StatusFresh, domain, domain))
	if err != nil {
		return crawler.Address{}, fmt.Errorf("next fresh address: %w", err)
	}
	return a, nil
}

// CreatePage inserts the page and assigns its ID.
func (s *Store) CreatePage(ctx context.Context, page *crawler.Page) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (address_id, content, content_path, content_type, downloaded, tags)
VALUES (?, ?, ?, ?, ?, ?)`,
		page.AddressID,
		page.Content,
		page.ContentPath,
		page.ContentType,
		page.Downloaded.UTC().Format(time.RFC3339Nano),
		page.Tags,
	)
	if err != nil {
		return fmt.Errorf("insert page for address %d: %w", page.AddressID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert page for address %d: %w", page.AddressID, err)
	}
	page.ID = id
	return nil
}

const pageColumns = `id, address_id, content, content_path, content_type, downloaded, tags`

func scanPage(row interface{ Scan(...any) error }) (crawler.Page, error) {
	var (
		p          crawler.Page
		downloaded string
	)
	if err := row.Scan(&p.ID, &p.AddressID, &p.Content, &p.ContentPath, &p.ContentType, &downloaded, &p.Tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Page{}, crawler.ErrNotFound
		}
		return crawler.Page{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, downloaded)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse download time of page %d: %w", p.ID, err)
	}
	p.Downloaded = ts.UTC()
	return p, nil
}

// GetPage returns the page with id.
func (s *Store) GetPage(ctx context.Context, id int64) (crawler.Page, error) {
	p, err := scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page %d: %w", id, err)
	}
	return p, nil
}

// ListPagesAfter returns up to limit pages with ID greater than afterID.
// A non-positive limit returns every remaining page.
func (s *Store) ListPagesAfter(ctx context.Context, afterID int64, limit int) ([]crawler.Page, error) {
	if limit <= 0 {
		limit = -1 // LIMIT -1 is unbounded in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pages after %d: %w", afterID, err)
	}
	defer rows.Close()

	var pages []crawler.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
