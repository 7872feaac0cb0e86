// Package postgres provides a Postgres-backed crawler.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pool is the subset of pgxpool.Pool used by the store; pgxmock implements it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.Store.
type Store struct {
	pool pool
}

// New connects a pool using cfg and makes sure the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const addressColumns = `id, status, comments, tags, content_group, scheme, domain, port, path, query`

func scanAddress(row pgx.Row) (crawler.Address, error) {
	var (
		a        crawler.Address
		status   int32
		port     int32
		comments []string
	)
	err := row.Scan(&a.ID, &status, &comments, &a.Tags, &a.ContentGroup, &a.Scheme, &a.Domain, &port, &a.Path, &a.Query)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Address{}, crawler.ErrNotFound
		}
		return crawler.Address{}, err
	}
	a.Status = crawler.AddressStatus(status)
	a.Port = int(port)
	if len(comments) > 0 {
		a.Comments = crawler.Annotations(comments)
	}
	return a, nil
}

// GetAddress returns the address with id.
func (s *Store) GetAddress(ctx context.Context, id int64) (crawler.Address, error) {
	a, err := scanAddress(s.pool.QueryRow(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
	if err != nil {
		return crawler.Address{}, fmt.Errorf("get address %d: %w", id, err)
	}
	return a, nil
}

// FindAddress returns the lowest-id address matching key.
func (s *Store) FindAddress(ctx context.Context, key crawler.AddressKey) (crawler.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses
WHERE scheme = $1 AND domain = $2 AND (port = 0 OR port = $3)
	AND path IN ($4, $5, $6) AND ($7 OR query = $8)
ORDER BY id LIMIT 1`
	a, err := scanAddress(s.pool.QueryRow(ctx, query,
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
	query := `INSERT INTO addresses (status, comments, tags, content_group, scheme, domain, port, path, query)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := s.pool.QueryRow(ctx, query,
		int32(address.Status),
		comments(address.Comments),
		address.Tags,
		address.ContentGroup,
		address.Scheme,
		address.Domain,
		int32(address.Port),
		address.Path,
		address.Query,
	).Scan(&address.ID)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

// UpdateAddress replaces the stored address.
func (s *Store) UpdateAddress(ctx context.Context, address crawler.Address) error {
	query := `UPDATE addresses SET status = $1, comments = $2, tags = $3, content_group = $4,
	scheme = $5, domain = $6, port = $7, path = $8, query = $9
WHERE id = $10`
	tag, err := s.pool.Exec(ctx, query,
		int32(address.Status),
		comments(address.Comments),
		address.Tags,
		address.ContentGroup,
		address.Scheme,
		address.Domain,
		int32(address.Port),
		address.Path,
		address.Query,
		address.ID,
	)
	if err != nil {
		return fmt.Errorf("update address %d: %w", address.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update address %d: %w", address.ID, crawler.ErrNotFound)
	}
	return nil
}

// NextFresh returns the lowest-id Fresh address, optionally restricted to domain.
func (s *Store) NextFresh(ctx context.Context, domain string) (crawler.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses
WHERE status = $1 AND ($2 = '' OR domain = $2)
ORDER BY id LIMIT 1`
	a, err := scanAddress(s.pool.QueryRow(ctx, query, int32(crawler.StatusFresh), strings.ToLower(domain)))
	if err != nil {
		return crawler.Address{}, fmt.Errorf("next fresh address: %w", err)
	}
	return a, nil
}

// CreatePage inserts the page and assigns its ID.
func (s *Store) CreatePage(ctx context.Context, page *crawler.Page) error {
	query := `INSERT INTO pages (address_id, content, content_path, content_type, downloaded, tags)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := s.pool.QueryRow(ctx, query,
		page.AddressID,
		page.Content,
		page.ContentPath,
		int32(page.ContentType),
		page.Downloaded,
		page.Tags,
	).Scan(&page.ID)
	if err != nil {
		return fmt.Errorf("insert page for address %d: %w", page.AddressID, err)
	}
	return nil
}

const pageColumns = `id, address_id, content, content_path, content_type, downloaded, tags`

func scanPage(row pgx.Row) (crawler.Page, error) {
	var (
		p           crawler.Page
		contentType int32
	)
	if err := row.Scan(&p.ID, &p.AddressID, &p.Content, &p.ContentPath, &contentType, &p.Downloaded, &p.Tags); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Page{}, crawler.ErrNotFound
		}
		return crawler.Page{}, err
	}
	p.ContentType = crawler.ContentType(contentType)
	p.Downloaded = p.Downloaded.UTC()
	return p, nil
}

// GetPage returns the page with id.
func (s *Store) GetPage(ctx context.Context, id int64) (crawler.Page, error) {
	p, err := scanPage(s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get page %d: %w", id, err)
	}
	return p, nil
}

// ListPagesAfter returns up to limit pages with ID greater than afterID.
func (s *Store) ListPagesAfter(ctx context.Context, afterID int64, limit int) ([]crawler.Page, error) {
	var rowLimit any = limit
	if limit <= 0 {
		rowLimit = nil // LIMIT NULL returns every row
	}
	rows, err := s.pool.Query(ctx, `SELECT `+pageColumns+` FROM pages WHERE id > $1 ORDER BY id LIMIT $2`, afterID, rowLimit)
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
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

func comments(a crawler.Annotations) []string {
	if a == nil {
		return []string{}
	}
	return []string(a)
}
