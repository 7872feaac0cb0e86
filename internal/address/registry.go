package address

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Registry creates and looks up addresses against an AddressStore. It is the
// single source of truth for deduplication, so repeated calls are safe.
type Registry struct {
	store  crawler.AddressStore
	logger *zap.Logger
}

// NewRegistry wires a registry to its store.
func NewRegistry(store crawler.AddressStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger.Named("registry")}
}

// GetOrCreate returns the address matching rawURL, creating a Fresh one when
// none exists. The boolean reports whether a new address was persisted.
func (r *Registry) GetOrCreate(ctx context.Context, rawURL string, ignoreQuery bool, comment, contentGroup string) (crawler.Address, bool, error) {
	u, err := crawler.ParseURL(rawURL)
	if err != nil {
		return crawler.Address{}, false, err
	}
	existing, err := r.store.FindAddress(ctx, crawler.KeyFor(u, ignoreQuery))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, crawler.ErrNotFound):
		return crawler.Address{}, false, fmt.Errorf("find address %q: %w", rawURL, err)
	}

	address := crawler.NewAddress(u, comment, contentGroup)
	if err := r.store.CreateAddress(ctx, &address); err != nil {
		return crawler.Address{}, false, fmt.Errorf("create address %q: %w", rawURL, err)
	}
	r.logger.Debug("address created",
		zap.Int64("address_id", address.ID),
		zap.String("url", address.URL()),
		zap.String("content_group", contentGroup),
	)
	return address, true, nil
}

// Get loads an address by id.
func (r *Registry) Get(ctx context.Context, id int64) (crawler.Address, error) {
	address, err := r.store.GetAddress(ctx, id)
	if err != nil {
		return crawler.Address{}, fmt.Errorf("get address %d: %w", id, err)
	}
	return address, nil
}

// SetStatus records a status transition with an optional annotation and
// persists it. Callers treat the returned error as fatal.
func (r *Registry) SetStatus(ctx context.Context, address *crawler.Address, status crawler.AddressStatus, note string) error {
	address.Status = status
	address.Annotate(note)
	if err := r.store.UpdateAddress(ctx, *address); err != nil {
		return fmt.Errorf("set status %s on address %d: %w", status, address.ID, err)
	}
	r.logger.Debug("address status changed",
		zap.Int64("address_id", address.ID),
		zap.Stringer("status", status),
	)
	return nil
}

// Annotate appends a note without changing the status.
func (r *Registry) Annotate(ctx context.Context, address *crawler.Address, note string) error {
	address.Annotate(note)
	if err := r.store.UpdateAddress(ctx, *address); err != nil {
		return fmt.Errorf("annotate address %d: %w", address.ID, err)
	}
	return nil
}

// SetGroupName assigns and persists a content group.
func (r *Registry) SetGroupName(ctx context.Context, address *crawler.Address, group string) error {
	address.ContentGroup = group
	if err := r.store.UpdateAddress(ctx, *address); err != nil {
		return fmt.Errorf("set content group on address %d: %w", address.ID, err)
	}
	return nil
}

// AreURIsEqual compares host and path, plus the query unless ignored,
// case-insensitively on the unescaped form. Unparseable input is never equal.
func AreURIsEqual(a, b string, ignoreQuery bool) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(equalityKey(ua, ignoreQuery), equalityKey(ub, ignoreQuery))
}

func equalityKey(u *url.URL, ignoreQuery bool) string {
	s := u.Host + u.Path
	if !ignoreQuery && u.RawQuery != "" {
		q, err := url.QueryUnescape(u.RawQuery)
		if err != nil {
			q = u.RawQuery
		}
		s += "?" + q
	}
	return s
}

// GroupName returns the address's content group, or one derived from its domain.
func GroupName(address crawler.Address) string {
	if address.ContentGroup != "" {
		return address.ContentGroup
	}
	return groupFromHost(address.Domain)
}

// DomainGroupName derives the content group for the domain of rawURL.
func DomainGroupName(rawURL string) (string, error) {
	u, err := crawler.ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	return groupFromHost(u.Hostname()), nil
}

func groupFromHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	return strings.ReplaceAll(host, ".", "_")
}
