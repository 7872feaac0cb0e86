// Package memory keeps addresses, pages and mirrored artifacts in process
// memory. It backs tests and throwaway runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Store implements crawler.Store with maps guarded by a RWMutex. Values are
// copied in and out so callers never share memory with the store.
type Store struct {
	mu        sync.RWMutex
	addresses map[int64]crawler.Address
	pages     map[int64]crawler.Page
	nextAddr  int64
	nextPage  int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		addresses: make(map[int64]crawler.Address),
		pages:     make(map[int64]crawler.Page),
	}
}

// GetAddress returns the address with id.
func (s *Store) GetAddress(_ context.Context, id int64) (crawler.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addresses[id]
	if !ok {
		return crawler.Address{}, crawler.ErrNotFound
	}
	return copyAddress(a), nil
}

// FindAddress returns the lowest-id address matching key.
func (s *Store) FindAddress(_ context.Context, key crawler.AddressKey) (crawler.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedAddressIDs() {
		if a := s.addresses[id]; key.Matches(a) {
			return copyAddress(a), nil
		}
	}
	return crawler.Address{}, crawler.ErrNotFound
}

// CreateAddress stores a copy of address and assigns its ID.
func (s *Store) CreateAddress(_ context.Context, address *crawler.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAddr++
	address.ID = s.nextAddr
	s.addresses[address.ID] = copyAddress(*address)
	return nil
}

// UpdateAddress replaces the stored address.
func (s *Store) UpdateAddress(_ context.Context, address crawler.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addresses[address.ID]; !ok {
		return crawler.ErrNotFound
	}
	s.addresses[address.ID] = copyAddress(address)
	return nil
}

// NextFresh returns the lowest-id Fresh address, optionally restricted to domain.
func (s *Store) NextFresh(_ context.Context, domain string) (crawler.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	domain = strings.ToLower(domain)
	for _, id := range s.sortedAddressIDs() {
		a := s.addresses[id]
		if a.Status != crawler.StatusFresh {
			continue
		}
		if domain != "" && a.Domain != domain {
			continue
		}
		return copyAddress(a), nil
	}
	return crawler.Address{}, crawler.ErrNotFound
}

// CreatePage stores a copy of page and assigns its ID.
func (s *Store) CreatePage(_ context.Context, page *crawler.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPage++
	page.ID = s.nextPage
	s.pages[page.ID] = copyPage(*page)
	return nil
}

// GetPage returns the page with id.
func (s *Store) GetPage(_ context.Context, id int64) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return crawler.Page{}, crawler.ErrNotFound
	}
	return copyPage(p), nil
}

// ListPagesAfter returns up to limit pages with ID greater than afterID.
func (s *Store) ListPagesAfter(_ context.Context, afterID int64, limit int) ([]crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.pages))
	for id := range s.pages {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]crawler.Page, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyPage(s.pages[id]))
	}
	return out, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.pages)), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) sortedAddressIDs() []int64 {
	ids := make([]int64, 0, len(s.addresses))
	for id := range s.addresses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func copyAddress(a crawler.Address) crawler.Address {
	a.Comments = append(crawler.Annotations(nil), a.Comments...)
	return a
}

func copyPage(p crawler.Page) crawler.Page {
	p.Content = append([]byte(nil), p.Content...)
	return p
}
