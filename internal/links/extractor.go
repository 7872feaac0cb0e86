package links

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/address"
	"github.com/JakeFAU/sitescraper/internal/crawler"
)

const maxAnchorText = 100

// Extractor resolves the links of stored pages and registers them as Fresh
// addresses. Each Extractor owns one SeenSet, so it represents one session.
type Extractor struct {
	registry *address.Registry
	pages    crawler.PageStore
	seen     *SeenSet
	logger   *zap.Logger
}

// NewExtractor builds an extraction session.
func NewExtractor(registry *address.Registry, pages crawler.PageStore, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		registry: registry,
		pages:    pages,
		seen:     NewSeenSet(),
		logger:   logger.Named("links"),
	}
}

// Seen exposes the session's seen set.
func (e *Extractor) Seen() *SeenSet { return e.seen }

// ExtractAndCreate registers every link of page that resolves to a new
// absolute URL and returns only the addresses that were created. Non-HTML
// pages yield nothing. Storage failures abort and propagate.
func (e *Extractor) ExtractAndCreate(ctx context.Context, page crawler.Page, ignoreQuery bool, contentGroup string, sameDomainOnly bool) ([]crawler.Address, error) {
	if !page.ContentType.Markup() {
		return nil, nil
	}
	owner, err := e.registry.Get(ctx, page.AddressID)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(owner.URLWithoutQuery())
	if err != nil {
		return nil, fmt.Errorf("parse base url of address %d: %w", owner.ID, err)
	}
	text, err := page.Text()
	if err != nil {
		return nil, err
	}
	body, err := BodyHTML(text)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.ID, err)
	}
	found, err := GetLinks(body)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.ID, err)
	}

	var created []crawler.Address
	for _, link := range found {
		target, ok := resolve(base, link.Href)
		if !ok {
			continue
		}
		if sameDomainOnly && !strings.EqualFold(target.Hostname(), base.Hostname()) {
			continue
		}
		abs := target.String()
		if !e.seen.Add(abs) {
			continue
		}
		comment := fmt.Sprintf("Found on page %d, titled: %s", page.ID, truncateRunes(link.Text, maxAnchorText))
		addr, isNew, err := e.registry.GetOrCreate(ctx, abs, ignoreQuery, comment, contentGroup)
		if err != nil {
			if errors.Is(err, crawler.ErrInvalidURL) {
				e.logger.Debug("skipping link", zap.String("href", link.Href), zap.Error(err))
				continue
			}
			return created, err
		}
		if isNew {
			created = append(created, addr)
		}
	}
	e.logger.Debug("links extracted",
		zap.Int64("page_id", page.ID),
		zap.Int("links", len(found)),
		zap.Int("created", len(created)),
	)
	return created, nil
}

// Populate runs extraction over a stored page, deriving the content group
// from the owning address. When new addresses were found and the owner had
// no group yet, the derived group is persisted on it.
func (e *Extractor) Populate(ctx context.Context, pageID int64, sameDomainOnly bool) ([]crawler.Address, error) {
	page, err := e.pages.GetPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", pageID, err)
	}
	return e.PopulateFromPage(ctx, page, sameDomainOnly)
}

// PopulateFromPage is Populate for a page that is already loaded.
func (e *Extractor) PopulateFromPage(ctx context.Context, page crawler.Page, sameDomainOnly bool) ([]crawler.Address, error) {
	owner, err := e.registry.Get(ctx, page.AddressID)
	if err != nil {
		return nil, err
	}
	group := address.GroupName(owner)
	created, err := e.ExtractAndCreate(ctx, page, false, group, sameDomainOnly)
	if err != nil {
		return created, err
	}
	if len(created) > 0 && owner.ContentGroup == "" {
		if err := e.registry.SetGroupName(ctx, &owner, group); err != nil {
			return created, err
		}
	}
	return created, nil
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	target := base.ResolveReference(ref)
	target.Fragment = ""
	target.RawFragment = ""
	if target.Host == "" {
		return nil, false
	}
	return target, true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
