package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot identify a crawl target.
var ErrInvalidURL = errors.New("invalid url")

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ftp":   21,
	"ftps":  990,
}

// ParseURL parses an absolute URL and rejects values without a scheme or host.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	return u, nil
}

// EffectivePort returns the explicit port of u, or the scheme default (0 if unknown).
func EffectivePort(u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return defaultPorts[strings.ToLower(u.Scheme)]
}

func explicitPort(u *url.URL) int {
	p := u.Port()
	if p == "" {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil || n == defaultPorts[strings.ToLower(u.Scheme)] {
		return 0
	}
	return n
}

func absolutePath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// KeyFor builds the lookup key for u.
func KeyFor(u *url.URL, ignoreQuery bool) AddressKey {
	return AddressKey{
		Scheme:      strings.ToLower(u.Scheme),
		Domain:      strings.ToLower(u.Hostname()),
		Port:        EffectivePort(u),
		Path:        absolutePath(u),
		Query:       queryString(u),
		IgnoreQuery: ignoreQuery,
	}
}

// NewAddress builds a Fresh address for u; a default port collapses to zero.
func NewAddress(u *url.URL, comment, contentGroup string) Address {
	a := Address{
		Status:       StatusFresh,
		Scheme:       strings.ToLower(u.Scheme),
		Domain:       strings.ToLower(u.Hostname()),
		Port:         explicitPort(u),
		Path:         absolutePath(u),
		Query:        queryString(u),
		ContentGroup: contentGroup,
	}
	a.Annotate(comment)
	return a
}

func (a Address) authority() string {
	if a.Port != 0 {
		return net.JoinHostPort(a.Domain, strconv.Itoa(a.Port))
	}
	if strings.Contains(a.Domain, ":") {
		return "[" + a.Domain + "]"
	}
	return a.Domain
}

// RootURL renders scheme://authority/.
func (a Address) RootURL() string {
	return a.Scheme + "://" + a.authority() + "/"
}

// URLWithoutQuery renders the address without its query string.
func (a Address) URLWithoutQuery() string {
	path := a.Path
	if path == "" {
		path = "/"
	}
	return a.Scheme + "://" + a.authority() + path
}

// URL renders the full address.
func (a Address) URL() string {
	return a.URLWithoutQuery() + a.Query
}
