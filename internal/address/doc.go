// Package address owns crawl-target identity: normalized lookup and
// deduplicated creation of addresses, URL equality for redirect detection,
// and the domain-derived content-group label.
package address
