// Package main hosts the sitescraper entrypoint.
//
// sitescraper keeps a catalogue of addresses and works through it one at a
// time with a single Chrome instance: each Fresh address is opened,
// classified, captured, optionally screened by a vision model and stored as a
// page snapshot or a downloaded file, and the links it contains are added back
// as new Fresh addresses.
//
// Commands:
//   - crawl / domain: run the frontier loop across every address or one domain.
//   - download / open: acquire one address by id, or register a URL and acquire it.
//   - capture / ask: manual screenshot, full-page image or PDF of a URL, and a
//     free-text question to the vision model about an image.
//   - relink / relink-page: rebuild links from stored pages, in chunks with a
//     resumable checkpoint, or for one page.
//   - serve: the status server with health, metrics and address lookups.
//
// Configuration comes from an optional file passed with --config and from
// SCRAPER_* environment variables, e.g. SCRAPER_STORE_DRIVER=postgres or
// SCRAPER_AI_ENABLED=true. SIGINT and SIGTERM cancel the running command; a
// crawl stops after the address in progress and relink after the current chunk.
package main
