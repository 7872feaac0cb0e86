// Package progress carries crawl progress events from the crawl loops to
// pluggable sinks. Emitters never block: events are buffered, batched on a
// background goroutine and fanned out to sinks such as structured logs,
// Prometheus collectors or a Pub/Sub topic.
package progress
