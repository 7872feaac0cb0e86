// Package sinks implements concrete progress consumers: Prometheus
// collectors, structured logging and a publisher that forwards events to a
// message topic. Each sink satisfies progress.Sink.
package sinks
