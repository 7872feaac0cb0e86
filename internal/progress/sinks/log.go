package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("mode", string(evt.Mode)),
		}
		if evt.Domain != "" {
			fields = append(fields, zap.String("domain", evt.Domain))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.AddressID > 0 {
			fields = append(fields, zap.Int64("address_id", evt.AddressID))
		}
		if evt.PageID > 0 {
			fields = append(fields, zap.Int64("page_id", evt.PageID))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Created > 0 {
			fields = append(fields, zap.Int64("created", evt.Created))
		}
		if evt.Processed > 0 {
			fields = append(fields, zap.Int64("processed", evt.Processed))
		}
		fields = append(fields, zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
