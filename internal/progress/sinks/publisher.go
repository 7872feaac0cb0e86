package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sitescraper/internal/progress"
)

// Publisher delivers a JSON-encodable payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink forwards each event to a message topic.
type PublisherSink struct {
	pub   Publisher
	topic string
}

// NewPublisherSink returns a sink that publishes to topic.
func NewPublisherSink(pub Publisher, topic string) *PublisherSink {
	return &PublisherSink{pub: pub, topic: topic}
}

type eventPayload struct {
	RunID     string  `json:"run_id"`
	Timestamp string  `json:"timestamp"`
	Stage     string  `json:"stage"`
	Mode      string  `json:"mode,omitempty"`
	Domain    string  `json:"domain,omitempty"`
	URL       string  `json:"url,omitempty"`
	AddressID int64   `json:"address_id,omitempty"`
	PageID    int64   `json:"page_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	Created   int64   `json:"created,omitempty"`
	Processed int64   `json:"processed,omitempty"`
	Seconds   float64 `json:"duration_seconds,omitempty"`
	Note      string  `json:"note,omitempty"`
}

func toPayload(evt progress.Event) eventPayload {
	return eventPayload{
		RunID:     evt.RunUUID().String(),
		Timestamp: evt.TS.UTC().Format(time.RFC3339Nano),
		Stage:     string(evt.Stage),
		Mode:      string(evt.Mode),
		Domain:    evt.Domain,
		URL:       evt.URL,
		AddressID: evt.AddressID,
		PageID:    evt.PageID,
		Status:    evt.Status,
		Outcome:   evt.Outcome,
		Created:   evt.Created,
		Processed: evt.Processed,
		Seconds:   evt.Dur.Seconds(),
		Note:      evt.Note,
	}
}

// Consume publishes every event and returns the joined publish errors.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if _, err := s.pub.Publish(ctx, s.topic, toPayload(evt)); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the publisher when it holds resources.
func (s *PublisherSink) Close(context.Context) error {
	if closer, ok := s.pub.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
