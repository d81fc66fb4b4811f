package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// PublisherSink forwards job status transitions and blocked proxies to a
// message topic for downstream viewers. Other kinds stay in-process.
type PublisherSink struct {
	publisher scraper.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink binds a publisher and topic.
func NewPublisherSink(publisher scraper.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes each forwarded event; individual failures are collected
// so one bad message does not block the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !forwarded(evt.Kind) {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Kind, err))
			continue
		}
		s.logger.Debug("published notification", zap.String("kind", string(evt.Kind)), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func forwarded(kind progress.Kind) bool {
	return kind == progress.KindJobStatus || kind == progress.KindProxyBlocked
}
