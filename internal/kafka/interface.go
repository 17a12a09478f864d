package kafka

import (
	"context"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

// EventProducer publishes domain events for downstream consumers.
type EventProducer interface {
	Produce(ctx context.Context, ev *domain.DomainEvent) error
	Close() error
}

// NoopProducer discards events. Used when no brokers are configured.
type NoopProducer struct{}

func (NoopProducer) Produce(context.Context, *domain.DomainEvent) error { return nil }

func (NoopProducer) Close() error { return nil }

var _ EventProducer = NoopProducer{}
