// Package outbox relays committed outbox messages to the broker.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
)

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	store    domain.OutboxStore
	sink     Sink
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(store domain.OutboxStore, sink Sink, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{store: store, sink: sink, logger: logger, interval: interval, batch: batch}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := p.PublishOnce(ctx)
				if err != nil && ctx.Err() == nil {
					p.logger.WithError(err).Warn("outbox relay incomplete")
				}
				// A full batch means more rows are probably waiting.
				if err != nil || n < p.batch {
					break
				}
			}
		}
	}
}

// PublishOnce relays one batch and returns how many messages were published.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	var lag time.Duration
	n, err := p.store.PublishPending(ctx, p.batch, func(m domain.OutboxMessage) error {
		err := p.sink.Publish(ctx, m.EventType, amqp.Publishing{
			MessageId:   m.DedupeKey,
			ContentType: "application/json",
			Type:        m.EventType,
			Timestamp:   m.CreatedAt,
			Body:        m.Payload,
			Headers: amqp.Table{
				"aggregate_type": m.AggregateType,
				"aggregate_id":   m.AggregateID.String(),
			},
		})
		if err != nil {
			return err
		}
		if d := time.Since(m.CreatedAt); d > lag {
			lag = d
		}
		return nil
	})
	if n > 0 {
		observability.OutboxPublished.Add(float64(n))
		observability.OutboxLag.Set(lag.Seconds())
	}
	return n, err
}
