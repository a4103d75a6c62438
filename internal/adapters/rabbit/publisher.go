package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-booking/internal/observability"
)

const ExchangeName = "eventbook.events"

// Publisher sends to the topic exchange in confirm mode, so Publish only
// returns nil once the broker has taken the message.
type Publisher struct {
	ch         *amqp.Channel
	maxRetries int
	backoff    time.Duration
}

func DeclareExchange(ch *amqp.Channel) error {
	return errors.Wrap(ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil), "declare exchange")
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := DeclareExchange(ch); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch, maxRetries: 3, backoff: 200 * time.Millisecond}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var err error
	for i := 0; i < p.maxRetries; i++ {
		if i > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << (i - 1)):
			}
		}
		if err = p.publishOnce(ctx, key, msg); err == nil {
			return nil
		}
		if p.ch.IsClosed() {
			break
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

func (p *Publisher) publishOnce(ctx context.Context, key string, msg amqp.Publishing) error {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, key, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.Newf("broker nacked message %s", msg.MessageId)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
