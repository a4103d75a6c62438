package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to the exchange with the given
// routing key patterns.
func NewConsumer(conn *amqp.Connection, queue string, prefetch int, keys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := DeclareExchange(ch); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, ExchangeName, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s to %s", queue, key)
		}
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

// Consume starts delivery with manual acks. The channel is cancelled when
// ctx is done.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	tag := c.queue + "-consumer"
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %s", c.queue)
	}
	return deliveries, nil
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
