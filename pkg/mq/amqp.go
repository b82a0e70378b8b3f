package mq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the durable Queue backing: durable fanout exchanges,
// quorum queues, and publisher confirms over RabbitMQ.
type Broker struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger
}

// Dial connects to the broker at url and enables publisher confirms.
func Dial(url string, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("mq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mq: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("mq: enable confirms: %w", err)
	}
	return &Broker{url: url, conn: conn, channel: ch, log: log}, nil
}

func (b *Broker) declareExchange(exchange string) error {
	return b.channel.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil)
}

// Publish declares exchange (idempotent) and publishes with
// publisher-confirms, returning a transient error on nack or channel
// failure, publish failure semantics.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := b.declareExchange(exchange); err != nil {
		return fmt.Errorf("mq: declare exchange %s: %w", exchange, err)
	}
	confirmation, err := b.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("mq: publish: %w", err)
	}
	ok, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("mq: wait confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("mq: broker nacked publish to %s", exchange)
	}
	return nil
}

// GetReceiver declares a durable quorum queue bound to exchange and
// returns a Receiver consuming it with manual ack/reject. No prefetch
// (QoS) limit is set on the channel, so the broker does not cap the
// number of unacked deliveries per consumer.
func (b *Broker) GetReceiver(ctx context.Context, queueName, exchange, routingKey string) (Receiver, error) {
	if err := b.declareExchange(exchange); err != nil {
		return nil, err
	}
	q, err := b.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	})
	if err != nil {
		return nil, fmt.Errorf("mq: declare queue %s: %w", queueName, err)
	}
	if err := b.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("mq: bind queue %s: %w", queueName, err)
	}
	deliveries, err := b.channel.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("mq: consume %s: %w", queueName, err)
	}
	return &amqpReceiver{deliveries: deliveries}, nil
}

// DeclareWaitingQueue declares a durable queue with a per-message TTL
// and a dead-letter route to deadLetterExchange/deadLetterRoutingKey —
// the waiting-queue pattern used by the signal pending
// worker to poll an external batch without busy-waiting. queueName
// doubles as the entry exchange callers Publish to: Publish(ctx,
// queueName, queueName, payload) is how a message enters the wait,
// exactly mirroring the in-memory backing's model (memory.go's
// waiting map is keyed the same way).
func (b *Broker) DeclareWaitingQueue(ctx context.Context, queueName string, ttlSeconds int64, deadLetterExchange, deadLetterRoutingKey string) error {
	if err := b.declareExchange(deadLetterExchange); err != nil {
		return err
	}
	if err := b.declareExchange(queueName); err != nil {
		return err
	}
	q, err := b.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-message-ttl":             ttlSeconds * 1000,
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	})
	if err != nil {
		return fmt.Errorf("mq: declare waiting queue %s: %w", queueName, err)
	}
	// The waiting queue itself has no consumer; it exists purely to
	// hold a message for its TTL before the broker dead-letters it to
	// deadLetterExchange, which the pending worker consumes.
	return b.channel.QueueBind(q.Name, "", queueName, false, nil)
}

// Close releases the channel and connection.
func (b *Broker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type amqpReceiver struct {
	deliveries <-chan amqp.Delivery
}

func (r *amqpReceiver) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-r.deliveries:
		if !ok {
			return nil, nil
		}
		return &amqpDelivery{d: d}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *amqpReceiver) Close() error { return nil }

type amqpDelivery struct {
	d amqp.Delivery
}

func (d *amqpDelivery) Data() []byte { return d.d.Body }
func (d *amqpDelivery) Acker() Acker { return &amqpAcker{d: d.d} }

type amqpAcker struct {
	d amqp.Delivery
}

func (a *amqpAcker) Ack(ctx context.Context) error {
	return a.d.Ack(false)
}

func (a *amqpAcker) Reject(ctx context.Context, requeue bool) error {
	return a.d.Reject(requeue)
}
