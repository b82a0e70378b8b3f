// Package mq implements the Message Queue Abstraction: a uniform
// publish/consume/ack/reject contract over a durable broker and an
// in-memory test variant.
package mq

import "context"

// Queue is the uniform interface both the durable broker backing
// (Broker, amqp.go) and the in-memory test backing (MemoryQueue,
// memory.go) satisfy.
type Queue interface {
	// Publish sends payload to exchange with routingKey. Publish
	// errors are transient unless the broker reports an unrecoverable
	// condition.
	Publish(ctx context.Context, exchange, routingKey string, payload []byte) error

	// GetReceiver returns a Receiver bound to queueName, declaring the
	// binding to exchange/routingKey if it does not already exist.
	GetReceiver(ctx context.Context, queueName, exchange, routingKey string) (Receiver, error)

	// DeclareWaitingQueue declares a queue with a per-message TTL whose
	// dead-letter route points at deadLetterExchange/deadLetterRoutingKey
	// — the waiting-queue pattern uses to poll an external
	// batch API without busy-waiting.
	DeclareWaitingQueue(ctx context.Context, queueName string, ttl int64, deadLetterExchange, deadLetterRoutingKey string) error

	Close() error
}

// Receiver yields Deliveries for one queue binding. Receive is
// cancellable via ctx and returns (nil, nil) on clean shutdown.
type Receiver interface {
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is one message in flight, owned exclusively by the worker
// holding it until Acker().Ack() or Acker().Reject() is called.
type Delivery interface {
	Data() []byte
	Acker() Acker
}

// Acker settles a Delivery exactly once.
type Acker interface {
	Ack(ctx context.Context) error
	// Reject settles the delivery as failed. requeue=true makes it
	// redeliverable; requeue=false removes it permanently (optionally
	// dead-lettering it, per the queue's configuration).
	Reject(ctx context.Context, requeue bool) error
}

// errReceiverClosed backs ErrReceiverClosed, which MemoryQueue's
// Publish and GetReceiver return once the queue has been closed.
// Receive itself reports a clean shutdown as (nil, nil).
type errReceiverClosed struct{}

func (errReceiverClosed) Error() string { return "mq: receiver closed" }

// ErrReceiverClosed is the sentinel value of errReceiverClosed.
var ErrReceiverClosed error = errReceiverClosed{}
