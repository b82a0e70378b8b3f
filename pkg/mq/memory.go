package mq

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is the single-process in-memory Queue backing used by
// tests: channel-backed, no network, same ack/reject contract as the
// durable broker.
type MemoryQueue struct {
	mu        sync.Mutex
	queues    map[string]chan Delivery
	bindings  map[string][]string // exchange -> queue names bound to it
	waiting   map[string]waitingSpec
	closed    bool
}

type waitingSpec struct {
	ttl                  time.Duration
	deadLetterExchange   string
	deadLetterRoutingKey string
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues:   make(map[string]chan Delivery),
		bindings: make(map[string][]string),
		waiting:  make(map[string]waitingSpec),
	}
}

func (q *MemoryQueue) bind(queueName, exchange string) {
	for _, existing := range q.bindings[exchange] {
		if existing == queueName {
			return
		}
	}
	q.bindings[exchange] = append(q.bindings[exchange], queueName)
}

// Publish fans the payload out to every queue bound to exchange. If
// exchange is itself a declared waiting queue, the message is instead
// held for its TTL and then re-published to the configured
// dead-letter exchange/routing key — the waiting-queue pattern.
func (q *MemoryQueue) Publish(ctx context.Context, exchange, routingKey string, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrReceiverClosed
	}
	if spec, isWaiting := q.waiting[exchange]; isWaiting {
		q.mu.Unlock()
		body := append([]byte(nil), payload...)
		time.AfterFunc(spec.ttl, func() {
			_ = q.Publish(context.Background(), spec.deadLetterExchange, spec.deadLetterRoutingKey, body)
		})
		return nil
	}
	targets := append([]string(nil), q.bindings[exchange]...)
	for _, name := range targets {
		q.ensureQueueLocked(name)
		ch := q.queues[name]
		d := &memoryDelivery{data: append([]byte(nil), payload...), queue: q, queueName: name}
		select {
		case ch <- d:
		default:
			go func(ch chan Delivery, d Delivery) { ch <- d }(ch, d)
		}
	}
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) ensureQueueLocked(name string) {
	if _, ok := q.queues[name]; !ok {
		q.queues[name] = make(chan Delivery, 1024)
	}
}

// GetReceiver returns a Receiver bound to queueName/exchange/routingKey.
// routingKey is accepted for interface parity with the durable broker
// but ignored: every queue in this system uses fanout exchanges
//, so binding is exchange-scoped only.
func (q *MemoryQueue) GetReceiver(ctx context.Context, queueName, exchange, routingKey string) (Receiver, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrReceiverClosed
	}
	q.ensureQueueLocked(queueName)
	q.bind(queueName, exchange)
	return &memoryReceiver{ch: q.queues[queueName]}, nil
}

// DeclareWaitingQueue marks queueName as a waiting queue: publishes to
// its bound exchange are delayed by ttl, then forwarded to
// deadLetterExchange/deadLetterRoutingKey instead of being delivered
// to any receiver on queueName itself.
func (q *MemoryQueue) DeclareWaitingQueue(ctx context.Context, queueName string, ttlSeconds int64, deadLetterExchange, deadLetterRoutingKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting[queueName] = waitingSpec{
		ttl:                  time.Duration(ttlSeconds) * time.Second,
		deadLetterExchange:   deadLetterExchange,
		deadLetterRoutingKey: deadLetterRoutingKey,
	}
	return nil
}

// Close shuts down every receiver cleanly; outstanding Receive calls
// return (nil, nil).
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	return nil
}

type memoryReceiver struct {
	ch chan Delivery
}

func (r *memoryReceiver) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-r.ch:
		if !ok {
			return nil, nil
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *memoryReceiver) Close() error { return nil }

type memoryDelivery struct {
	data      []byte
	queue     *MemoryQueue
	queueName string
}

func (d *memoryDelivery) Data() []byte  { return d.data }
func (d *memoryDelivery) Acker() Acker  { return &memoryAcker{delivery: d} }

type memoryAcker struct {
	delivery *memoryDelivery
}

func (a *memoryAcker) Ack(ctx context.Context) error { return nil }

// Reject with requeue=true puts the message back on the same queue,
// becoming redeliverable — consistent with the broker contract that a
// delivered-but-unacked message is redeliverable on disconnect.
// requeue=false discards it permanently.
func (a *memoryAcker) Reject(ctx context.Context, requeue bool) error {
	if !requeue {
		return nil
	}
	a.delivery.queue.mu.Lock()
	ch, ok := a.delivery.queue.queues[a.delivery.queueName]
	a.delivery.queue.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case ch <- a.delivery:
	default:
		go func() { ch <- a.delivery }()
	}
	return nil
}
