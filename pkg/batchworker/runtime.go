// Package batchworker implements the Batch Worker Runtime:
// a variant of the Generic Worker Runtime that carries a
// handler-owned State across deliveries and flushes it on size or a
// periodic tick: per-connection state reset, ackers keyed by the
// message's unique id, a Go select over a receive-pump channel and a
// time.Ticker racing delivery against the periodic tick (Ticker
// already drops buffered ticks, giving the "skip missed ticks"
// fairness policy for free), and bounded concurrent settlement of the
// ack, reject and requeue buckets.
package batchworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/worker"
)

// Message is anything a BatchMessageHandler can produce from a
// delivery's bytes; its UniqueID keys the pending-ackers map so a
// later ProcessStateResult can resolve back to the Delivery that
// produced it.
type Message interface {
	UniqueID() string
}

// ProcessStateResult buckets messages by settlement decision. Every
// message in a bucket is resolved against the pending-ackers map and
// settled; messages touched by neither bucket stay buffered for a
// later flush decision.
type ProcessStateResult struct {
	ToAck     []Message
	ToReject  []Message
	ToRequeue []Message
}

// Empty returns a result that settles nothing.
func Empty() ProcessStateResult { return ProcessStateResult{} }

// BatchMessageHandler is the handler contract a Runtime drives. S is
// the handler's own accumulated state type (e.g. a map keyed by
// (project_id, signal_id) for the Clustering Batcher).
type BatchMessageHandler[S any] interface {
	// InitialState returns a fresh State for a new connection.
	InitialState() S

	// HandleMessage deserializes data and folds it into state,
	// returning the parsed Message on success or a *errors.HandlerError
	// (or any error, treated as Permanent/deserialization) on failure.
	HandleMessage(ctx context.Context, data []byte, state *S) (Message, error)

	// ProcessStateAfterMessage runs immediately after a successful
	// HandleMessage for the same delivery, before the next delivery is
	// considered.
	ProcessStateAfterMessage(ctx context.Context, msg Message, state *S) ProcessStateResult

	// ProcessStatePeriodic runs on every tick of StateCheckInterval.
	// Never interleaves with HandleMessage/ProcessStateAfterMessage.
	ProcessStatePeriodic(ctx context.Context, state *S) ProcessStateResult

	// StateCheckInterval returns the periodic-tick interval; zero
	// disables ticks entirely.
	StateCheckInterval() time.Duration
}

// Runtime drives one BatchMessageHandler over one queue binding,
// reconnecting forever with the same backoff policy as the Generic
// Worker Runtime.
type Runtime[S any] struct {
	Name    string
	Queue   mq.Queue
	Binding worker.Binding
	Handler BatchMessageHandler[S]
	Backoff worker.BackoffConfig
	Log     *slog.Logger

	// MaxConcurrentSettle bounds how many acks/rejects run at once per
	// flush; explicitly warns unbounded join_all has starved
	// real deployments. Defaults to 16 if zero.
	MaxConcurrentSettle int
}

func (r *Runtime[S]) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// RunForever loops { processInner(); sleep(1s) } and returns only once
// ctx is cancelled.
func (r *Runtime[S]) RunForever(ctx context.Context) {
	log := r.logger()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.processInner(ctx); err != nil {
			log.Error("batch worker lost connection, will reconnect", "worker", r.Name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}

type deliveryResult struct {
	delivery mq.Delivery
	err      error
}

func (r *Runtime[S]) processInner(ctx context.Context) error {
	log := r.logger()
	state := r.Handler.InitialState()
	ackers := make(map[string]mq.Acker)

	var recv mq.Receiver
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Backoff.Initial
	b.MaxInterval = r.Backoff.Max
	b.MaxElapsedTime = r.Backoff.MaxElapsed
	err := backoff.Retry(func() error {
		var connErr error
		recv, connErr = r.Queue.GetReceiver(ctx, r.Binding.QueueName, r.Binding.Exchange, r.Binding.RoutingKey)
		return connErr
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return err
	}
	defer recv.Close()
	log.Info("batch worker connected", "worker", r.Name, "queue", r.Binding.QueueName)

	checkInterval := r.Handler.StateCheckInterval()
	var tickerC <-chan time.Time
	if checkInterval > 0 {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	deliveries := make(chan deliveryResult)
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go func() {
		for {
			d, err := recv.Receive(pumpCtx)
			select {
			case deliveries <- deliveryResult{delivery: d, err: err}:
			case <-pumpCtx.Done():
				return
			}
			if err != nil || d == nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case dr := <-deliveries:
			if dr.err != nil {
				return dr.err
			}
			if dr.delivery == nil {
				return nil
			}
			r.handleDelivery(ctx, dr.delivery, &state, ackers)
		case <-tickerC:
			result := r.Handler.ProcessStatePeriodic(ctx, &state)
			r.settle(ctx, result, ackers)
		}
	}
}

func (r *Runtime[S]) handleDelivery(ctx context.Context, delivery mq.Delivery, state *S, ackers map[string]mq.Acker) {
	log := r.logger()
	msg, err := r.Handler.HandleMessage(ctx, delivery.Data(), state)
	if err != nil {
		he, ok := hcerrors.AsHandlerError(err)
		if !ok {
			he = hcerrors.Permanent(hcerrors.KindDeserialization, err)
		}
		log.Warn("batch handler failed", "worker", r.Name, "kind", he.Kind.String(), "requeue", he.ShouldRequeue())
		if rejErr := delivery.Acker().Reject(ctx, he.ShouldRequeue()); rejErr != nil {
			log.Error("reject failed", "worker", r.Name, "error", rejErr)
		}
		return
	}

	ackers[msg.UniqueID()] = delivery.Acker()
	result := r.Handler.ProcessStateAfterMessage(ctx, msg, state)
	r.settle(ctx, result, ackers)
}

// settle resolves each bucket's messages against the pending-ackers
// map and settles them concurrently, bounded by MaxConcurrentSettle.
// Messages in none of the buckets stay buffered untouched.
func (r *Runtime[S]) settle(ctx context.Context, result ProcessStateResult, ackers map[string]mq.Acker) {
	log := r.logger()
	limit := r.MaxConcurrentSettle
	if limit <= 0 {
		limit = 16
	}
	sem := make(chan struct{}, limit)
	done := make(chan struct{})
	pending := 0

	run := func(acker mq.Acker, fn func() error) {
		pending++
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			if err := fn(); err != nil {
				log.Error("settle failed", "worker", r.Name, "error", err)
			}
		}()
	}

	for _, m := range result.ToAck {
		acker, ok := ackers[m.UniqueID()]
		if !ok {
			continue
		}
		delete(ackers, m.UniqueID())
		run(acker, func() error { return acker.Ack(ctx) })
	}
	for _, m := range result.ToReject {
		acker, ok := ackers[m.UniqueID()]
		if !ok {
			continue
		}
		delete(ackers, m.UniqueID())
		run(acker, func() error { return acker.Reject(ctx, false) })
	}
	for _, m := range result.ToRequeue {
		acker, ok := ackers[m.UniqueID()]
		if !ok {
			continue
		}
		delete(ackers, m.UniqueID())
		run(acker, func() error { return acker.Reject(ctx, true) })
	}

	for i := 0; i < pending; i++ {
		<-done
	}
}
