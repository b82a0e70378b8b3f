// Package worker implements the Generic Worker Runtime:
// a reconnect-with-backoff loop around one consumer on one queue,
// dispatching each delivery to a MessageHandler and turning the
// handler's *errors.HandlerError into ack/reject/requeue.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
)

// MessageHandler processes one delivery's raw payload. It returns nil
// on success, or a *errors.HandlerError describing why it failed; any
// other error is treated as Permanent (deserialization-class).
type MessageHandler interface {
	Handle(ctx context.Context, data []byte) error
}

// Binding names the queue/exchange/routing-key triple a Runtime
// consumes from.
type Binding struct {
	QueueName  string
	Exchange   string
	RoutingKey string
}

// BackoffConfig controls the reconnect policy.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxElapsed  time.Duration
}

// Runtime owns one consumer and runs forever, reconnecting with
// capped exponential backoff on receiver failure.
type Runtime struct {
	Name    string
	Queue   mq.Queue
	Binding Binding
	Handler MessageHandler
	Backoff BackoffConfig
	Log     *slog.Logger
}

// RunForever never returns in normal operation. Each time the
// receiver ends (error, or a clean nil signalling shutdown-in-
// progress at the connection level), it reconnects with capped
// exponential backoff (initial 1s, max 60s, max-elapsed 300s by
// convention); on backoff exhaustion it sleeps 1s and starts the
// whole reconnect sequence over, never exiting the process.
func (r *Runtime) RunForever(ctx context.Context) {
	log := r.logger()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.connectAndServe(ctx); err != nil {
			log.Error("worker lost connection, will reconnect", "worker", r.Name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}

func (r *Runtime) connectAndServe(ctx context.Context) error {
	log := r.logger()
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

	log.Info("worker connected", "worker", r.Name, "queue", r.Binding.QueueName)

	for {
		delivery, err := recv.Receive(ctx)
		if err != nil {
			return err
		}
		if delivery == nil {
			// Clean shutdown signal from the receiver.
			return nil
		}
		r.dispatch(ctx, delivery)
	}
}

func (r *Runtime) dispatch(ctx context.Context, delivery mq.Delivery) {
	log := r.logger()
	err := r.Handler.Handle(ctx, delivery.Data())
	if err == nil {
		if ackErr := delivery.Acker().Ack(ctx); ackErr != nil {
			log.Error("ack failed", "worker", r.Name, "error", ackErr)
		}
		return
	}

	he, ok := hcerrors.AsHandlerError(err)
	if !ok {
		// Anything the handler returns that isn't a *HandlerError is
		// treated as a deserialization-class permanent failure.
		he = hcerrors.Permanent(hcerrors.KindDeserialization, err)
	}

	log.Warn("handler failed", "worker", r.Name, "kind", he.Kind.String(), "requeue", he.ShouldRequeue(), "error", he.Err)
	if rejErr := delivery.Acker().Reject(ctx, he.ShouldRequeue()); rejErr != nil {
		log.Error("reject failed", "worker", r.Name, "error", rejErr)
	}
}

func (r *Runtime) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
