// Command signalpending runs the Signal Engine's pending worker: it
// polls a submitted batch for terminal state, re-queues onto the TTL
// waiting queue while still running, and walks every succeeded
// response through the tool-call loop, emitting Events and
// forwarding unfinished runs back to the submission queue.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/lmnr-ai/ingest-core/pkg/bootstrap"
	"github.com/lmnr-ai/ingest-core/pkg/signal"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/worker"
)

const PendingQueue = "signal_pending_worker"

func main() {
	configPath := flag.String("config", "", "path to YAML config (overrides INGEST_CORE_CONFIG)")
	flag.Parse()

	log := bootstrap.NewLogger()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relational, err := bootstrap.OpenRelationalStore(ctx, cfg.RelationalStore)
	if err != nil {
		log.Error("failed to connect to relational store", "error", err)
		os.Exit(1)
	}
	defer relational.Close()

	queue, err := bootstrap.DialBroker(cfg.Broker, log)
	if err != nil {
		log.Error("failed to dial broker", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	// The waiting queue dead-letters back to the pending queue after
	// one TTL interval: the only supported mechanism
	// for polling the provider's async batch API without busy-waiting.
	if err := queue.DeclareWaitingQueue(ctx, signal.WaitingExchange, int64(cfg.Broker.WaitingQueueTTL.Seconds()), signal.PendingExchange, signal.PendingExchange); err != nil {
		log.Error("failed to declare waiting queue", "error", err)
		os.Exit(1)
	}

	provider, err := signal.NewGeminiClient(ctx, cfg.Signal.GeminiAPIKey)
	if err != nil {
		log.Error("failed to init gemini client", "error", err)
		os.Exit(1)
	}

	// The columnar store is an external collaborator specified by
	// required operations only; no concrete driver ships in
	// this repo. Operators inject a real store.ColumnarStore here.
	columnar := store.NewMemoryColumnarStore()

	handler := &signal.PendingHandler{
		Columnar:   columnar,
		Queue:      queue,
		Provider:   provider,
		MaxSteps:   cfg.Signal.MaxSteps,
		AppBaseURL: cfg.Signal.AppBaseURL,
		Log:        log,
	}

	runtime := &worker.Runtime{
		Name:  "signalpending",
		Queue: queue,
		Binding: worker.Binding{
			QueueName:  PendingQueue,
			Exchange:   signal.PendingExchange,
			RoutingKey: signal.PendingExchange,
		},
		Handler: handler,
		Backoff: worker.BackoffConfig{
			Initial:    cfg.Broker.ReconnectInitial,
			Max:        cfg.Broker.ReconnectMax,
			MaxElapsed: cfg.Broker.ReconnectElapsed,
		},
		Log: log,
	}

	go bootstrap.ServeHealth(cfg.Health.Addr, "signalpending", relational)

	log.Info("signalpending starting", "queue", PendingQueue)
	runtime.RunForever(ctx)
	log.Info("signalpending stopped")
}
