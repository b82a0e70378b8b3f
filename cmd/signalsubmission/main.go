// Command signalsubmission runs the Signal Engine's submission worker
//: it builds or resumes a run's conversation and submits
// a whole SignalJobSubmissionBatchMessage to the LLM provider's
// asynchronous batch API in one call.
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

const SubmissionQueue = "signal_submission_worker"

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

	provider, err := signal.NewGeminiClient(ctx, cfg.Signal.GeminiAPIKey)
	if err != nil {
		log.Error("failed to init gemini client", "error", err)
		os.Exit(1)
	}

	// The columnar store is an external collaborator specified by
	// required operations only; no concrete driver ships in
	// this repo. Operators inject a real store.ColumnarStore here.
	columnar := store.NewMemoryColumnarStore()

	handler := &signal.SubmissionHandler{
		Columnar: columnar,
		Queue:    queue,
		Provider: provider,
		CharCap:  cfg.Signal.SkeletonCharCap,
		Log:      log,
	}

	runtime := &worker.Runtime{
		Name:  "signalsubmission",
		Queue: queue,
		Binding: worker.Binding{
			QueueName:  SubmissionQueue,
			Exchange:   signal.SubmissionsExchange,
			RoutingKey: signal.SubmissionsExchange,
		},
		Handler: handler,
		Backoff: worker.BackoffConfig{
			Initial:    cfg.Broker.ReconnectInitial,
			Max:        cfg.Broker.ReconnectMax,
			MaxElapsed: cfg.Broker.ReconnectElapsed,
		},
		Log: log,
	}

	go bootstrap.ServeHealth(cfg.Health.Addr, "signalsubmission", relational)

	log.Info("signalsubmission starting", "queue", SubmissionQueue)
	runtime.RunForever(ctx)
	log.Info("signalsubmission stopped")
}
