// Command clusterworker runs the Clustering Batcher: it
// groups ClusteringMessage deliveries by (project_id, signal_id) and
// flushes each group by size or flush_interval, whichever comes
// first.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmnr-ai/ingest-core/pkg/batchworker"
	"github.com/lmnr-ai/ingest-core/pkg/bootstrap"
	"github.com/lmnr-ai/ingest-core/pkg/clustering"
	"github.com/lmnr-ai/ingest-core/pkg/worker"
)

const ClusteringQueue = "clustering_batcher"

func main() {
	configPath := flag.String("config", "", "path to YAML config (overrides INGEST_CORE_CONFIG)")
	flag.Parse()

	log := bootstrap.NewLogger()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	handler := clustering.NewBatchingHandler(queue, clustering.Config{
		Size:          cfg.Clustering.BatchSize,
		FlushInterval: cfg.Clustering.FlushInterval,
	})

	runtime := &batchworker.Runtime[clustering.State]{
		Name:  "clusterworker",
		Queue: queue,
		Binding: worker.Binding{
			QueueName:  ClusteringQueue,
			Exchange:   clustering.ClusteringExchange,
			RoutingKey: clustering.ClusteringRoutingKey,
		},
		Handler: handler,
		Backoff: worker.BackoffConfig{
			Initial:    cfg.Broker.ReconnectInitial,
			Max:        cfg.Broker.ReconnectMax,
			MaxElapsed: cfg.Broker.ReconnectElapsed,
		},
		Log: log,
	}

	go bootstrap.ServeHealth(cfg.Health.Addr, "clusterworker", relational)

	log.Info("clusterworker starting", "queue", ClusteringQueue)
	runtime.RunForever(ctx)
	log.Info("clusterworker stopped")
}
