// Command spanworker runs the Span Ingestion Worker: it
// consumes the "spans" queue, enriches each span (attributes, media,
// cost) and routes the write between the columnar store and a
// Hybrid-deployment data plane.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmnr-ai/ingest-core/pkg/blob"
	"github.com/lmnr-ai/ingest-core/pkg/bootstrap"
	"github.com/lmnr-ai/ingest-core/pkg/cache"
	"github.com/lmnr-ai/ingest-core/pkg/cost"
	"github.com/lmnr-ai/ingest-core/pkg/spans"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/worker"
	"github.com/lmnr-ai/ingest-core/pkg/writerouter"
)

// SpansExchange/SpansQueue/SpansRoutingKey are the "spans"
// fanout binding this worker consumes.
const (
	SpansExchange   = "spans"
	SpansQueue      = "span_ingestion"
	SpansRoutingKey = "spans"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (overrides INGEST_CORE_CONFIG)")
	flag.Parse()

	log := bootstrap.NewLogger()
	slog.SetDefault(log)

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

	// The columnar store is an external collaborator specified by
	// required operations only; no concrete driver ships in
	// this repo. Operators inject a real store.ColumnarStore here.
	columnar := store.NewMemoryColumnarStore()

	var mediaStore blob.Store = blob.NewNoop()
	if cfg.Blob.Bucket != "" {
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket: cfg.Blob.Bucket,
			Region: cfg.Blob.Region,
		})
		if err != nil {
			log.Error("failed to init blob store", "error", err)
			os.Exit(1)
		}
		mediaStore = s3Store
	}

	var costCache cache.Cache = cache.NewInProcess()
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedis(cfg.Redis.URL)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		costCache = redisCache
	}

	resolver := cost.NewResolver(columnar, costCache, cfg.Cost.CacheTTL, log)
	router := writerouter.New(columnar, relational, writerouter.Config{
		RequestTimeout: cfg.WriteRouter.RequestTimeout,
		ConfigCacheTTL: cfg.WriteRouter.ConfigCacheTTL,
		SigningKey:     cfg.WriteRouter.SigningKey,
	})

	handler := &spans.IngestionHandler{
		Enricher: &spans.Enricher{Blob: mediaStore, Cost: resolver, Log: log},
		Router:   router,
		Queue:    queue,
		Log:      log,
	}

	runtime := &worker.Runtime{
		Name:  "spanworker",
		Queue: queue,
		Binding: worker.Binding{
			QueueName:  SpansQueue,
			Exchange:   SpansExchange,
			RoutingKey: SpansRoutingKey,
		},
		Handler: handler,
		Backoff: worker.BackoffConfig{
			Initial:    cfg.Broker.ReconnectInitial,
			Max:        cfg.Broker.ReconnectMax,
			MaxElapsed: cfg.Broker.ReconnectElapsed,
		},
		Log: log,
	}

	go bootstrap.ServeHealth(cfg.Health.Addr, "spanworker", relational)

	log.Info("spanworker starting", "queue", SpansQueue)
	runtime.RunForever(ctx)
	log.Info("spanworker stopped")
}
