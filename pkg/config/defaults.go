package config

import "time"

// DefaultConfig returns the built-in configuration defaults. Load()
// starts from this value and overlays whatever the YAML file sets.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			ReconnectInitial: 1 * time.Second,
			ReconnectMax:     60 * time.Second,
			ReconnectElapsed: 300 * time.Second,
			Prefetch:         32,
			WaitingQueueTTL:  30 * time.Second,
		},
		Cost: CostConfig{
			CacheTTL: 24 * time.Hour,
		},
		Clustering: ClusteringConfig{
			BatchSize:     50,
			FlushInterval: 30 * time.Second,
		},
		Signal: SignalConfig{
			MaxSteps:        5,
			BatchPollDelay:  2 * time.Second,
			SkeletonCharCap: 3000,
		},
		WriteRouter: WriteRouterConfig{
			RequestTimeout: 10 * time.Second,
			ConfigCacheTTL: 5 * time.Minute,
		},
		Worker: WorkerConfig{
			ShutdownTimeout: 30 * time.Second,
		},
		Health: HealthConfig{
			Addr: ":8080",
		},
		RelationalStore: RelationalStoreConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
	}
}
