package config

import "time"

// Config is the umbrella configuration object read at process start by
// every cmd/* worker binary. Each worker only reads the sections it
// needs, but all workers share one file/schema so operators configure
// the pipeline once.
type Config struct {
	configPath string

	Broker         BrokerConfig         `yaml:"broker"`
	ColumnarStore  ColumnarStoreConfig  `yaml:"columnar_store"`
	RelationalStore RelationalStoreConfig `yaml:"relational_store"`
	Redis          RedisConfig          `yaml:"redis"`
	Blob           BlobConfig           `yaml:"blob"`
	Cost           CostConfig           `yaml:"cost"`
	Clustering     ClusteringConfig     `yaml:"clustering"`
	Signal         SignalConfig         `yaml:"signal"`
	WriteRouter    WriteRouterConfig    `yaml:"write_router"`
	Worker         WorkerConfig         `yaml:"worker"`
	Health         HealthConfig         `yaml:"health"`
}

// ConfigPath returns the file path this configuration was loaded from.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// BrokerConfig configures the durable message queue backing.
type BrokerConfig struct {
	URL              string        `yaml:"url" validate:"required"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
	ReconnectElapsed time.Duration `yaml:"reconnect_elapsed"`
	Prefetch         int           `yaml:"prefetch"`
	WaitingQueueTTL  time.Duration `yaml:"waiting_queue_ttl"`
}

// ColumnarStoreConfig configures the analytical store (spans, traces,
// events, signal_runs, signal_run_messages). Specified by required
// operations only — the concrete client is an interface in
// pkg/store; this config only carries connection facts.
type ColumnarStoreConfig struct {
	URL      string `yaml:"url" validate:"required"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RelationalStoreConfig configures the one relational table this core
// owns directly: workspace_configs (the Write Router's own contract,
// not the out-of-scope project/user/API-key metadata store).
type RelationalStoreConfig struct {
	URL             string `yaml:"url" validate:"required"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig enables a distributed TTL cache backing for the Model
// Cost Resolver. Empty URL means "use the in-process cache instead".
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BlobConfig enables media externalization for LLM span input/output
// content parts. Empty bucket means "use a short-circuiting mock".
type BlobConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// CostConfig configures the Model Cost Resolver.
type CostConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ClusteringConfig configures the Clustering Batcher.
type ClusteringConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// SignalConfig configures the Signal Engine.
type SignalConfig struct {
	MaxSteps       int           `yaml:"max_steps"`
	BatchPollDelay time.Duration `yaml:"batch_poll_delay"`
	SkeletonCharCap int          `yaml:"skeleton_char_cap"`
	GeminiAPIKey   string        `yaml:"gemini_api_key"`
	// AppBaseURL roots the hyperlinks created events substitute for
	// inline span-tag references, e.g. "https://app.example.com".
	AppBaseURL string `yaml:"app_base_url"`
}

// WriteRouterConfig configures the Write Router's HTTP client used for
// Hybrid-deployment data-plane writes.
type WriteRouterConfig struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ConfigCacheTTL   time.Duration `yaml:"config_cache_ttl"`
	SigningKey       string        `yaml:"signing_key"`
}

// WorkerConfig configures the generic and batch worker runtimes
// shared by every cmd/* binary.
type WorkerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HealthConfig configures the per-worker /healthz surface.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}
