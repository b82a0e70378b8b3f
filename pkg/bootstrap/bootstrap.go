// Package bootstrap holds the process-startup plumbing every cmd/*
// worker binary shares: structured logging, config loading, and
// connecting to the relational store and broker. Pulled out into its
// own package only because four worker binaries would otherwise
// duplicate this sequence byte-for-byte.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/lmnr-ai/ingest-core/pkg/config"
	"github.com/lmnr-ai/ingest-core/pkg/database"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
)

// NewLogger builds the slog JSON handler every worker logs through
// (ambient-stack logging section).
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// LoadConfig loads the path given by the -config flag, falling back to
// INGEST_CORE_CONFIG when the flag is empty.
func LoadConfig(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.Load(flagPath)
	}
	if path := os.Getenv(config.EnvVar); path != "" {
		return config.Load(path)
	}
	return nil, fmt.Errorf("bootstrap: no config path: set %s or pass -config", config.EnvVar)
}

// DialBroker connects the durable Queue backing from the Broker
// section of cfg.
func DialBroker(cfg config.BrokerConfig, log *slog.Logger) (mq.Queue, error) {
	return mq.Dial(cfg.URL, log)
}

// OpenRelationalStore parses RelationalStoreConfig.URL (a postgres://
// DSN) and opens the pooled connection, applying embedded migrations.
func OpenRelationalStore(ctx context.Context, cfg config.RelationalStoreConfig) (*database.Client, error) {
	dbCfg, err := parsePostgresURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse relational_store.url: %w", err)
	}
	return database.NewClient(ctx, dbCfg)
}

func parsePostgresURL(cfg config.RelationalStoreConfig) (database.Config, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return database.Config{}, err
	}

	host := u.Hostname()
	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return database.Config{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return database.Config{
		Host:            host,
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        strings.TrimPrefix(u.Path, "/"),
		SSLMode:         sslMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, nil
}
