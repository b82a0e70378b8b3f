// Package writerouter implements the Write Router: pure
// glue that resolves a project's WorkspaceConfig and either inserts
// directly into the columnar store (Cloud mode) or forwards the
// payload to the project's data-plane URL over HTTP (Hybrid mode).
package writerouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// Config controls the Write Router's HTTP client and WorkspaceConfig
// cache.
type Config struct {
	RequestTimeout time.Duration
	ConfigCacheTTL time.Duration
	SigningKey     string
}

// Router is pure glue: it never buffers, and it resolves a cached
// WorkspaceConfig and routes one write to either the columnar store
// or the data-plane HTTP endpoint.
type Router struct {
	columnar   store.ColumnarStore
	relational store.RelationalStore
	httpClient *http.Client
	config     Config

	cacheMu sync.RWMutex
	cache   map[string]cachedConfig
}

type cachedConfig struct {
	cfg       types.WorkspaceConfig
	expiresAt time.Time
}

// New constructs a Router.
func New(columnar store.ColumnarStore, relational store.RelationalStore, cfg Config) *Router {
	return &Router{
		columnar:   columnar,
		relational: relational,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		config:     cfg,
		cache:      make(map[string]cachedConfig),
	}
}

// resolveConfig returns projectID's WorkspaceConfig, using a
// short-lived in-process cache ahead of the relational store.
func (r *Router) resolveConfig(ctx context.Context, projectID string) (types.WorkspaceConfig, error) {
	r.cacheMu.RLock()
	c, ok := r.cache[projectID]
	r.cacheMu.RUnlock()
	if ok && time.Now().Before(c.expiresAt) {
		return c.cfg, nil
	}

	cfg, err := r.relational.GetWorkspaceConfig(ctx, projectID)
	if err != nil {
		return types.WorkspaceConfig{}, err
	}

	r.cacheMu.Lock()
	r.cache[projectID] = cachedConfig{cfg: cfg, expiresAt: time.Now().Add(r.config.ConfigCacheTTL)}
	r.cacheMu.Unlock()

	return cfg, nil
}

// WriteSpans routes a batch of spans for projectID.
func (r *Router) WriteSpans(ctx context.Context, projectID string, spans []types.Span) error {
	if len(spans) == 0 {
		return nil
	}
	return r.route(ctx, projectID, types.TableSpans, types.WriteData{Spans: spans})
}

// WriteEvents routes a batch of events for projectID.
func (r *Router) WriteEvents(ctx context.Context, projectID string, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	return r.route(ctx, projectID, types.TableEvents, types.WriteData{Events: events})
}

// route resolves projectID's deployment mode and either writes
// directly to the columnar store (Cloud) or POSTs to the data plane
// (Hybrid). Config-lookup, store and data-plane network/5xx failures
// are transient; an unknown deployment mode, a missing data-plane URL
// or signing key, and any 4xx response are permanent.
func (r *Router) route(ctx context.Context, projectID string, table types.Table, data types.WriteData) error {
	cfg, err := r.resolveConfig(ctx, projectID)
	if err != nil {
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("writerouter: resolve config: %w", err))
	}

	switch cfg.DeploymentMode {
	case types.DeploymentModeCloud:
		return r.writeColumnar(ctx, table, data)
	case types.DeploymentModeHybrid:
		return r.writeDataPlane(ctx, cfg, table, data)
	default:
		return hcerrors.Permanent(hcerrors.KindValidation, fmt.Errorf("writerouter: unknown deployment mode %q", cfg.DeploymentMode))
	}
}

func (r *Router) writeColumnar(ctx context.Context, table types.Table, data types.WriteData) error {
	var err error
	switch table {
	case types.TableSpans:
		err = r.columnar.InsertSpans(ctx, data.Spans)
	case types.TableEvents:
		err = r.columnar.InsertEvents(ctx, data.Events)
	default:
		return hcerrors.Permanent(hcerrors.KindValidation, fmt.Errorf("writerouter: unsupported table %q for direct columnar write", table))
	}
	if err != nil {
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("writerouter: columnar insert: %w", err))
	}
	return nil
}

// writeDataPlane POSTs {table, data} to {data_plane_url}/api/v1/write
// with a per-request Bearer token minted from workspace_id. Any
// non-2xx response is an error carrying the response body as context.
func (r *Router) writeDataPlane(ctx context.Context, cfg types.WorkspaceConfig, table types.Table, data types.WriteData) error {
	if cfg.DataPlaneURL == nil || *cfg.DataPlaneURL == "" {
		return hcerrors.Permanent(hcerrors.KindValidation, fmt.Errorf("writerouter: hybrid mode requires data_plane_url for workspace %s", cfg.WorkspaceID))
	}

	token, err := generateAuthToken(cfg.WorkspaceID, r.config.SigningKey, time.Now())
	if err != nil {
		return hcerrors.Permanent(hcerrors.KindValidation, err)
	}

	body, err := json.Marshal(types.DataPlaneWriteRequest{Table: table, Data: data})
	if err != nil {
		return hcerrors.Permanent(hcerrors.KindValidation, fmt.Errorf("writerouter: marshal write request: %w", err))
	}

	url := *cfg.DataPlaneURL + "/api/v1/write"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return hcerrors.Permanent(hcerrors.KindValidation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("writerouter: data-plane request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		errCtx := fmt.Errorf("writerouter: data-plane write returned %d: %s", resp.StatusCode, respBody)
		if resp.StatusCode == 401 || resp.StatusCode == 403 || (resp.StatusCode >= 400 && resp.StatusCode < 500) {
			return hcerrors.Permanent(hcerrors.KindUpstreamUnauthorized, errCtx)
		}
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, errCtx)
	}
	return nil
}
