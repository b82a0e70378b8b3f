// Package cost implements the Model Cost Resolver: it
// derives a lookup key from span attributes, resolves pricing through
// a cache-then-store fallthrough, and applies tiered/batch/service-tier
// pricing rules.
package cost

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/lmnr-ai/ingest-core/pkg/cache"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

const cacheKeyPrefix = "model_costs:"

// Resolver looks up ModelCosts and computes CostResult for a span.
type Resolver struct {
	store store.ColumnarStore
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewResolver builds a Resolver. ttl is the cache TTL applied on a
// store hit, used as given (the config default is 24h).
func NewResolver(columnar store.ColumnarStore, c cache.Cache, ttl time.Duration, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: columnar, cache: c, ttl: ttl, log: log}
}

// ModelLookupKeys generates the lookup keys to try, in priority order:
// provider/region/model, provider/model, model, raw_model.
func ModelLookupKeys(ctx types.SpanCostContext) []string {
	var keys []string
	if ctx.Model == nil {
		return keys
	}
	model := *ctx.Model

	if ctx.Provider != nil && ctx.Region != nil {
		keys = append(keys, *ctx.Provider+"/"+*ctx.Region+"/"+model)
	}
	if ctx.Provider != nil {
		keys = append(keys, *ctx.Provider+"/"+model)
	}
	keys = append(keys, model)
	if ctx.RawModel != nil && *ctx.RawModel != model {
		keys = append(keys, *ctx.RawModel)
	}
	return keys
}

// ExtractModelInfo derives provider/model/raw_model from span
// attributes. response_model is preferred over request_model; a
// provider prefix ("anthropic/claude-3") is split out when no
// explicit provider attribute is present.
func ExtractModelInfo(requestModel, responseModel, provider, region *string) types.SpanCostContext {
	modelStr := responseModel
	if modelStr == nil {
		modelStr = requestModel
	}

	var resolvedProvider, rawModel *string
	if modelStr != nil {
		m := *modelStr
		switch {
		case provider != nil:
			resolvedProvider = provider
		case strings.Contains(m, "/"):
			parts := strings.SplitN(m, "/", 2)
			p := parts[0]
			resolvedProvider = &p
		}
		if strings.Contains(m, "/") {
			parts := strings.SplitN(m, "/", 2)
			raw := parts[1]
			rawModel = &raw
		} else {
			raw := m
			rawModel = &raw
		}
	} else {
		resolvedProvider = provider
	}

	return types.SpanCostContext{
		Provider:  resolvedProvider,
		Region:    region,
		Model:     modelStr,
		RawModel:  rawModel,
	}
}

// lookupModelCosts tries each lookup key against the cache, falling
// through to the store on a miss, and populates the cache on a store
// hit. The first key that resolves wins; a key that resolves to
// "no row" (as opposed to a cache/store error) moves on to the next.
func (r *Resolver) lookupModelCosts(ctx context.Context, scc types.SpanCostContext) (types.ModelCosts, bool) {
	for _, key := range ModelLookupKeys(scc) {
		cacheKey := cacheKeyPrefix + key

		if raw, found, err := r.cache.Get(ctx, cacheKey); err != nil {
			r.log.Warn("model cost cache lookup failed", "key", key, "error", err)
		} else if found {
			var costs types.ModelCosts
			if err := json.Unmarshal(raw, &costs); err == nil {
				return costs, true
			}
		}

		costs, found, err := r.store.GetModelCost(ctx, key)
		if err != nil {
			r.log.Error("model cost store lookup failed", "key", key, "error", err)
			continue
		}
		if !found {
			continue
		}

		if raw, err := json.Marshal(costs); err == nil {
			if err := r.cache.Set(ctx, cacheKey, raw, r.ttl); err != nil {
				r.log.Warn("model cost cache write failed", "key", key, "error", err)
			}
		}
		return costs, true
	}
	return nil, false
}

// EstimateCost resolves pricing for scc and computes the span's
// input/output cost. found=false means no pricing data exists for any
// lookup key derived from scc — callers should leave cost fields
// unset rather than treat it as an error.
func (r *Resolver) EstimateCost(ctx context.Context, scc types.SpanCostContext) (types.CostResult, bool) {
	costs, found := r.lookupModelCosts(ctx, scc)
	if !found {
		return types.CostResult{}, false
	}
	return CalculateCost(scc, costs), true
}
