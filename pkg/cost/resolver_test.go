package cost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnr-ai/ingest-core/pkg/cache"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

func TestResolver_EstimateCost_StoreHitPopulatesCache(t *testing.T) {
	columnar := store.NewMemoryColumnarStore()
	columnar.SeedModelCost("anthropic/claude-sonnet-4-5", types.ModelCosts{
		"input_cost_per_token":  3e-06,
		"output_cost_per_token": 1.5e-05,
	})
	c := cache.NewInProcess()
	r := NewResolver(columnar, c, 24*time.Hour, nil)

	scc := makeCtx(1000, 500, 0, 0)
	result, found := r.EstimateCost(context.Background(), scc)
	require.True(t, found)
	assert.InDelta(t, 0.003, result.InputCost, 1e-10)

	_, cached, err := c.Get(context.Background(), cacheKeyPrefix+"anthropic/claude-sonnet-4-5")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestResolver_EstimateCost_NotFound(t *testing.T) {
	columnar := store.NewMemoryColumnarStore()
	c := cache.NewInProcess()
	r := NewResolver(columnar, c, 24*time.Hour, nil)

	_, found := r.EstimateCost(context.Background(), makeCtx(1000, 500, 0, 0))
	assert.False(t, found)
}
