package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

func ptr(s string) *string { return &s }

func makeCtx(inputTokens, outputTokens, cacheWrite, cacheRead int64) types.SpanCostContext {
	return types.SpanCostContext{
		Provider: ptr("anthropic"),
		Model:    ptr("claude-sonnet-4-5"),
		RawModel: ptr("claude-sonnet-4-5"),
		InputTokens: types.InputTokens{
			Regular:    inputTokens - cacheWrite - cacheRead,
			CacheWrite: cacheWrite,
			CacheRead:  cacheRead,
		},
		OutputTokens: outputTokens,
	}
}

func TestCalculateCost_Basic(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":  3e-06,
		"output_cost_per_token": 1.5e-05,
	}
	result := CalculateCost(makeCtx(1000, 500, 0, 0), costs)
	assert.InDelta(t, 0.003, result.InputCost, 1e-10)
	assert.InDelta(t, 0.0075, result.OutputCost, 1e-10)
}

func TestCalculateCost_CacheTokenPricing(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":            3e-06,
		"output_cost_per_token":           1.5e-05,
		"cache_read_input_token_cost":     3e-07,
		"cache_creation_input_token_cost": 3.75e-06,
	}
	result := CalculateCost(makeCtx(1000, 500, 200, 300), costs)
	expected := 500.0*3e-06 + 300.0*3e-07 + 200.0*3.75e-06
	assert.InDelta(t, expected, result.InputCost, 1e-10)
}

func TestCalculateCost_ThresholdPricing(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                  3e-06,
		"output_cost_per_token":                 1.5e-05,
		"input_cost_per_token_above_200k_tokens":  6e-06,
		"output_cost_per_token_above_200k_tokens": 2.25e-05,
	}

	below := CalculateCost(makeCtx(100_000, 500, 0, 0), costs)
	assert.InDelta(t, 100_000.0*3e-06, below.InputCost, 1e-10)

	above := CalculateCost(makeCtx(250_000, 500, 0, 0), costs)
	assert.InDelta(t, 250_000.0*6e-06, above.InputCost, 1e-10)
	assert.InDelta(t, 500.0*2.25e-05, above.OutputCost, 1e-10)
}

func TestCalculateCost_ThresholdWithKSuffix(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                  0.000000075,
		"output_cost_per_token":                 0.0000003,
		"input_cost_per_token_above_128k_tokens":  0.000001,
		"output_cost_per_token_above_128k_tokens": 0.0000006,
	}

	below := CalculateCost(makeCtx(100_000, 500, 0, 0), costs)
	assert.InDelta(t, 100_000.0*0.000000075, below.InputCost, 1e-10)

	above := CalculateCost(makeCtx(200_000, 500, 0, 0), costs)
	assert.InDelta(t, 200_000.0*0.000001, above.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.0000006, above.OutputCost, 1e-10)
}

func TestCalculateCost_MultipleThresholdsPicksHighest(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                   1e-06,
		"output_cost_per_token":                   5e-06,
		"input_cost_per_token_above_128k_tokens":   2e-06,
		"output_cost_per_token_above_128k_tokens":  10e-06,
		"input_cost_per_token_above_200k_tokens":   4e-06,
		"output_cost_per_token_above_200k_tokens":  20e-06,
	}

	above200 := CalculateCost(makeCtx(250_000, 500, 0, 0), costs)
	assert.InDelta(t, 250_000.0*4e-06, above200.InputCost, 1e-10)

	between := CalculateCost(makeCtx(150_000, 500, 0, 0), costs)
	assert.InDelta(t, 150_000.0*2e-06, between.InputCost, 1e-10)
}

func TestCalculateCost_ServiceTierPricing(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":          0.00000125,
		"output_cost_per_token":         0.00001,
		"input_cost_per_token_flex":     0.000000625,
		"output_cost_per_token_flex":    0.000005,
		"input_cost_per_token_priority":  0.0000025,
		"output_cost_per_token_priority": 0.00002,
	}

	ctx := makeCtx(1000, 500, 0, 0)
	ctx.ServiceTier = ptr("flex")
	flex := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*0.000000625, flex.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.000005, flex.OutputCost, 1e-10)

	ctx.ServiceTier = ptr("priority")
	priority := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*0.0000025, priority.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.00002, priority.OutputCost, 1e-10)
}

func TestCalculateCost_ServiceTierFallback(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":  0.00000125,
		"output_cost_per_token": 0.00001,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.ServiceTier = ptr("flex")
	result := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*0.00000125, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.00001, result.OutputCost, 1e-10)
}

func TestCalculateCost_BatchPricing(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":          0.000002,
		"output_cost_per_token":         0.000008,
		"input_cost_per_token_batches":  0.000001,
		"output_cost_per_token_batches": 0.000004,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.IsBatch = true
	result := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*0.000001, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.000004, result.OutputCost, 1e-10)
}

func TestCalculateCost_BatchPricingFallback(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":  0.000002,
		"output_cost_per_token": 0.000008,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.IsBatch = true
	result := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*0.000001, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.000004, result.OutputCost, 1e-10)
}

func TestCalculateCost_ReasoningTokens(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":            3e-06,
		"output_cost_per_token":           1.5e-05,
		"output_cost_per_reasoning_token": 3e-05,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.ReasoningTokens = 200
	result := CalculateCost(ctx, costs)
	expected := float64(500-200)*1.5e-05 + 200.0*3e-05
	assert.InDelta(t, expected, result.OutputCost, 1e-10)
}

func TestCalculateCost_ReasoningTokensFallback(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":  3e-06,
		"output_cost_per_token": 1.5e-05,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.ReasoningTokens = 200
	result := CalculateCost(ctx, costs)
	expected := 300.0*1.5e-05 + 200.0*1.5e-05
	assert.InDelta(t, expected, result.OutputCost, 1e-10)
}

func TestCalculateCost_AudioTokens(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":        3e-06,
		"output_cost_per_token":       1.5e-05,
		"input_cost_per_audio_token":  0.00011,
		"output_cost_per_audio_token": 0.00022,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.AudioInputTokens = 100
	ctx.AudioOutputTokens = 50
	result := CalculateCost(ctx, costs)
	assert.InDelta(t, 1000.0*3e-06+100.0*0.00011, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*1.5e-05+50.0*0.00022, result.OutputCost, 1e-10)
}

func TestCalculateCost_CacheCreation5m1hPricing(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                      3e-06,
		"output_cost_per_token":                     1.5e-05,
		"cache_creation_input_token_cost":            3.75e-06,
		"cache_creation_input_token_cost_above_1hr":  7.5e-06,
		"cache_read_input_token_cost":                3e-07,
	}
	ctx := makeCtx(1000, 500, 0, 0)
	ctx.CacheCreation5mTokens = 100
	ctx.CacheCreation1hTokens = 50
	result := CalculateCost(ctx, costs)
	expected := 1000.0*3e-06 + 100.0*3.75e-06 + 50.0*7.5e-06
	assert.InDelta(t, expected, result.InputCost, 1e-10)
}

func TestModelLookupKeys(t *testing.T) {
	ctx := types.SpanCostContext{
		Provider: ptr("bedrock"),
		Region:   ptr("us-east-1"),
		Model:    ptr("anthropic.claude-v2"),
		RawModel: ptr("anthropic.claude-v2"),
	}
	keys := ModelLookupKeys(ctx)
	assert.Equal(t, []string{
		"bedrock/us-east-1/anthropic.claude-v2",
		"bedrock/anthropic.claude-v2",
		"anthropic.claude-v2",
	}, keys)
}

func TestModelLookupKeys_NoProvider(t *testing.T) {
	ctx := types.SpanCostContext{
		Model:    ptr("claude-sonnet-4-5"),
		RawModel: ptr("claude-sonnet-4-5"),
	}
	keys := ModelLookupKeys(ctx)
	assert.Equal(t, []string{"claude-sonnet-4-5"}, keys)
}

func TestExtractModelInfo_WithSlash(t *testing.T) {
	ctx := ExtractModelInfo(ptr("anthropic/claude-sonnet-4-5"), nil, nil, nil)
	assert.Equal(t, "anthropic", *ctx.Provider)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", *ctx.Model)
	assert.Equal(t, "claude-sonnet-4-5", *ctx.RawModel)
}

func TestExtractModelInfo_NoSlash(t *testing.T) {
	ctx := ExtractModelInfo(ptr("claude-sonnet-4-5"), nil, ptr("anthropic"), nil)
	assert.Equal(t, "anthropic", *ctx.Provider)
	assert.Equal(t, "claude-sonnet-4-5", *ctx.Model)
	assert.Equal(t, "claude-sonnet-4-5", *ctx.RawModel)
}

func TestExtractModelInfo_ProviderFromGenAISystem(t *testing.T) {
	ctx := ExtractModelInfo(ptr("claude-sonnet-4-5"), ptr("claude-sonnet-4-5-20250514"), ptr("anthropic"), ptr("us-east-1"))
	assert.Equal(t, "anthropic", *ctx.Provider)
	assert.Equal(t, "claude-sonnet-4-5-20250514", *ctx.Model)
	assert.Equal(t, "claude-sonnet-4-5-20250514", *ctx.RawModel)
	assert.Equal(t, "us-east-1", *ctx.Region)
}

func TestCalculateCost_ThresholdPricingWithCacheAndThreshold(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                              3e-06,
		"output_cost_per_token":                              1.5e-05,
		"cache_read_input_token_cost":                        3e-07,
		"cache_creation_input_token_cost":                     3.75e-06,
		"input_cost_per_token_above_200k_tokens":              6e-06,
		"output_cost_per_token_above_200k_tokens":             2.25e-05,
		"cache_read_input_token_cost_above_200k_tokens":       6e-07,
		"cache_creation_input_token_cost_above_200k_tokens":   7.5e-06,
	}
	ctx := makeCtx(250_000, 500, 10_000, 20_000)
	result := CalculateCost(ctx, costs)
	expected := 220_000.0*6e-06 + 20_000.0*6e-07 + 10_000.0*7.5e-06
	assert.InDelta(t, expected, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*2.25e-05, result.OutputCost, 1e-10)
}

func TestCalculateCost_CombinedServiceTierAndThreshold(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":                            0.00000125,
		"output_cost_per_token":                            0.00001,
		"input_cost_per_token_priority":                     0.0000025,
		"output_cost_per_token_priority":                    0.00002,
		"input_cost_per_token_above_200k_tokens":            0.0000025,
		"output_cost_per_token_above_200k_tokens":           0.00002,
		"input_cost_per_token_above_200k_tokens_priority":    0.000005,
		"output_cost_per_token_above_200k_tokens_priority":   0.00004,
	}
	ctx := makeCtx(250_000, 500, 0, 0)
	ctx.ServiceTier = ptr("priority")
	result := CalculateCost(ctx, costs)
	assert.InDelta(t, 250_000.0*0.000005, result.InputCost, 1e-10)
	assert.InDelta(t, 500.0*0.00004, result.OutputCost, 1e-10)
}

func TestCalculateCost_ZeroTokens(t *testing.T) {
	costs := types.ModelCosts{
		"input_cost_per_token":  3e-06,
		"output_cost_per_token": 1.5e-05,
	}
	result := CalculateCost(makeCtx(0, 0, 0, 0), costs)
	assert.InDelta(t, 0.0, result.InputCost, 1e-10)
	assert.InDelta(t, 0.0, result.OutputCost, 1e-10)
}

func TestCalculateCost_MissingCostFields(t *testing.T) {
	costs := types.ModelCosts{
		"output_cost_per_image": 0.06,
	}
	result := CalculateCost(makeCtx(1000, 500, 0, 0), costs)
	assert.InDelta(t, 0.0, result.InputCost, 1e-10)
	assert.InDelta(t, 0.0, result.OutputCost, 1e-10)
}

func TestParseThreshold(t *testing.T) {
	cases := []struct {
		in       string
		expected int64
		ok       bool
	}{
		{"128k", 128000, true},
		{"200k", 200000, true},
		{"128000", 128000, true},
		{"256k", 256000, true},
		{"abc", 0, false},
	}
	for _, c := range cases {
		val, ok := parseThreshold(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.expected, val, c.in)
		}
	}
}
