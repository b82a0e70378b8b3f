package cost

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// thresholdRegexp matches tiered-pricing keys like
// "input_cost_per_token_above_200k_tokens".
var thresholdRegexp = regexp.MustCompile(`^input_cost_per_token_above_(\d+k?)_tokens$`)

// parseThreshold parses a threshold suffix, handling the "k" shorthand
// ("128k" -> 128000).
func parseThreshold(s string) (int64, bool) {
	if stripped, ok := strings.CutSuffix(s, "k"); ok {
		n, err := strconv.ParseInt(stripped, 10, 64)
		if err != nil {
			return 0, false
		}
		return n * 1000, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// findActiveThreshold returns the threshold suffix (e.g. "200k") of
// the largest input_cost_per_token_above_N_tokens key whose N is
// exceeded by promptTokens, or ("", false) if none applies.
func findActiveThreshold(costs types.ModelCosts, promptTokens int64) (string, bool) {
	type candidate struct {
		value  int64
		suffix string
	}
	var candidates []candidate
	for key := range costs {
		m := thresholdRegexp.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		val, ok := parseThreshold(m[1])
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{value: val, suffix: m[1]})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].value > candidates[j].value })

	for _, c := range candidates {
		if promptTokens > c.value {
			return c.suffix, true
		}
	}
	return "", false
}

// getCostValue looks up base_key with an optional flat suffix
// (base_key_suffix), falling back to base_key.
func getCostValue(costs types.ModelCosts, baseKey string, suffix string) (float64, bool) {
	if suffix != "" {
		if v, ok := costs[baseKey+"_"+suffix]; ok {
			return v, true
		}
	}
	v, ok := costs[baseKey]
	return v, ok
}

// getTieredCost resolves base_key with threshold and service-tier
// suffixes, in priority order:
//  1. base_key_threshold_tier
//  2. base_key_threshold
//  3. base_key_tier
//  4. base_key
func getTieredCost(costs types.ModelCosts, baseKey, thresholdSuffix, tierSuffix string) (float64, bool) {
	if thresholdSuffix != "" && tierSuffix != "" {
		if v, ok := costs[baseKey+"_"+thresholdSuffix+"_"+tierSuffix]; ok {
			return v, true
		}
	}
	if thresholdSuffix != "" {
		if v, ok := costs[baseKey+"_"+thresholdSuffix]; ok {
			return v, true
		}
	}
	if tierSuffix != "" {
		if v, ok := costs[baseKey+"_"+tierSuffix]; ok {
			return v, true
		}
	}
	v, ok := costs[baseKey]
	return v, ok
}

// CalculateCost applies tiered/batch/service-tier pricing
// rules to ctx given the resolved costs object.
func CalculateCost(ctx types.SpanCostContext, costs types.ModelCosts) types.CostResult {
	totalInputTokens := ctx.InputTokens.Total()

	var thresholdSuffix string
	if suffix, ok := findActiveThreshold(costs, totalInputTokens); ok {
		thresholdSuffix = "above_" + suffix + "_tokens"
	}

	var tierSuffix string
	if ctx.ServiceTier != nil {
		tierSuffix = *ctx.ServiceTier
	}

	inputCost := calculateInputCost(ctx, costs, thresholdSuffix, tierSuffix, totalInputTokens)
	outputCost := calculateOutputCost(ctx, costs, thresholdSuffix, tierSuffix)

	return types.CostResult{InputCost: inputCost, OutputCost: outputCost}
}

func calculateInputCost(ctx types.SpanCostContext, costs types.ModelCosts, thresholdSuffix, tierSuffix string, totalInputTokens int64) float64 {
	if ctx.IsBatch {
		perToken, ok := getTieredCost(costs, "input_cost_per_token_batches", thresholdSuffix, tierSuffix)
		if !ok {
			base, _ := getTieredCost(costs, "input_cost_per_token", thresholdSuffix, tierSuffix)
			perToken = base / 2.0
		}
		return float64(totalInputTokens) * perToken
	}

	regularPerToken, _ := getTieredCost(costs, "input_cost_per_token", thresholdSuffix, tierSuffix)
	regularCost := float64(ctx.InputTokens.Regular) * regularPerToken

	cacheReadPerToken, _ := getTieredCost(costs, "cache_read_input_token_cost", thresholdSuffix, tierSuffix)
	cacheReadCost := float64(ctx.InputTokens.CacheRead) * cacheReadPerToken

	var cacheCreationCost float64
	if ctx.CacheCreation5mTokens > 0 || ctx.CacheCreation1hTokens > 0 {
		cache5mPerToken, _ := getTieredCost(costs, "cache_creation_input_token_cost", thresholdSuffix, tierSuffix)
		cache1hPerToken, ok := getTieredCost(costs, "cache_creation_input_token_cost_above_1hr", thresholdSuffix, "")
		if !ok {
			cache1hPerToken = cache5mPerToken
		}
		cacheCreationCost = float64(ctx.CacheCreation5mTokens)*cache5mPerToken + float64(ctx.CacheCreation1hTokens)*cache1hPerToken
	} else {
		cacheCreationPerToken, _ := getTieredCost(costs, "cache_creation_input_token_cost", thresholdSuffix, tierSuffix)
		cacheCreationCost = float64(ctx.InputTokens.CacheWrite) * cacheCreationPerToken
	}

	var audioInputCost float64
	if ctx.AudioInputTokens > 0 {
		audioPerToken, ok := getCostValue(costs, "input_cost_per_audio_token", "")
		if !ok {
			audioPerToken = regularPerToken
		}
		audioInputCost = float64(ctx.AudioInputTokens) * audioPerToken
	}

	return regularCost + cacheReadCost + cacheCreationCost + audioInputCost
}

func calculateOutputCost(ctx types.SpanCostContext, costs types.ModelCosts, thresholdSuffix, tierSuffix string) float64 {
	if ctx.IsBatch {
		perToken, ok := getTieredCost(costs, "output_cost_per_token_batches", thresholdSuffix, tierSuffix)
		if !ok {
			base, _ := getTieredCost(costs, "output_cost_per_token", thresholdSuffix, tierSuffix)
			perToken = base / 2.0
		}
		return float64(ctx.OutputTokens) * perToken
	}

	outputPerToken, _ := getTieredCost(costs, "output_cost_per_token", thresholdSuffix, tierSuffix)

	regularOutputTokens := ctx.OutputTokens - ctx.ReasoningTokens
	if regularOutputTokens < 0 {
		regularOutputTokens = 0
	}
	regularCost := float64(regularOutputTokens) * outputPerToken

	var reasoningCost float64
	if ctx.ReasoningTokens > 0 {
		reasoningPerToken, ok := getCostValue(costs, "output_cost_per_reasoning_token", "")
		if !ok {
			reasoningPerToken = outputPerToken
		}
		reasoningCost = float64(ctx.ReasoningTokens) * reasoningPerToken
	}

	var audioOutputCost float64
	if ctx.AudioOutputTokens > 0 {
		audioPerToken, ok := getCostValue(costs, "output_cost_per_audio_token", "")
		if !ok {
			audioPerToken = outputPerToken
		}
		audioOutputCost = float64(ctx.AudioOutputTokens) * audioPerToken
	}

	return regularCost + reasoningCost + audioOutputCost
}
