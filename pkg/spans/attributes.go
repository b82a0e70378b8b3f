// Package spans implements the Span Ingestion Worker and Span
// Enrichment: attribute normalization, the three
// recognized LLM prompt/completion schemas with their precedence
// order, attribute cleanup, media externalization, and cost
// write-back.
package spans

import (
	"regexp"
	"strings"
)

// Attribute keys recognized on an incoming span.
const (
	attrSpanType = "lmnr.span.type"
	attrSpanPath = "lmnr.span.path"

	attrSessionID = "lmnr.association_properties.session_id"
	attrUserID    = "lmnr.association_properties.user_id"
	attrTraceType = "lmnr.association_properties.trace_type"

	// attrSignalID/attrSignalValueTemplate mark a span as a clustering
	// candidate: a client (or an upstream evaluator) attaches these
	// when the span represents an occurrence of a configured signal,
	// per the association-properties convention above.
	attrSignalID            = "lmnr.association_properties.signal_id"
	attrSignalValueTemplate = "lmnr.association_properties.signal_value_template"

	attrAssociationPropertiesPrefix = "lmnr.association_properties."

	attrInput  = "lmnr.span.input"
	attrOutput = "lmnr.span.output"

	attrOverrideParentSpan = "lmnr.internal.override_parent_span"

	attrTraceloopEntityInput  = "traceloop.entity.input"
	attrTraceloopEntityOutput = "traceloop.entity.output"
	attrTraceloopEntityPath   = "traceloop.entity.path"

	attrGenAISystem        = "gen_ai.system"
	attrGenAIRequestModel  = "gen_ai.request.model"
	attrGenAIResponseModel = "gen_ai.response.model"
	attrGenAIInputTokens   = "gen_ai.usage.input_tokens"
	attrGenAIOutputTokens  = "gen_ai.usage.output_tokens"

	// Legacy token attribute names, migrated in-place to the current
	// ones the first time a span carrying them is read.
	attrLegacyPromptTokens     = "gen_ai.prompt_tokens"
	attrLegacyCompletionTokens = "gen_ai.completion_tokens"

	attrGenAIPromptPrefix     = "gen_ai.prompt."
	attrGenAICompletionPrefix = "gen_ai.completion."

	attrAISDKPromptMessages = "ai.prompt.messages"
	attrAISDKResponseText   = "ai.response.text"

	attrLiteLLMPromptsPrefix     = "SpanAttributes.LLM_PROMPTS."
	attrLiteLLMCompletionsPrefix = "SpanAttributes.LLM_COMPLETIONS."

	attrAssociationPropertiesLsProvider = "lmnr.association_properties.ls_provider"
)

// providerLangchain is the special-cased provider name whose real
// provider lives in association_properties.ls_provider rather than in
// the dotted gen_ai.system value (tie-break list implies
// gen_ai.system is authoritative except for this one SDK quirk,
// carried over verbatim from traces/spans.rs).
const providerLangchain = "Langchain"

// attributeCleanupPattern matches the per-index content/role keys of
// the two indexed schemas (generic gen_ai and LiteLLM) once their
// content has been folded into Span.Input/Output — step 3.
var attributeCleanupPattern = regexp.MustCompile(
	`^(gen_ai\.(prompt|completion)\.\d+\.(content|role)|SpanAttributes\.LLM_(PROMPTS|COMPLETIONS)\.\d+\.(content|role))$`,
)

// attributesAlwaysDropped never survive into the stored attribute map
// once their content is captured elsewhere (step 3).
var attributesAlwaysDropped = map[string]struct{}{
	attrInput:                 {},
	attrOutput:                {},
	attrTraceloopEntityInput:  {},
	attrTraceloopEntityOutput: {},
	attrTraceloopEntityPath:   {},
	attrOverrideParentSpan:    {},
}

// shouldKeepAttribute reports whether key survives into the span's
// stored attribute map after input/output reconstruction.
func shouldKeepAttribute(key string) bool {
	if _, drop := attributesAlwaysDropped[key]; drop {
		return false
	}
	return !attributeCleanupPattern.MatchString(key)
}

// Attrs wraps a raw attribute map with the span-type/session/model
// accessors describes as living "only inside a span's
// attributes namespace".
type Attrs map[string]any

func (a Attrs) getString(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a Attrs) getFloat(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// SessionID returns the session id association property, if present.
func (a Attrs) SessionID() (string, bool) { return a.getString(attrSessionID) }

// UserID returns the user id association property, if present.
func (a Attrs) UserID() (string, bool) { return a.getString(attrUserID) }

// TraceType returns the trace-type association property, if present.
func (a Attrs) TraceType() (string, bool) { return a.getString(attrTraceType) }

// SignalID returns the signal_id association property marking this
// span as a clustering candidate, if present.
func (a Attrs) SignalID() (string, bool) { return a.getString(attrSignalID) }

// SignalValueTemplate returns the signal_value_template association
// property, if present.
func (a Attrs) SignalValueTemplate() (string, bool) { return a.getString(attrSignalValueTemplate) }

// Labels returns the flattened `label.*` association properties.
func (a Attrs) Labels() map[string]any { return a.flattenedAssociationProperties("label") }

// Metadata returns the flattened `metadata.*` association properties.
func (a Attrs) Metadata() map[string]any { return a.flattenedAssociationProperties("metadata") }

// flattenedAssociationProperties strips the
// "lmnr.association_properties.<prefix>." key prefix and returns the
// remaining suffix as a flat map, mirroring
// get_flattened_association_properties in traces/spans.rs.
func (a Attrs) flattenedAssociationProperties(prefix string) map[string]any {
	full := attrAssociationPropertiesPrefix + prefix + "."
	out := make(map[string]any)
	for k, v := range a {
		if strings.HasPrefix(k, full) {
			out[strings.TrimPrefix(k, full)] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SpanType returns the span's declared type, defaulting to LLM when
// gen_ai.system is present and DEFAULT otherwise (step 1).
func (a Attrs) SpanType() string {
	if t, ok := a.getString(attrSpanType); ok && t != "" {
		return t
	}
	if _, ok := a.getString(attrGenAISystem); ok {
		return "LLM"
	}
	return "DEFAULT"
}

// Path returns the span's dot-separated path, if attached by the
// client directly.
func (a Attrs) Path() (string, bool) { return a.getString(attrSpanPath) }

// ExtendPath appends ".spanName" to path unless path already ends
// with (or equals) that segment — traces/spans.rs's
// extend_span_path. Enrich applies it to a span's own lmnr.span.path;
// a span without one gets its name as its path.
func ExtendPath(path, spanName string) string {
	if path == "" {
		return spanName
	}
	if path == spanName || strings.HasSuffix(path, "."+spanName) {
		return path
	}
	return path + "." + spanName
}

// InputTokens returns gen_ai.usage.input_tokens, migrating from the
// legacy gen_ai.prompt_tokens key if the current one is absent.
func (a Attrs) InputTokens() (float64, bool) {
	if v, ok := a.getFloat(attrGenAIInputTokens); ok {
		return v, true
	}
	return a.getFloat(attrLegacyPromptTokens)
}

// OutputTokens returns gen_ai.usage.output_tokens, migrating from the
// legacy gen_ai.completion_tokens key if the current one is absent.
func (a Attrs) OutputTokens() (float64, bool) {
	if v, ok := a.getFloat(attrGenAIOutputTokens); ok {
		return v, true
	}
	return a.getFloat(attrLegacyCompletionTokens)
}

// RequestModel returns gen_ai.request.model, if present.
func (a Attrs) RequestModel() (string, bool) { return a.getString(attrGenAIRequestModel) }

// ResponseModel returns gen_ai.response.model, if present.
func (a Attrs) ResponseModel() (string, bool) { return a.getString(attrGenAIResponseModel) }

// ProviderName derives the provider from gen_ai.system, special-casing
// the Langchain SDK (whose real provider lives in
// association_properties.ls_provider) and splitting a dotted system
// value ("anthropic.messages") on its first segment.
func (a Attrs) ProviderName() (string, bool) {
	system, ok := a.getString(attrGenAISystem)
	if !ok {
		return "", false
	}
	if system == providerLangchain {
		if p, ok := a.getString(attrAssociationPropertiesLsProvider); ok {
			return p, true
		}
		return strings.ToLower(system), true
	}
	if i := strings.Index(system, "."); i >= 0 {
		system = system[:i]
	}
	return strings.ToLower(system), true
}
