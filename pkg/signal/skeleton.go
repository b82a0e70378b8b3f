package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// Trace-skeleton compression constants (step 1).
const (
	truncateThreshold    = 1024
	base64ImagePlaceholder = "[base64 image omitted]"
	llmMessageMaxChars   = 3000
	spanShortIDLen       = 6
)

// spanShortID returns the last spanShortIDLen hex characters of id
// (hyphens stripped), the stable short identifier the model sees in
// place of full UUIDs.
func spanShortID(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) <= spanShortIDLen {
		return s
	}
	return s[len(s)-spanShortIDLen:]
}

func skeletonSpanType(t types.SpanType) string {
	switch t {
	case types.SpanTypeLLM:
		return "llm"
	case types.SpanTypeTool:
		return "tool"
	default:
		return "default"
	}
}

// compressedSpan is one entry of the YAML detail view and the
// skeleton legend line.
type compressedSpan struct {
	ID        string          `yaml:"id" json:"id"`
	Name      string          `yaml:"name" json:"name"`
	Path      string          `yaml:"path" json:"path"`
	SpanType  string          `yaml:"type" json:"type"`
	Start     string          `yaml:"start" json:"start"`
	Duration  float64         `yaml:"duration" json:"duration"`
	Input     json.RawMessage `yaml:"input,omitempty" json:"input,omitempty"`
	Output    json.RawMessage `yaml:"output,omitempty" json:"output,omitempty"`
	Status    string          `yaml:"status,omitempty" json:"status,omitempty"`
	Parent    string          `yaml:"parent,omitempty" json:"parent,omitempty"`
	Exception json.RawMessage `yaml:"exception,omitempty" json:"exception,omitempty"`
}

func truncateString(s string) string {
	runes := []rune(s)
	if len(runes) <= truncateThreshold {
		return s
	}
	omitted := len(runes) - truncateThreshold
	return fmt.Sprintf("%s... (%d chars truncated)", string(runes[:truncateThreshold]), omitted)
}

// truncateValue caps a raw JSON value's rendered length at
// truncateThreshold, used for non-LLM span input/output.
func truncateValue(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if len(s) <= truncateThreshold {
			return raw
		}
		b, _ := json.Marshal(truncateString(s))
		return b
	}
	if len(raw) <= truncateThreshold {
		return raw
	}
	b, _ := json.Marshal(truncateString(string(raw)))
	return b
}

// truncateLLMInput caps every string field of every message at charCap
// so one oversized message can't starve the rest of the budget, rather
// than truncating the whole payload uniformly.
func truncateLLMInput(raw json.RawMessage, charCap int) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	arr, ok := v.([]any)
	if !ok {
		return raw
	}
	for i, m := range arr {
		arr[i] = truncateLongStrings(m, charCap)
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return raw
	}
	return b
}

func truncateLongStrings(v any, charCap int) any {
	switch t := v.(type) {
	case string:
		runes := []rune(t)
		if len(runes) <= charCap {
			return t
		}
		omitted := len(runes) - charCap
		return fmt.Sprintf("%s... (%d chars truncated)", string(runes[:charCap]), omitted)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = truncateLongStrings(e, charCap)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = truncateLongStrings(e, charCap)
		}
		return out
	default:
		return v
	}
}

// replaceBase64Images walks raw and swaps any "data:image/...;base64,"
// data URL string for a short placeholder, so skeleton prompts never
// carry image bytes.
func replaceBase64Images(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out := replaceBase64ImagesValue(v)
	b, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	return b
}

func replaceBase64ImagesValue(v any) any {
	switch t := v.(type) {
	case string:
		if idx := strings.Index(t, "base64,"); idx >= 0 {
			prefix := t[:idx+len("base64,")]
			if strings.HasPrefix(prefix, "data:image") {
				return base64ImagePlaceholder
			}
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = replaceBase64ImagesValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = replaceBase64ImagesValue(e)
		}
		return out
	default:
		return v
	}
}

// stripSignatureFields removes "signature" and "thought_signature"
// keys anywhere in raw: large opaque hashes with no analytical value
// to the judge model.
func stripSignatureFields(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out := stripSignatureFieldsValue(v)
	b, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	return b
}

func stripSignatureFieldsValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stripSignatureFieldsValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if k == "signature" || k == "thought_signature" {
				continue
			}
			out[k] = stripSignatureFieldsValue(e)
		}
		return out
	default:
		return v
	}
}

// exceptionFromAttributes surfaces an OTel-style exception recorded
// directly on the span's attribute map (this pipeline does not carry
// span events as a separate collection — see types.Span).
func exceptionFromAttributes(attrs map[string]any) json.RawMessage {
	msg, hasMsg := attrs["exception.message"]
	typ, hasType := attrs["exception.type"]
	if !hasMsg && !hasType {
		return nil
	}
	b, err := json.Marshal(map[string]any{"type": typ, "message": msg})
	if err != nil {
		return nil
	}
	return b
}

// compressSpans turns a trace's raw spans into the compact form fed
// into the step-1 prompt: every span gets a skeleton legend line,
// LLM/tool spans additionally get a detailed YAML entry, and a
// repeated LLM call at the same span path keeps only its output after
// the first occurrence. charCap bounds the length of any single
// string field within an LLM span's input messages.
func compressSpans(spans []types.Span, charCap int) []compressedSpan {
	shortByID := make(map[string]string, len(spans))
	for _, s := range spans {
		shortByID[s.SpanID] = spanShortID(s.SpanID)
	}

	seenLLMPaths := make(map[string]bool)
	out := make([]compressedSpan, 0, len(spans))
	for _, s := range spans {
		path, _ := s.Attributes["lmnr.span.path"].(string)
		duration := s.EndTime.Sub(s.StartTime).Seconds()

		var parent string
		if s.ParentSpanID != nil {
			parent = shortByID[*s.ParentSpanID]
		}

		var status string
		if s.Status != nil {
			status = *s.Status
		}

		cs := compressedSpan{
			ID:        spanShortID(s.SpanID),
			Name:      s.Name,
			Path:      path,
			SpanType:  skeletonSpanType(s.SpanType),
			Start:     s.StartTime.UTC().Format("2006-01-02 15:04:05 UTC"),
			Duration:  duration,
			Status:    status,
			Parent:    parent,
			Exception: exceptionFromAttributes(s.Attributes),
		}

		if s.SpanType == types.SpanTypeLLM {
			output := stripSignatureFields(s.Output)
			if seenLLMPaths[path] {
				cs.Output = output
			} else {
				seenLLMPaths[path] = true
				cs.Input = truncateLLMInput(stripSignatureFields(replaceBase64Images(s.Input)), charCap)
				cs.Output = output
			}
		} else {
			cs.Input = truncateValue(s.Input)
			cs.Output = truncateValue(s.Output)
		}

		out = append(out, cs)
	}
	return out
}

// spansToSkeletonString renders the compact "legend" view: one line
// per span naming it, its short id, parent short id, and type.
func spansToSkeletonString(spans []compressedSpan) string {
	var b strings.Builder
	b.WriteString("legend: span_name (id, parent_id, type)\n")
	for _, s := range spans {
		parent := s.Parent
		if parent == "" {
			parent = "None"
		}
		fmt.Fprintf(&b, "- %s (%s, %s, %s)\n", s.Name, s.ID, parent, s.SpanType)
	}
	return b.String()
}

// traceStructureString builds the full step-1 prompt fragment: the
// skeleton legend plus a YAML detail dump of every LLM/tool span.
func traceStructureString(spans []types.Span, charCap int) (string, error) {
	if len(spans) == 0 {
		return "No spans found for this trace.", nil
	}

	compressed := compressSpans(spans, charCap)
	skeleton := spansToSkeletonString(compressed)

	detailed := make([]compressedSpan, 0, len(compressed))
	for _, s := range compressed {
		if s.SpanType != "default" {
			detailed = append(detailed, s)
		}
	}

	yamlBytes, err := yaml.Marshal(detailed)
	if err != nil {
		return "", fmt.Errorf("signal: marshal trace detail yaml: %w", err)
	}

	return fmt.Sprintf(
		"Here is the skeleton view of the trace:\n<trace_skeleton>\n%s</trace_skeleton>\n\nHere are the detailed views of LLM and Tool spans:\n<spans>\n%s</spans>\n",
		skeleton, string(yamlBytes),
	), nil
}
