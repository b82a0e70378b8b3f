package signal

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// spanTagPattern matches the "[span:N]" placeholder the judge model
// embeds in submit_identification's structured data when it wants to
// point at a specific span it inspected, N being the sequence number
// from this run's span index (see buildSpanIndex).
var spanTagPattern = regexp.MustCompile(`\[span:(\d+)\]`)

// replaceSpanTagsWithLinks rewrites every "[span:N]" placeholder found
// in any string field of attributes into a markdown link pointing at
// that span in the trace viewer, resolving N through index, mirroring
// handle_create_event, which performs the same substitution just
// before inserting the resulting Event.
func replaceSpanTagsWithLinks(attributes json.RawMessage, index spanIndex, appBaseURL, projectID, traceID string) (json.RawMessage, error) {
	if len(attributes) == 0 {
		return attributes, nil
	}
	var v any
	if err := json.Unmarshal(attributes, &v); err != nil {
		return nil, fmt.Errorf("signal: unmarshal event attributes: %w", err)
	}
	out := replaceSpanTagsValue(v, index, appBaseURL, projectID, traceID)
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal event attributes: %w", err)
	}
	return b, nil
}

func replaceSpanTagsValue(v any, index spanIndex, appBaseURL, projectID, traceID string) any {
	switch t := v.(type) {
	case string:
		return replaceSpanTagsString(t, index, appBaseURL, projectID, traceID)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = replaceSpanTagsValue(e, index, appBaseURL, projectID, traceID)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = replaceSpanTagsValue(e, index, appBaseURL, projectID, traceID)
		}
		return out
	default:
		return v
	}
}

func replaceSpanTagsString(s string, index spanIndex, appBaseURL, projectID, traceID string) string {
	return spanTagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		m := spanTagPattern.FindStringSubmatch(tag)
		if len(m) != 2 {
			return tag
		}
		seq := 0
		if _, err := fmt.Sscanf(m[1], "%d", &seq); err != nil {
			return tag
		}
		spanID, ok := index.uuidBySeq(seq)
		if !ok {
			return tag
		}
		return fmt.Sprintf("[span %d](%s/project/%s/traces/%s?spanId=%s)", seq, appBaseURL, projectID, traceID, spanID)
	})
}
