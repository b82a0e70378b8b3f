package signal

import (
	"encoding/json"

	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// fullSpanDetail is what get_full_span_info returns for one
// requested span: the full, untruncated input/output plus attributes,
// unlike the skeleton's compressed view.
type fullSpanDetail struct {
	Seq        int             `json:"seq"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Status     string          `json:"status,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// getFullSpanInfo resolves requested sequence numbers against spans
// (the same list and ordering used to build the trace skeleton) and
// returns full detail for the ones that exist.
func getFullSpanInfo(spans []types.Span, index spanIndex, seqs []int) []fullSpanDetail {
	bySpanID := make(map[string]types.Span, len(spans))
	for _, s := range spans {
		bySpanID[s.SpanID] = s
	}

	out := make([]fullSpanDetail, 0, len(seqs))
	for _, seq := range seqs {
		id, ok := index.uuidBySeq(seq)
		if !ok {
			continue
		}
		s, ok := bySpanID[id]
		if !ok {
			continue
		}
		var status string
		if s.Status != nil {
			status = *s.Status
		}
		out = append(out, fullSpanDetail{
			Seq: seq, Name: s.Name, Type: string(s.SpanType), Status: status,
			Input: s.Input, Output: s.Output, Attributes: s.Attributes,
		})
	}
	return out
}
