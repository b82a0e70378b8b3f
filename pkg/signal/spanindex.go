package signal

import "github.com/lmnr-ai/ingest-core/pkg/types"

// spanIndex assigns each span in a trace a stable 1-based sequence
// number in start-time order, the identifier the judge model is given
// for get_full_span_info calls and submit_identification's span-tag
// references ([span:N]).
type spanIndex struct {
	bySeq map[int]string
	seq   map[string]int
}

// buildSpanIndex expects spans ordered by StartTime ascending, the
// same order the store's GetTraceSpans contract guarantees.
func buildSpanIndex(spans []types.Span) spanIndex {
	idx := spanIndex{bySeq: make(map[int]string, len(spans)), seq: make(map[string]int, len(spans))}
	for i, s := range spans {
		n := i + 1
		idx.bySeq[n] = s.SpanID
		idx.seq[s.SpanID] = n
	}
	return idx
}

func (i spanIndex) uuidBySeq(seq int) (string, bool) {
	id, ok := i.bySeq[seq]
	return id, ok
}

func (i spanIndex) seqByUUID(id string) (int, bool) {
	n, ok := i.seq[id]
	return n, ok
}
