package spans

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lmnr-ai/ingest-core/pkg/clustering"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// clusteringMessageFromSpan builds the ClusteringMessage a matching
// span publishes to the clustering exchange, or reports ok=false for
// a span carrying no signal_id association property. The signal_id and
// value_template survive enrichment's attribute cleanup (they are
// association properties, never in the always-dropped set), so they
// are read straight back off the enriched span.
func clusteringMessageFromSpan(span types.Span) (types.ClusteringMessage, bool) {
	attrs := Attrs(span.Attributes)
	signalID, ok := attrs.SignalID()
	if !ok || signalID == "" {
		return types.ClusteringMessage{}, false
	}
	valueTemplate, _ := attrs.SignalValueTemplate()
	return types.ClusteringMessage{
		ID:            uuid.NewString(),
		ProjectID:     span.ProjectID,
		SignalEvent:   types.SignalEventRef{SignalID: signalID},
		ValueTemplate: valueTemplate,
	}, true
}

// publishClusteringMessages publishes one ClusteringMessage per
// matching span in spans onto the clustering exchange. Failures are
// logged and skipped rather than failing the whole ingestion batch:
// clustering is a best-effort downstream fan-out, not the write path
// that owns the span's durability guarantee.
func publishClusteringMessages(ctx context.Context, queue mq.Queue, log *slog.Logger, spans []types.Span) {
	if queue == nil {
		return
	}
	for _, span := range spans {
		msg, ok := clusteringMessageFromSpan(span)
		if !ok {
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Warn("failed to marshal clustering message", "span_id", span.SpanID, "error", err)
			continue
		}
		if err := queue.Publish(ctx, clustering.ClusteringExchange, clustering.ClusteringRoutingKey, payload); err != nil {
			log.Warn("failed to publish clustering message", "span_id", span.SpanID, "error", fmt.Errorf("%w", err))
		}
	}
}
