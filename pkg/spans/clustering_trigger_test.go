package spans

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnr-ai/ingest-core/pkg/clustering"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

func TestClusteringMessageFromSpan_NoSignalID(t *testing.T) {
	span := types.Span{ProjectID: "p1", Attributes: map[string]any{}}
	_, ok := clusteringMessageFromSpan(span)
	assert.False(t, ok)
}

func TestClusteringMessageFromSpan_Matching(t *testing.T) {
	span := types.Span{
		ProjectID: "p1",
		Attributes: map[string]any{
			"lmnr.association_properties.signal_id":            "sig-1",
			"lmnr.association_properties.signal_value_template": "{{output}}",
		},
	}
	msg, ok := clusteringMessageFromSpan(span)
	require.True(t, ok)
	assert.Equal(t, "p1", msg.ProjectID)
	assert.Equal(t, "sig-1", msg.SignalEvent.SignalID)
	assert.Equal(t, "{{output}}", msg.ValueTemplate)
	assert.NotEmpty(t, msg.ID)
}

func TestPublishClusteringMessages(t *testing.T) {
	queue := mq.NewMemoryQueue()
	ctx := context.Background()
	receiver, err := queue.GetReceiver(ctx, "test_clustering", clustering.ClusteringExchange, clustering.ClusteringRoutingKey)
	require.NoError(t, err)

	spansIn := []types.Span{
		{ProjectID: "p1", SpanID: "s1", Attributes: map[string]any{
			"lmnr.association_properties.signal_id": "sig-1",
		}},
		{ProjectID: "p1", SpanID: "s2", Attributes: map[string]any{}},
	}
	publishClusteringMessages(ctx, queue, slog.Default(), spansIn)

	delivery, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	var msg types.ClusteringMessage
	require.NoError(t, json.Unmarshal(delivery.Data(), &msg))
	assert.Equal(t, "sig-1", msg.SignalEvent.SignalID)
}
