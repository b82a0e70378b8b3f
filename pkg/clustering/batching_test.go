package clustering

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

func testMessage(projectID, signalID string) types.ClusteringMessage {
	return types.ClusteringMessage{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		SignalEvent:   types.SignalEventRef{SignalID: signalID},
		ValueTemplate: "test",
	}
}

func newHandler(t *testing.T, size int, flushInterval time.Duration) (*BatchingHandler, mq.Queue) {
	t.Helper()
	q := mq.NewMemoryQueue()
	return NewBatchingHandler(q, Config{Size: size, FlushInterval: flushInterval}), q
}

func TestHandleMessageAddsToBatch(t *testing.T) {
	h, _ := newHandler(t, 10, time.Minute)
	state := h.InitialState()

	projectID, signalID := uuid.NewString(), uuid.NewString()
	msg := testMessage(projectID, signalID)

	_, err := h.HandleMessage(context.Background(), marshal(t, msg), &state)
	require.NoError(t, err)

	key := batchKey{ProjectID: projectID, SignalID: signalID}
	require.Contains(t, state.Batches, key)
	assert.Len(t, state.Batches[key].Messages, 1)
}

func TestHandleMessageGroupsByProjectAndSignal(t *testing.T) {
	h, _ := newHandler(t, 10, time.Minute)
	state := h.InitialState()

	project1, project2 := uuid.NewString(), uuid.NewString()
	signal1, signal2 := uuid.NewString(), uuid.NewString()

	for _, m := range []types.ClusteringMessage{
		testMessage(project1, signal1),
		testMessage(project1, signal1),
		testMessage(project1, signal2),
		testMessage(project2, signal1),
	} {
		_, err := h.HandleMessage(context.Background(), marshal(t, m), &state)
		require.NoError(t, err)
	}

	assert.Len(t, state.Batches, 3)
	assert.Len(t, state.Batches[batchKey{project1, signal1}].Messages, 2)
	assert.Len(t, state.Batches[batchKey{project1, signal2}].Messages, 1)
	assert.Len(t, state.Batches[batchKey{project2, signal1}].Messages, 1)
}

func TestProcessStateAfterMessageFlushesWhenBatchFull(t *testing.T) {
	h, _ := newHandler(t, 3, time.Minute)
	state := h.InitialState()

	projectID, signalID := uuid.NewString(), uuid.NewString()
	for i := 0; i < 3; i++ {
		m := testMessage(projectID, signalID)
		msg, err := h.HandleMessage(context.Background(), marshal(t, m), &state)
		require.NoError(t, err)
		h.ProcessStateAfterMessage(context.Background(), msg, &state)
	}

	assert.NotContains(t, state.Batches, batchKey{projectID, signalID})
}

func TestProcessStateAfterMessageReturnsAckOnFlush(t *testing.T) {
	h, _ := newHandler(t, 2, time.Minute)
	state := h.InitialState()

	projectID, signalID := uuid.NewString(), uuid.NewString()
	msg1, err := h.HandleMessage(context.Background(), marshal(t, testMessage(projectID, signalID)), &state)
	require.NoError(t, err)
	msg2, err := h.HandleMessage(context.Background(), marshal(t, testMessage(projectID, signalID)), &state)
	require.NoError(t, err)
	_ = msg1

	result := h.ProcessStateAfterMessage(context.Background(), msg2, &state)

	assert.Len(t, result.ToAck, 2)
	assert.Empty(t, result.ToReject)
	assert.Empty(t, result.ToRequeue)
}

func TestProcessStateAfterMessageReturnsEmptyWhenNotFull(t *testing.T) {
	h, _ := newHandler(t, 10, time.Minute)
	state := h.InitialState()

	msg, err := h.HandleMessage(context.Background(), marshal(t, testMessage(uuid.NewString(), uuid.NewString())), &state)
	require.NoError(t, err)

	result := h.ProcessStateAfterMessage(context.Background(), msg, &state)

	assert.Empty(t, result.ToAck)
	assert.Empty(t, result.ToReject)
	assert.Empty(t, result.ToRequeue)
}

func TestProcessStatePeriodicFlushesStaleBatches(t *testing.T) {
	h, _ := newHandler(t, 100, 10*time.Millisecond)
	state := h.InitialState()

	_, err := h.HandleMessage(context.Background(), marshal(t, testMessage(uuid.NewString(), uuid.NewString())), &state)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	result := h.ProcessStatePeriodic(context.Background(), &state)

	assert.Len(t, result.ToAck, 1)
	assert.Empty(t, state.Batches)
}

func TestProcessStatePeriodicIgnoresFreshBatches(t *testing.T) {
	h, _ := newHandler(t, 100, time.Minute)
	state := h.InitialState()

	_, err := h.HandleMessage(context.Background(), marshal(t, testMessage(uuid.NewString(), uuid.NewString())), &state)
	require.NoError(t, err)

	result := h.ProcessStatePeriodic(context.Background(), &state)

	assert.Empty(t, result.ToAck)
	assert.Len(t, state.Batches, 1)
}

func TestFlushReturnsRequeueOnQueueError(t *testing.T) {
	h, q := newHandler(t, 2, time.Minute)
	// Close the queue so Publish fails transiently.
	require.NoError(t, q.Close())

	batch := types.NewClusteringBatch(time.Now())
	batch.Messages = append(batch.Messages, testMessage(uuid.NewString(), uuid.NewString()))

	result := h.flush(context.Background(), batch)

	assert.Empty(t, result.ToAck)
	assert.Len(t, result.ToRequeue, 1)
}

func marshal(t *testing.T, m types.ClusteringMessage) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}
