// Package clustering implements the Clustering Batcher: a
// batch-worker handler that groups ClusteringMessage deliveries by
// (project_id, signal_id) and flushes each group either once it
// reaches a configured size or once flush_interval has elapsed since
// its last flush, whichever comes first.
package clustering

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lmnr-ai/ingest-core/pkg/batchworker"
	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

const (
	// ClusteringExchange is where the span worker publishes
	// ClusteringMessage payloads.
	ClusteringExchange = "clustering"
	// ClusteringBatchExchange is where flushed batches are published
	// for downstream clustering consumers.
	ClusteringBatchExchange = "clustering_batch"
	ClusteringRoutingKey    = "clustering"
	ClusteringBatchRoutingKey = "clustering_batch"
)

// clusteringMsg adapts a types.ClusteringMessage to batchworker.Message.
type clusteringMsg struct {
	types.ClusteringMessage
}

func (m clusteringMsg) UniqueID() string { return m.ID }

// batchKey is the (project_id, signal_id) grouping key.
type batchKey struct {
	ProjectID string
	SignalID  string
}

func keyFor(m types.ClusteringMessage) batchKey {
	return batchKey{ProjectID: m.ProjectID, SignalID: m.SignalEvent.SignalID}
}

// State is the handler's accumulated per-connection state: one
// ClusteringBatch per (project_id, signal_id) key.
type State struct {
	Batches map[batchKey]*types.ClusteringBatch
}

// Config configures batch-size and time-based flush triggers.
type Config struct {
	Size          int
	FlushInterval time.Duration
}

// BatchingHandler implements batchworker.BatchMessageHandler[State].
type BatchingHandler struct {
	Queue  mq.Queue
	Config Config

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// NewBatchingHandler constructs a handler publishing flushed batches
// to ClusteringBatchExchange via queue.
func NewBatchingHandler(queue mq.Queue, cfg Config) *BatchingHandler {
	return &BatchingHandler{Queue: queue, Config: cfg, now: time.Now}
}

func (h *BatchingHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// StateCheckInterval is exactly half of FlushInterval ,
// bounding worst-case flush delay by FlushInterval.
func (h *BatchingHandler) StateCheckInterval() time.Duration {
	return h.Config.FlushInterval / 2
}

func (h *BatchingHandler) InitialState() State {
	return State{Batches: make(map[batchKey]*types.ClusteringBatch)}
}

// HandleMessage deserializes one ClusteringMessage and appends it to
// the matching batch, creating it if absent.
func (h *BatchingHandler) HandleMessage(ctx context.Context, data []byte, state *State) (batchworker.Message, error) {
	var m types.ClusteringMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, hcerrors.Permanent(hcerrors.KindDeserialization, err)
	}

	key := keyFor(m)
	batch, ok := state.Batches[key]
	if !ok {
		batch = types.NewClusteringBatch(h.clock())
		state.Batches[key] = batch
	}
	batch.Messages = append(batch.Messages, m)

	return clusteringMsg{m}, nil
}

// ProcessStateAfterMessage flushes the just-appended-to batch
// immediately if it has reached the configured size.
func (h *BatchingHandler) ProcessStateAfterMessage(ctx context.Context, msg batchworker.Message, state *State) batchworker.ProcessStateResult {
	m := msg.(clusteringMsg)
	key := keyFor(m.ClusteringMessage)

	batch, ok := state.Batches[key]
	if !ok || len(batch.Messages) < h.Config.Size {
		return batchworker.Empty()
	}

	delete(state.Batches, key)
	return h.flush(ctx, batch)
}

// ProcessStatePeriodic flushes every non-empty batch whose age has
// reached FlushInterval.
func (h *BatchingHandler) ProcessStatePeriodic(ctx context.Context, state *State) batchworker.ProcessStateResult {
	now := h.clock()
	result := batchworker.Empty()

	var staleKeys []batchKey
	for key, batch := range state.Batches {
		if len(batch.Messages) > 0 && now.Sub(batch.LastFlush) >= h.Config.FlushInterval {
			staleKeys = append(staleKeys, key)
		}
	}

	for _, key := range staleKeys {
		batch := state.Batches[key]
		delete(state.Batches, key)
		r := h.flush(ctx, batch)
		result.ToAck = append(result.ToAck, r.ToAck...)
		result.ToReject = append(result.ToReject, r.ToReject...)
		result.ToRequeue = append(result.ToRequeue, r.ToRequeue...)
	}

	return result
}

// flush publishes every message in batch as one payload to
// ClusteringBatchExchange. The whole batch settles the same way: one
// error settles every message in it identically, so a batch never
// loses messages.
func (h *BatchingHandler) flush(ctx context.Context, batch *types.ClusteringBatch) batchworker.ProcessStateResult {
	msgs := make([]batchworker.Message, len(batch.Messages))
	for i, m := range batch.Messages {
		msgs[i] = clusteringMsg{m}
	}

	payload, err := json.Marshal(batch.Messages)
	if err != nil {
		return batchworker.ProcessStateResult{ToReject: msgs}
	}

	if err := h.Queue.Publish(ctx, ClusteringBatchExchange, ClusteringBatchRoutingKey, payload); err != nil {
		return batchworker.ProcessStateResult{ToRequeue: msgs}
	}

	return batchworker.ProcessStateResult{ToAck: msgs}
}
