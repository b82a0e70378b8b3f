package signal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// stubProvider is a hand-rolled Provider for exercising the submission
// and pending handlers without a live API key.
type stubProvider struct {
	createBatch func(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error)
	getBatch    func(ctx context.Context, batchID string) (BatchResult, error)

	createCalls []BatchRequest
}

func (p *stubProvider) CreateBatch(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error) {
	p.createCalls = append(p.createCalls, requests...)
	return p.createBatch(ctx, model, requests, displayName)
}

func (p *stubProvider) GetBatch(ctx context.Context, batchID string) (BatchResult, error) {
	return p.getBatch(ctx, batchID)
}

func newTraceSpan(projectID, traceID string) types.Span {
	now := time.Now()
	return types.Span{
		SpanID:    uuid.NewString(),
		TraceID:   traceID,
		ProjectID: projectID,
		Name:      "chat",
		SpanType:  types.SpanTypeLLM,
		StartTime: now,
		EndTime:   now.Add(time.Second),
		Attributes: map[string]any{
			"lmnr.span.path": "chat",
		},
		Input:  json.RawMessage(`[{"role":"user","content":"hi"}]`),
		Output: json.RawMessage(`[{"role":"assistant","content":"hello"}]`),
	}
}

func TestSubmissionHandlerFreshRunSeedsPromptsAndPublishesToPending(t *testing.T) {
	columnar := store.NewMemoryColumnarStore()
	queue := mq.NewMemoryQueue()
	ctx := context.Background()

	projectID := uuid.NewString()
	traceID := uuid.NewString()
	require.NoError(t, columnar.InsertSpans(ctx, []types.Span{newTraceSpan(projectID, traceID)}))

	recv, err := queue.GetReceiver(ctx, "pending-test", PendingExchange, "")
	require.NoError(t, err)

	provider := &stubProvider{
		createBatch: func(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error) {
			return "batch-1", nil
		},
	}
	handler := &SubmissionHandler{Columnar: columnar, Queue: queue, Provider: provider}

	msg := types.SignalJobSubmissionBatchMessage{
		ProjectID: projectID, JobID: "job-1", SignalID: "signal-1", SignalName: "matches_refund",
		DeveloperPrompt: "the user asked for a refund", Model: LLMModel, Provider: LLMProvider,
		Runs: []types.SignalRunRef{
			{RunID: "run-1", TraceID: traceID, InternalTraceID: uuid.NewString(), InternalSpanID: uuid.NewString(), Step: 1},
		},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, data))
	require.Len(t, provider.createCalls, 1)
	assert.Equal(t, "run-1", provider.createCalls[0].Key)

	ctxTimeout, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	d, err := recv.Receive(ctxTimeout)
	require.NoError(t, err)
	require.NotNil(t, d)

	var pending types.SignalJobPendingBatchMessage
	require.NoError(t, json.Unmarshal(d.Data(), &pending))
	assert.Equal(t, "batch-1", pending.BatchID)
	require.Len(t, pending.Runs, 1)
	assert.Equal(t, "run-1", pending.Runs[0].RunID)

	stored, err := columnar.GetSignalRunMessages(ctx, projectID, "run-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	system, err := unmarshalStoredMessage(stored[0].SerializedContent)
	require.NoError(t, err)
	assert.Equal(t, "system", system.Role)

	user, err := unmarshalStoredMessage(stored[1].SerializedContent)
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)
	assert.Contains(t, user.Text, "the user asked for a refund")
}

func TestSubmissionHandlerResumesStoredConversation(t *testing.T) {
	columnar := store.NewMemoryColumnarStore()
	queue := mq.NewMemoryQueue()
	ctx := context.Background()

	projectID := uuid.NewString()
	traceID := uuid.NewString()

	systemRaw, err := marshalStoredMessage(storedMessageFromText("system", "be a judge"))
	require.NoError(t, err)
	userRaw, err := marshalStoredMessage(storedMessageFromText("user", "evaluate this"))
	require.NoError(t, err)
	modelMsg, err := storedMessageFromFunctionCall(&genai.FunctionCall{Name: "get_full_span_info", Args: map[string]any{"span_ids": []any{1.0}}})
	require.NoError(t, err)
	modelRaw, err := marshalStoredMessage(modelMsg)
	require.NoError(t, err)

	require.NoError(t, columnar.InsertSignalRunMessages(ctx, []types.SignalRunMessage{
		{ProjectID: projectID, RunID: "run-1", Time: time.Now(), SerializedContent: systemRaw},
		{ProjectID: projectID, RunID: "run-1", Time: time.Now().Add(time.Millisecond), SerializedContent: userRaw},
		{ProjectID: projectID, RunID: "run-1", Time: time.Now().Add(2 * time.Millisecond), SerializedContent: modelRaw},
	}))

	provider := &stubProvider{
		createBatch: func(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error) {
			return "batch-2", nil
		},
	}
	handler := &SubmissionHandler{Columnar: columnar, Queue: queue, Provider: provider}

	msg := types.SignalJobSubmissionBatchMessage{
		ProjectID: projectID, JobID: "job-2", SignalID: "signal-1", Model: LLMModel, Provider: LLMProvider,
		Runs: []types.SignalRunRef{{RunID: "run-1", TraceID: traceID, Step: 2}},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(ctx, data))
	require.Len(t, provider.createCalls, 1)
	// Resuming a run must not re-seed the system/user prompts: the
	// stored user turn and the model's prior function-call turn feed
	// the resumed request, nothing more.
	assert.Len(t, provider.createCalls[0].Contents, 2)
	assert.NotNil(t, provider.createCalls[0].SystemInstruction)
}

func TestSubmissionHandlerBatchCreationFailureMarksRunsFailed(t *testing.T) {
	columnar := store.NewMemoryColumnarStore()
	queue := mq.NewMemoryQueue()
	ctx := context.Background()

	projectID := uuid.NewString()
	traceID := uuid.NewString()
	require.NoError(t, columnar.InsertSpans(ctx, []types.Span{newTraceSpan(projectID, traceID)}))

	provider := &stubProvider{
		createBatch: func(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error) {
			return "", errors.New("provider unavailable")
		},
	}
	handler := &SubmissionHandler{Columnar: columnar, Queue: queue, Provider: provider}

	msg := types.SignalJobSubmissionBatchMessage{
		ProjectID: projectID, JobID: "job-3", SignalID: "signal-1", Model: LLMModel, Provider: LLMProvider,
		Runs: []types.SignalRunRef{{RunID: "run-1", TraceID: traceID, Step: 1}},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	err = handler.Handle(ctx, data)
	require.Error(t, err)

	run, ok := columnar.GetRun(projectID, "run-1")
	require.True(t, ok)
	assert.Equal(t, types.RunStatusFailed, run.Status)

	succeeded, failed := columnar.JobStats("job-3")
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 1, failed)
}
