package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// WaitingExchange holds a batch still running; its queue is declared
// with a TTL that dead-letters back to PendingExchange, giving a
// busy-wait-free way to poll an external batch.
const WaitingExchange = "signal_waiting"

// SubmissionsExchange is where an unfinished run (one more tool-call
// round required) is resubmitted.
const SubmissionsExchange = "signal_submissions"

// DefaultMaxSteps bounds the tool-call loop.
const DefaultMaxSteps = 5

// PendingHandler polls a submitted batch and, once it has settled,
// walks every response through the tool-call loop.
type PendingHandler struct {
	Columnar   store.ColumnarStore
	Queue      mq.Queue
	Provider   Provider
	MaxSteps   int
	AppBaseURL string
	Log        *slog.Logger
}

func (h *PendingHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *PendingHandler) maxSteps() int {
	if h.MaxSteps > 0 {
		return h.MaxSteps
	}
	return DefaultMaxSteps
}

func (h *PendingHandler) Handle(ctx context.Context, data []byte) error {
	var msg types.SignalJobPendingBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("signal: decode pending batch: %w", err))
	}

	result, err := h.Provider.GetBatch(ctx, msg.BatchID)
	if err != nil {
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: get batch %s: %w", msg.BatchID, err))
	}

	switch {
	case result.State.Fatal():
		if updErr := h.Columnar.UpdateJobStats(ctx, msg.JobID, 0, len(msg.Runs)); updErr != nil {
			h.logger().Error("signal pending: failed to update job stats for fatal batch", "error", updErr)
		}
		return hcerrors.Permanent(hcerrors.KindBatchFatal, fmt.Errorf("signal: batch %s reached terminal state %s", msg.BatchID, result.State))

	case !result.State.Terminal():
		payload, err := json.Marshal(msg)
		if err != nil {
			return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("signal: re-marshal pending message: %w", err))
		}
		if err := h.Queue.Publish(ctx, WaitingExchange, WaitingExchange, payload); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: publish to waiting queue: %w", err))
		}
		return nil

	default:
		return h.processSucceededBatch(ctx, msg, result)
	}
}

func (h *PendingHandler) processSucceededBatch(ctx context.Context, msg types.SignalJobPendingBatchMessage, result BatchResult) error {
	runMap := make(map[string]types.SignalRunRef, len(msg.Runs))
	for _, r := range msg.Runs {
		runMap[r.RunID] = r
	}

	var newMessages []types.SignalRunMessage
	var succeeded, failed []types.SignalRun
	var pendingRuns []types.SignalRunRef
	processed := make(map[string]bool)

	for _, resp := range result.Responses {
		runID := resp.Key
		if runID == "" {
			h.logger().Warn("signal pending: response missing key, skipping", "batch_id", msg.BatchID)
			continue
		}

		run, ok := runMap[runID]
		if !ok {
			h.logger().Error("signal pending: no run found for response key, skipping", "run_id", runID)
			failed = append(failed, h.failedRun(msg, types.SignalRunRef{RunID: runID}, time.Now()))
			processed[runID] = true
			continue
		}

		if resp.HasError {
			failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			processed[runID] = true
			continue
		}

		outputJSON, _ := json.Marshal(resp.Content)
		spanID, spanErr := emitInternalSpan(ctx, h.Queue, msg.ProjectID, internalSpan{
			Name: fmt.Sprintf("step_%d.process_response", run.Step), InternalTraceID: run.InternalTraceID,
			ParentSpanID: strPtr(run.InternalSpanID), StartTime: time.Now(), EndTime: time.Now(),
			Output: outputJSON, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens,
		})
		if spanErr != nil {
			h.logger().Warn("signal pending: failed to emit internal span", "error", spanErr)
		}
		_ = spanID

		if resp.FunctionCall == nil {
			h.logger().Warn("signal pending: response has no function call, marking run failed", "run_id", run.RunID, "text", resp.Text)
			failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			processed[runID] = true
			continue
		}

		modelMsg, err := storedMessageFromFunctionCall(resp.FunctionCall)
		if err != nil {
			h.logger().Error("signal pending: failed to serialize model turn", "error", err)
			failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			processed[runID] = true
			continue
		}
		modelRaw, err := marshalStoredMessage(modelMsg)
		if err == nil {
			newMessages = append(newMessages, types.SignalRunMessage{ProjectID: msg.ProjectID, RunID: run.RunID, Time: time.Now(), SerializedContent: modelRaw})
		}

		status, toolMsgs := h.handleToolCall(ctx, msg, run, resp.FunctionCall)
		newMessages = append(newMessages, toolMsgs...)

		switch status.kind {
		case toolCallFailed:
			failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			processed[runID] = true
		case toolCallCompletedNoEvent:
			succeeded = append(succeeded, h.runFromRef(msg, run, types.RunStatusCompleted, nil))
			processed[runID] = true
		case toolCallCompletedWithEvent:
			eventID, err := h.createEvent(ctx, msg, run, status.attributes)
			if err != nil {
				h.logger().Error("signal pending: failed to create event", "run_id", run.RunID, "error", err)
				failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			} else {
				succeeded = append(succeeded, h.runFromRef(msg, run, types.RunStatusCompleted, &eventID))
			}
			processed[runID] = true
		case toolCallRequiresNextStep:
			if run.Step+1 > h.maxSteps() {
				h.logger().Error("signal pending: run exceeded max steps, marking failed", "run_id", run.RunID)
				failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
			} else {
				next := run
				next.Step = run.Step + 1
				pendingRuns = append(pendingRuns, next)
			}
			processed[runID] = true
		}
	}

	for _, run := range msg.Runs {
		if !processed[run.RunID] {
			failed = append(failed, h.runFromRef(msg, run, types.RunStatusFailed, nil))
		}
	}

	if len(newMessages) > 0 {
		if err := h.Columnar.InsertSignalRunMessages(ctx, newMessages); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: insert run messages: %w", err))
		}
	}
	if err := h.Columnar.UpdateJobStats(ctx, msg.JobID, len(succeeded), len(failed)); err != nil {
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: update job stats: %w", err))
	}
	if len(succeeded) > 0 {
		if err := h.Columnar.InsertSignalRuns(ctx, succeeded); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: insert succeeded runs: %w", err))
		}
	}
	if len(failed) > 0 {
		if err := h.Columnar.InsertSignalRuns(ctx, failed); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: insert failed runs: %w", err))
		}
	}

	if len(pendingRuns) > 0 {
		submission := types.SignalJobSubmissionBatchMessage{
			ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID, SignalName: msg.SignalName,
			StructuredOutputSchema: msg.StructuredOutputSchema, Model: msg.Model, Provider: msg.Provider,
			Runs: pendingRuns,
		}
		payload, err := json.Marshal(submission)
		if err != nil {
			return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("signal: marshal resubmission: %w", err))
		}
		if err := h.Queue.Publish(ctx, SubmissionsExchange, SubmissionsExchange, payload); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: publish resubmission: %w", err))
		}
	}

	finishedRunIDs := make([]string, 0, len(succeeded)+len(failed))
	for _, r := range succeeded {
		finishedRunIDs = append(finishedRunIDs, r.RunID)
	}
	for _, r := range failed {
		finishedRunIDs = append(finishedRunIDs, r.RunID)
	}
	if len(finishedRunIDs) > 0 {
		if err := h.Columnar.DeleteSignalRunMessages(ctx, msg.ProjectID, finishedRunIDs); err != nil {
			h.logger().Error("signal pending: failed to delete finished run messages", "error", err)
		}
	}

	return nil
}

func (h *PendingHandler) runFromRef(msg types.SignalJobPendingBatchMessage, run types.SignalRunRef, status types.RunStatus, eventID *string) types.SignalRun {
	return types.SignalRun{
		RunID: run.RunID, ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID,
		TraceID: run.TraceID, Status: status, Step: run.Step,
		InternalTraceID: run.InternalTraceID, InternalSpanID: run.InternalSpanID,
		Time: time.Now(), EventID: eventID,
	}
}

func (h *PendingHandler) failedRun(msg types.SignalJobPendingBatchMessage, run types.SignalRunRef, now time.Time) types.SignalRun {
	return types.SignalRun{
		RunID: run.RunID, ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID,
		TraceID: run.TraceID, Status: types.RunStatusFailed, Step: run.Step,
		InternalTraceID: run.InternalTraceID, InternalSpanID: run.InternalSpanID, Time: now,
		ErrorMessage: strPtr("response missing a correlating run key"),
	}
}

type toolCallKind int

const (
	toolCallFailed toolCallKind = iota
	toolCallCompletedNoEvent
	toolCallCompletedWithEvent
	toolCallRequiresNextStep
)

type toolCallStatus struct {
	kind       toolCallKind
	attributes json.RawMessage
}

// handleToolCall dispatches function_call.Name, returning the run's
// next state and any stored-conversation turns it produced (the tool
// result message, when the loop continues).
func (h *PendingHandler) handleToolCall(ctx context.Context, msg types.SignalJobPendingBatchMessage, run types.SignalRunRef, fc *genai.FunctionCall) (toolCallStatus, []types.SignalRunMessage) {
	switch fc.Name {
	case ToolGetFullSpanInfo:
		seqsRaw, _ := fc.Args["span_ids"].([]any)
		seqs := make([]int, 0, len(seqsRaw))
		for _, v := range seqsRaw {
			if f, ok := v.(float64); ok {
				seqs = append(seqs, int(f))
			}
		}
		if len(seqs) == 0 {
			h.logger().Error("signal pending: get_full_span_info called with no span_ids", "run_id", run.RunID)
			return toolCallStatus{kind: toolCallFailed}, nil
		}

		spansList, err := h.Columnar.GetTraceSpans(ctx, msg.ProjectID, run.TraceID)
		var toolResult map[string]any
		if err != nil {
			toolResult = map[string]any{"error": err.Error()}
		} else {
			index := buildSpanIndex(spansList)
			toolResult = map[string]any{"spans": getFullSpanInfo(spansList, index, seqs)}
		}

		respMsg, err := storedMessageFromFunctionResponse(fc.Name, toolResult)
		if err != nil {
			return toolCallStatus{kind: toolCallFailed}, nil
		}
		raw, err := marshalStoredMessage(respMsg)
		if err != nil {
			return toolCallStatus{kind: toolCallFailed}, nil
		}
		return toolCallStatus{kind: toolCallRequiresNextStep}, []types.SignalRunMessage{
			{ProjectID: msg.ProjectID, RunID: run.RunID, Time: time.Now(), SerializedContent: raw},
		}

	case ToolSubmitIdentification:
		identified, _ := fc.Args["identified"].(bool)
		if !identified {
			return toolCallStatus{kind: toolCallCompletedNoEvent}, nil
		}
		data, _ := fc.Args["data"]
		attrs, err := json.Marshal(data)
		if err != nil {
			return toolCallStatus{kind: toolCallFailed}, nil
		}
		return toolCallStatus{kind: toolCallCompletedWithEvent, attributes: attrs}, nil

	default:
		h.logger().Warn("signal pending: unknown function called", "name", fc.Name, "run_id", run.RunID)
		return toolCallStatus{kind: toolCallFailed}, nil
	}
}

// createEvent builds and inserts the Event a completed, identified
// run produces, rewriting any [span:N] references into trace-viewer
// links first.
func (h *PendingHandler) createEvent(ctx context.Context, msg types.SignalJobPendingBatchMessage, run types.SignalRunRef, attributes json.RawMessage) (string, error) {
	spansList, err := h.Columnar.GetTraceSpans(ctx, msg.ProjectID, run.TraceID)
	if err != nil {
		return "", fmt.Errorf("get trace spans: %w", err)
	}
	if len(spansList) == 0 {
		return "", fmt.Errorf("no spans found for trace %s", run.TraceID)
	}
	root := spansList[0]

	index := buildSpanIndex(spansList)
	rewritten, err := replaceSpanTagsWithLinks(attributes, index, h.AppBaseURL, msg.ProjectID, run.TraceID)
	if err != nil {
		return "", err
	}

	var attrMap map[string]any
	if len(rewritten) > 0 {
		if err := json.Unmarshal(rewritten, &attrMap); err != nil {
			attrMap = map[string]any{"value": json.RawMessage(rewritten)}
		}
	}

	event := types.Event{
		ID: uuid.NewString(), TraceID: run.TraceID, SpanID: root.SpanID, ProjectID: msg.ProjectID,
		Timestamp: root.EndTime, Name: msg.SignalName, Attributes: attrMap, Source: types.EventSourceSemantic,
	}
	if err := h.Columnar.InsertEvents(ctx, []types.Event{event}); err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return event.ID, nil
}
