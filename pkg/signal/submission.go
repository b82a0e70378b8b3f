package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// PendingExchange is where a submitted batch is handed off for
// polling ("signal_pending" queue).
const PendingExchange = "signal_pending"

// SubmissionHandler drives the first half of the tool-call loop: for
// every run in a SignalJobSubmissionBatchMessage, build or resume its
// conversation, submit the whole batch to the provider in one call,
// and hand the batch id off to the pending worker.
type SubmissionHandler struct {
	Columnar store.ColumnarStore
	Queue    mq.Queue
	Provider Provider
	// CharCap overrides the per-message truncation budget applied when
	// compressing a trace into the step-1 prompt. Zero uses the
	// default of 3000 chars.
	CharCap int
	Log     *slog.Logger
}

func (h *SubmissionHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *SubmissionHandler) charCap() int {
	if h.CharCap > 0 {
		return h.CharCap
	}
	return llmMessageMaxChars
}

func (h *SubmissionHandler) Handle(ctx context.Context, data []byte) error {
	var msg types.SignalJobSubmissionBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("signal: decode submission batch: %w", err))
	}

	requests := make([]BatchRequest, 0, len(msg.Runs))
	var newMessages []types.SignalRunMessage
	var failedRuns []types.SignalRun
	var submittedRuns []types.SignalRunRef

	for _, run := range msg.Runs {
		req, msgs, err := h.processRun(ctx, msg, run)
		if err != nil {
			h.logger().Error("signal submission: failed to process run", "run_id", run.RunID, "error", err)
			failedRuns = append(failedRuns, types.SignalRun{
				RunID: run.RunID, ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID,
				TraceID: run.TraceID, Status: types.RunStatusFailed, Step: run.Step,
				InternalTraceID: run.InternalTraceID, InternalSpanID: run.InternalSpanID,
				Time: time.Now(), ErrorMessage: strPtr(fmt.Sprintf("failed to process run: %v", err)),
			})
			continue
		}
		requests = append(requests, req)
		newMessages = append(newMessages, msgs...)
		submittedRuns = append(submittedRuns, run)
	}

	if len(requests) == 0 {
		h.handleFailedRuns(ctx, failedRuns)
		return hcerrors.Permanent(hcerrors.KindBatchFatal, fmt.Errorf("signal: no requests to submit"))
	}

	if len(newMessages) > 0 {
		if err := h.Columnar.InsertSignalRunMessages(ctx, newMessages); err != nil {
			return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: insert run messages: %w", err))
		}
	}

	batchID, err := h.Provider.CreateBatch(ctx, msg.Model, requests, "signal_batch_"+uuid.NewString())
	if err != nil {
		for _, run := range submittedRuns {
			failedRuns = append(failedRuns, types.SignalRun{
				RunID: run.RunID, ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID,
				TraceID: run.TraceID, Status: types.RunStatusFailed, Step: run.Step,
				InternalTraceID: run.InternalTraceID, InternalSpanID: run.InternalSpanID,
				Time: time.Now(), ErrorMessage: strPtr(fmt.Sprintf("batch submission failed: %v", err)),
			})
		}
		h.handleFailedRuns(ctx, failedRuns)
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: create batch: %w", err))
	}

	pending := types.SignalJobPendingBatchMessage{
		ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID, SignalName: msg.SignalName,
		StructuredOutputSchema: msg.StructuredOutputSchema, Model: msg.Model, Provider: msg.Provider,
		Runs: submittedRuns, BatchID: batchID,
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("signal: marshal pending message: %w", err))
	}
	if err := h.Queue.Publish(ctx, PendingExchange, PendingExchange, payload); err != nil {
		h.handleFailedRuns(ctx, failedRunsFromRefs(submittedRuns, msg, "failed to push to pending queue"))
		return hcerrors.Transient(hcerrors.KindUpstreamUnavailable, fmt.Errorf("signal: publish pending message: %w", err))
	}

	// Runs that failed to process are permanent regardless of the
	// batch's own outcome once the batch has been accepted.
	h.handleFailedRuns(ctx, failedRuns)
	return nil
}

func failedRunsFromRefs(runs []types.SignalRunRef, msg types.SignalJobSubmissionBatchMessage, reason string) []types.SignalRun {
	out := make([]types.SignalRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, types.SignalRun{
			RunID: r.RunID, ProjectID: msg.ProjectID, JobID: msg.JobID, SignalID: msg.SignalID,
			TraceID: r.TraceID, Status: types.RunStatusFailed, Step: r.Step,
			InternalTraceID: r.InternalTraceID, InternalSpanID: r.InternalSpanID,
			Time: time.Now(), ErrorMessage: strPtr(reason),
		})
	}
	return out
}

// processRun builds the request for one run, resuming its stored
// conversation if one already exists (steps > 1) or seeding a fresh
// system/user turn from the trace skeleton (step 1).
func (h *SubmissionHandler) processRun(ctx context.Context, msg types.SignalJobSubmissionBatchMessage, run types.SignalRunRef) (BatchRequest, []types.SignalRunMessage, error) {
	existing, err := h.Columnar.GetSignalRunMessages(ctx, msg.ProjectID, run.RunID)
	if err != nil {
		return BatchRequest{}, nil, fmt.Errorf("query existing messages: %w", err)
	}

	var contents []*genai.Content
	var systemInstruction *genai.Content
	var newMessages []types.SignalRunMessage

	if len(existing) == 0 {
		spansList, err := h.Columnar.GetTraceSpans(ctx, msg.ProjectID, run.TraceID)
		if err != nil {
			return BatchRequest{}, nil, fmt.Errorf("get trace spans: %w", err)
		}
		structure, err := traceStructureString(spansList, h.charCap())
		if err != nil {
			return BatchRequest{}, nil, fmt.Errorf("build trace structure: %w", err)
		}

		systemPrompt := strings.ReplaceAll(systemPromptTemplate, "{{fullTraceData}}", structure)
		userPrompt := strings.ReplaceAll(identificationPromptTemplate, "{{developer_prompt}}", msg.DeveloperPrompt)

		now := time.Now()
		systemRaw, err := marshalStoredMessage(storedMessageFromText("system", systemPrompt))
		if err != nil {
			return BatchRequest{}, nil, err
		}
		userRaw, err := marshalStoredMessage(storedMessageFromText("user", userPrompt))
		if err != nil {
			return BatchRequest{}, nil, err
		}

		newMessages = []types.SignalRunMessage{
			{ProjectID: msg.ProjectID, RunID: run.RunID, Time: now, SerializedContent: systemRaw},
			{ProjectID: msg.ProjectID, RunID: run.RunID, Time: now.Add(time.Millisecond), SerializedContent: userRaw},
		}

		contents = []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: userPrompt}}}}
		systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	} else {
		for _, m := range existing {
			sm, err := unmarshalStoredMessage(m.SerializedContent)
			if err != nil {
				return BatchRequest{}, nil, fmt.Errorf("parse stored message: %w", err)
			}
			if sm.Role == "system" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sm.Text}}}
				continue
			}
			contents = append(contents, sm.toGenaiContent())
		}
	}

	tool, err := buildToolDefinitions(msg.StructuredOutputSchema)
	if err != nil {
		return BatchRequest{}, nil, fmt.Errorf("build tool definitions: %w", err)
	}

	req := BatchRequest{
		Key:               run.RunID,
		Contents:          contents,
		SystemInstruction: systemInstruction,
		Tools:             []*genai.Tool{tool},
	}

	return req, newMessages, nil
}

func (h *SubmissionHandler) handleFailedRuns(ctx context.Context, runs []types.SignalRun) {
	if len(runs) == 0 {
		return
	}
	if err := h.Columnar.InsertSignalRuns(ctx, runs); err != nil {
		h.logger().Error("signal submission: failed to insert failed runs", "error", err)
	}

	runIDsByProject := make(map[string][]string)
	failedByJob := make(map[string]int)
	for _, r := range runs {
		runIDsByProject[r.ProjectID] = append(runIDsByProject[r.ProjectID], r.RunID)
		if r.JobID != "" {
			failedByJob[r.JobID]++
		}
	}
	for projectID, runIDs := range runIDsByProject {
		if err := h.Columnar.DeleteSignalRunMessages(ctx, projectID, runIDs); err != nil {
			h.logger().Error("signal submission: failed to delete run messages", "project_id", projectID, "error", err)
		}
	}
	for jobID, count := range failedByJob {
		if err := h.Columnar.UpdateJobStats(ctx, jobID, 0, count); err != nil {
			h.logger().Error("signal submission: failed to update job stats", "job_id", jobID, "error", err)
		}
	}
}

func strPtr(s string) *string { return &s }
