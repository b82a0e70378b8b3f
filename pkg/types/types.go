// Package types holds the shared data model: the entities every
// other package (spans, cost, clustering, signal, writerouter, store)
// passes between each other. Field names follow semantic naming
// rather than any particular wire encoding.
package types

import (
	"encoding/json"
	"time"
)

// SpanType enumerates the kinds of span the pipeline recognizes.
type SpanType string

const (
	SpanTypeDefault       SpanType = "DEFAULT"
	SpanTypeLLM           SpanType = "LLM"
	SpanTypePipeline      SpanType = "PIPELINE"
	SpanTypeExecutor      SpanType = "EXECUTOR"
	SpanTypeEvaluator     SpanType = "EVALUATOR"
	SpanTypeHumanEvaluator SpanType = "HUMAN_EVALUATOR"
	SpanTypeEvaluation    SpanType = "EVALUATION"
	SpanTypeTool          SpanType = "TOOL"
)

// Span is the immutable-after-commit span record. Conflict on
// (SpanID, ProjectID) overwrites every mutable field atomically.
type Span struct {
	SpanID        string          `json:"span_id"`
	TraceID       string          `json:"trace_id"`
	ProjectID     string          `json:"project_id"`
	ParentSpanID  *string         `json:"parent_span_id,omitempty"`
	Name          string          `json:"name"`
	SpanType      SpanType        `json:"span_type"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Attributes    map[string]any  `json:"attributes"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Status        *string         `json:"status,omitempty"`
	InputURL      *string         `json:"input_url,omitempty"`
	OutputURL     *string         `json:"output_url,omitempty"`
}

// InputTokens is the triple whose sum feeds tiered-pricing
// thresholds.
type InputTokens struct {
	Regular    int64 `json:"regular"`
	CacheWrite int64 `json:"cache_write"`
	CacheRead  int64 `json:"cache_read"`
}

// Total returns the sum of all three buckets.
func (t InputTokens) Total() int64 {
	return t.Regular + t.CacheWrite + t.CacheRead
}

// SpanCostContext is derived per span for cost calculation.
type SpanCostContext struct {
	Provider              *string
	Region                *string
	Model                 *string
	RawModel              *string
	ServiceTier           *string
	IsBatch               bool
	InputTokens           InputTokens
	OutputTokens          int64
	ReasoningTokens       int64
	AudioInputTokens      int64
	AudioOutputTokens     int64
	CacheCreation5mTokens int64
	CacheCreation1hTokens int64
}

// ModelCosts is the documented per-token pricing object; suffix
// precedence is resolved in pkg/cost.
type ModelCosts map[string]float64

// CostResult is the Model Cost Resolver's output.
type CostResult struct {
	InputCost  float64
	OutputCost float64
}

// DeploymentMode selects the Write Router's path for a project.
type DeploymentMode string

const (
	DeploymentModeCloud  DeploymentMode = "cloud"
	DeploymentModeHybrid DeploymentMode = "hybrid"
)

// WorkspaceConfig is the per-project write-routing config.
type WorkspaceConfig struct {
	WorkspaceID    string
	ProjectID      string
	DeploymentMode DeploymentMode
	DataPlaneURL   *string
}

// SignalEventRef identifies the signal a ClusteringMessage belongs to.
type SignalEventRef struct {
	SignalID string `json:"signal_id"`
}

// ClusteringMessage is one event to be grouped by (ProjectID, SignalID)
// before downstream delivery.
type ClusteringMessage struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	SignalEvent   SignalEventRef `json:"signal_event"`
	ValueTemplate string         `json:"value_template"`
}

func (m ClusteringMessage) UniqueID() string { return m.ID }

// ClusteringBatch accumulates ClusteringMessages for one
// (ProjectID, SignalID) key.
type ClusteringBatch struct {
	Messages  []ClusteringMessage
	LastFlush time.Time
}

// NewClusteringBatch starts a batch whose LastFlush is "now".
func NewClusteringBatch(now time.Time) *ClusteringBatch {
	return &ClusteringBatch{LastFlush: now}
}

// Signal is a configured LLM-as-judge evaluator definition.
type Signal struct {
	ID                    string
	Name                  string
	DeveloperPrompt       string
	StructuredOutputSchema json.RawMessage
	Model                 string
	Provider              string
}

// RunStatus is a SignalRun's lifecycle state.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SignalRun is one-iteration-of-evaluation record.
// Invariant: Step <= MaxSteps (5); exceeding terminates as Failed.
type SignalRun struct {
	RunID           string
	ProjectID       string
	JobID           string
	SignalID        string
	TraceID         string
	Status          RunStatus
	Step            int
	InternalTraceID string
	InternalSpanID  string
	Time            time.Time
	EventID         *string
	ErrorMessage    *string
}

// SignalRunMessage is one append-only stored turn in a run's
// conversation.
type SignalRunMessage struct {
	ProjectID        string
	RunID            string
	Time             time.Time
	SerializedContent json.RawMessage
}

// SignalRunRef names one run inside a submission/pending batch
// message.
type SignalRunRef struct {
	RunID           string `json:"run_id"`
	TraceID         string `json:"trace_id"`
	InternalTraceID string `json:"internal_trace_id"`
	InternalSpanID  string `json:"internal_span_id"`
	Step            int    `json:"step"`
}

// SignalJobSubmissionBatchMessage is one queue payload submitting a
// batch of runs to the LLM provider.
type SignalJobSubmissionBatchMessage struct {
	ProjectID              string          `json:"project_id"`
	JobID                  string          `json:"job_id"`
	SignalID               string          `json:"signal_id"`
	SignalName             string          `json:"signal_name"`
	DeveloperPrompt        string          `json:"developer_prompt"`
	StructuredOutputSchema json.RawMessage `json:"structured_output_schema"`
	Model                  string          `json:"model"`
	Provider               string          `json:"provider"`
	Runs                   []SignalRunRef  `json:"runs"`
}

func (m SignalJobSubmissionBatchMessage) UniqueID() string {
	return m.JobID + ":" + m.SignalID + ":submission"
}

// SignalJobPendingBatchMessage is the same run list plus the opaque
// provider batch id.
type SignalJobPendingBatchMessage struct {
	ProjectID              string          `json:"project_id"`
	JobID                  string          `json:"job_id"`
	SignalID               string          `json:"signal_id"`
	SignalName             string          `json:"signal_name"`
	StructuredOutputSchema json.RawMessage `json:"structured_output_schema"`
	Model                  string          `json:"model"`
	Provider               string          `json:"provider"`
	Runs                   []SignalRunRef  `json:"runs"`
	BatchID                string          `json:"batch_id"`
}

func (m SignalJobPendingBatchMessage) UniqueID() string {
	return m.BatchID
}

// EventSource distinguishes how an Event was produced; the signal
// engine always produces Semantic events.
type EventSource string

const (
	EventSourceSemantic EventSource = "SEMANTIC"
)

// Event is the emitted-identification record.
type Event struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ProjectID  string         `json:"project_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	Source     EventSource    `json:"source"`
}

// Table names the columnar-store destination tables a write can
// target.
type Table string

const (
	TableSpans                      Table = "spans"
	TableTraces                      Table = "traces"
	TableEvents                      Table = "events"
	TableTags                        Table = "tags"
	TableDatapoints                  Table = "datapoints"
	TableEvaluationDatapoints        Table = "evaluation_datapoints"
	TableEvaluationDatapointOutputs  Table = "evaluation_datapoint_outputs"
	TableEvaluationScores            Table = "evaluation_scores"
	TableEvaluatorScores              Table = "evaluator_scores"
	TableBrowserEvents                Table = "browser_events"
)

// WriteData is the sparse per-table payload the Write Router forwards
// to a Hybrid deployment's data plane.
type WriteData struct {
	Spans                     []Span          `json:"spans,omitempty"`
	Traces                    []json.RawMessage `json:"traces,omitempty"`
	Events                    []Event         `json:"events,omitempty"`
	Tags                      []json.RawMessage `json:"tags,omitempty"`
	Datapoints                []json.RawMessage `json:"datapoints,omitempty"`
	EvaluationDatapoints       []json.RawMessage `json:"evaluation_datapoints,omitempty"`
	EvaluationDatapointOutputs []json.RawMessage `json:"evaluation_datapoint_outputs,omitempty"`
	EvaluationScores           []json.RawMessage `json:"evaluation_scores,omitempty"`
	EvaluatorScore             json.RawMessage   `json:"evaluator_score,omitempty"`
	BrowserEvents              []json.RawMessage `json:"browser_events,omitempty"`
}

// DataPlaneWriteRequest is the HTTP body of a Hybrid-mode write
//.
type DataPlaneWriteRequest struct {
	Table Table     `json:"table"`
	Data  WriteData `json:"data"`
}
