// Package signal implements the Signal Engine: the
// submission and pending workers that drive an LLM-as-judge tool-call
// loop against an asynchronous batch API, plus the trace-skeleton
// compression, span-tag-hyperlink rewriting, and internal-tracing
// support it depends on.
package signal

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// JobState mirrors the provider's batch job lifecycle.
type JobState string

const (
	JobStateUnspecified JobState = "JOB_STATE_UNSPECIFIED"
	JobStatePending     JobState = "JOB_STATE_PENDING"
	JobStateRunning     JobState = "JOB_STATE_RUNNING"
	JobStateSucceeded   JobState = "JOB_STATE_SUCCEEDED"
	JobStateFailed      JobState = "JOB_STATE_FAILED"
	JobStateCancelled   JobState = "JOB_STATE_CANCELLED"
	JobStateExpired     JobState = "JOB_STATE_EXPIRED"
)

// Terminal reports whether state needs no further polling.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled, JobStateExpired:
		return true
	default:
		return false
	}
}

// Fatal reports whether state is a permanent failure.
func (s JobState) Fatal() bool {
	switch s {
	case JobStateUnspecified, JobStateFailed, JobStateCancelled, JobStateExpired:
		return true
	default:
		return false
	}
}

// BatchRequest is one per-run request item of a batch submission. Key
// is the caller-chosen correlation string the provider's batch API
// echoes back unchanged on the matching response (the Gemini batch
// JSONL format's "key" field) — this is how run_id survives the round
// trip through an opaque, possibly-minutes-long async job.
type BatchRequest struct {
	Key               string
	Contents          []*genai.Content
	SystemInstruction *genai.Content
	Tools             []*genai.Tool
}

// BatchResponseItem is one inlined response, still carrying its
// request's Key for correlation.
type BatchResponseItem struct {
	Key          string
	HasError     bool
	Content      *genai.Content
	FunctionCall *genai.FunctionCall
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// BatchResult is GetBatch's translated return shape.
type BatchResult struct {
	State     JobState
	Responses []BatchResponseItem
}

// Provider is the pluggable LLM batch provider contract. Exported as
// an interface so the submission/pending workers are testable without
// a live API key.
type Provider interface {
	CreateBatch(ctx context.Context, model string, requests []BatchRequest, displayName string) (batchID string, err error)
	GetBatch(ctx context.Context, batchID string) (BatchResult, error)
}

// GeminiClient wraps google.golang.org/genai's Batches API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient constructs a GeminiClient against the Gemini API
// backend using apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("signal: create genai client: %w", err)
	}
	return &GeminiClient{client: c}, nil
}

var temperatureOne = float32(1.0)

// CreateBatch submits one inline request per run in a single batch
// creation call (step 5) and returns the provider's opaque
// batch id (the long-running operation's name).
func (g *GeminiClient) CreateBatch(ctx context.Context, model string, requests []BatchRequest, displayName string) (string, error) {
	items := make([]*genai.InlinedRequest, 0, len(requests))
	for _, r := range requests {
		items = append(items, &genai.InlinedRequest{
			Key:      r.Key,
			Contents: r.Contents,
			Config: &genai.GenerateContentConfig{
				Temperature:       &temperatureOne,
				SystemInstruction: r.SystemInstruction,
				Tools:             r.Tools,
			},
		})
	}

	job, err := g.client.Batches.Create(ctx, model, &genai.BatchJobSource{InlinedRequests: items}, &genai.CreateBatchJobConfig{DisplayName: displayName})
	if err != nil {
		return "", err
	}
	return job.Name, nil
}

// GetBatch polls the provider for batch state and, once succeeded,
// translates every inlined response into our own vocabulary.
func (g *GeminiClient) GetBatch(ctx context.Context, batchID string) (BatchResult, error) {
	job, err := g.client.Batches.Get(ctx, batchID, nil)
	if err != nil {
		return BatchResult{}, err
	}

	state := JobState(job.State)
	result := BatchResult{State: state}
	if state != JobStateSucceeded || job.Dest == nil {
		return result, nil
	}

	for _, ir := range job.Dest.InlinedResponses {
		item := BatchResponseItem{Key: ir.Key}
		if ir.Error != nil {
			item.HasError = true
			result.Responses = append(result.Responses, item)
			continue
		}
		resp := ir.Response
		if resp == nil || len(resp.Candidates) == 0 {
			item.HasError = true
			result.Responses = append(result.Responses, item)
			continue
		}

		candidate := resp.Candidates[0]
		item.Content = candidate.Content
		if resp.UsageMetadata != nil {
			item.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			item.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
		if candidate.Content != nil {
			for _, p := range candidate.Content.Parts {
				if p.FunctionCall != nil {
					item.FunctionCall = p.FunctionCall
				}
				if p.Text != "" {
					item.Text += p.Text
				}
			}
		}
		result.Responses = append(result.Responses, item)
	}
	return result, nil
}
