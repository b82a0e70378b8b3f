package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/spans"
)

// InternalSpansExchange is the same "spans" exchange the Span
// Ingestion Worker consumes from: every step the Signal Engine takes
// is itself fed back through the ordinary ingestion pipeline as an
// LLM span, so it shows up alongside application traces rather than
// in a separate system.
const InternalSpansExchange = "spans"

// Attribute keys matching pkg/spans' recognized vocabulary. Kept as a
// small local duplicate rather than exporting pkg/spans' unexported
// constants, since this is the only caller outside that package that
// needs to set them directly instead of letting a real span carry
// them in from an SDK.
const (
	attrSpanType    = "lmnr.span.type"
	attrInput       = "lmnr.span.input"
	attrOutput      = "lmnr.span.output"
	attrGenAISystem = "gen_ai.system"
	attrInputTokens = "gen_ai.usage.input_tokens"
	attrOutputTokens = "gen_ai.usage.output_tokens"
)

// internalSpan describes one step of the tool-call loop to record as
// an LLM span.
type internalSpan struct {
	Name            string
	InternalTraceID string
	ParentSpanID    *string
	StartTime       time.Time
	EndTime         time.Time
	Input           json.RawMessage
	Output          json.RawMessage
	InputTokens     int64
	OutputTokens    int64
}

// emitInternalSpan publishes in as an LLM span on InternalSpansExchange,
// wrapped in the single-element batch shape spans.IngestionHandler
// expects. It returns the id assigned to the emitted span so callers
// can chain it as the next step's parent.
func emitInternalSpan(ctx context.Context, queue mq.Queue, projectID string, in internalSpan) (string, error) {
	spanID := uuid.NewString()

	attrs := map[string]any{
		attrSpanType:    "LLM",
		attrGenAISystem: LLMProvider,
	}
	if len(in.Input) > 0 {
		attrs[attrInput] = string(in.Input)
	}
	if len(in.Output) > 0 {
		attrs[attrOutput] = string(in.Output)
	}
	if in.InputTokens > 0 {
		attrs[attrInputTokens] = in.InputTokens
	}
	if in.OutputTokens > 0 {
		attrs[attrOutputTokens] = in.OutputTokens
	}

	incoming := spans.IncomingSpan{
		SpanID:       spanID,
		TraceID:      in.InternalTraceID,
		ProjectID:    projectID,
		ParentSpanID: in.ParentSpanID,
		Name:         in.Name,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		Attributes:   attrs,
	}

	payload, err := json.Marshal([]spans.IncomingSpan{incoming})
	if err != nil {
		return "", fmt.Errorf("signal: marshal internal span: %w", err)
	}
	if err := queue.Publish(ctx, InternalSpansExchange, InternalSpansExchange, payload); err != nil {
		return "", fmt.Errorf("signal: publish internal span: %w", err)
	}
	return spanID, nil
}
