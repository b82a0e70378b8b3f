package spans

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmnr-ai/ingest-core/pkg/blob"
	"github.com/lmnr-ai/ingest-core/pkg/cost"
	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
	"github.com/lmnr-ai/ingest-core/pkg/types"
	"github.com/lmnr-ai/ingest-core/pkg/writerouter"
)

// Canonical keys the enricher writes back into a span's attribute map
// once usage and cost are computed (step 5). Kept distinct
// from the gen_ai.* read keys so a re-ingested span's original
// provider-reported values are never shadowed by the resolver's own
// (lowercased, split) view of them.
const (
	attrWriteInputCost    = "lmnr.span.input_cost"
	attrWriteOutputCost   = "lmnr.span.output_cost"
	attrWriteTotalCost    = "lmnr.span.total_cost"
	attrWriteRequestModel = "lmnr.span.request_model"
	attrWriteResponseModel = "lmnr.span.response_model"
	attrWriteProvider     = "lmnr.span.provider"
)

// IncomingSpan is the wire shape of one element of a spans-queue batch
// payload, prior to enrichment.
type IncomingSpan struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ProjectID    string         `json:"project_id"`
	ParentSpanID *string        `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Attributes   map[string]any `json:"attributes"`
	Status       *string        `json:"status,omitempty"`
}

// Enricher runs per-span pipeline: attribute derivation,
// LLM input/output reconstruction, attribute cleanup, media
// externalization, cost write-back, and the override_parent_span
// rule.
type Enricher struct {
	Blob     blob.Store
	Cost     *cost.Resolver
	Log      *slog.Logger
}

func (e *Enricher) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Enrich transforms one IncomingSpan into its stored form. A span
// with an empty trace id is invalid and returns a
// permanent *errors.HandlerError.
func (e *Enricher) Enrich(ctx context.Context, in IncomingSpan) (types.Span, error) {
	if in.TraceID == "" {
		return types.Span{}, hcerrors.Permanent(hcerrors.KindValidation, fmt.Errorf("spans: span %s has empty trace_id", in.SpanID))
	}

	attrs := Attrs(in.Attributes)
	if attrs == nil {
		attrs = Attrs{}
	}
	spanType := types.SpanType(attrs.SpanType())

	path, hasPath := attrs.Path()
	if hasPath {
		path = ExtendPath(path, in.Name)
	} else {
		path = in.Name
	}

	out := types.Span{
		SpanID:       in.SpanID,
		TraceID:      in.TraceID,
		ProjectID:    in.ProjectID,
		ParentSpanID: in.ParentSpanID,
		Name:         in.Name,
		SpanType:     spanType,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		Status:       in.Status,
	}

	if spanType == types.SpanTypeLLM {
		if err := e.enrichLLM(ctx, in, attrs, &out); err != nil {
			return types.Span{}, err
		}
	} else if raw, ok := fallbackInputOutput(attrs); ok {
		out.Input = raw.input
		out.Output = raw.output
	}

	// override_parent_span only reroots non-LLM spans (SUPPLEMENTED
	// FEATURE 4 / spans.rs): a client-wrapped span marker on an LLM
	// span is ignored so cost/usage attribution never loses its
	// parent.
	if spanType != types.SpanTypeLLM {
		if v, ok := attrs[attrOverrideParentSpan]; ok {
			if b, ok := v.(bool); ok && b {
				out.ParentSpanID = nil
			}
		}
	}

	cleaned := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if shouldKeepAttribute(k) {
			cleaned[k] = v
		}
	}
	cleaned[attrSpanPath] = path
	out.Attributes = cleaned

	return out, nil
}

type fallback struct {
	input  json.RawMessage
	output json.RawMessage
}

// fallbackInputOutput is step 2's non-LLM branch: prefer the explicit
// lmnr.span.input/output attributes, parsing JSON when possible.
func fallbackInputOutput(attrs Attrs) (fallback, bool) {
	var f fallback
	found := false
	if raw, ok := attrs.getString(attrInput); ok {
		f.input = parseOrRawString(raw)
		found = true
	}
	if raw, ok := attrs.getString(attrOutput); ok {
		f.output = parseOrRawString(raw)
		found = true
	}
	return f, found
}

// enrichLLM reconstructs input/output in reconstructInput's order
// (lmnr.span.input/output first, then the three LLM schemas, then
// traceloop.entity.*), externalizes inline media, and computes usage
// and cost.
func (e *Enricher) enrichLLM(ctx context.Context, in IncomingSpan, attrs Attrs, out *types.Span) error {
	if raw, ok := reconstructInput(attrs); ok {
		if externalized, err := e.externalizeRaw(ctx, in.ProjectID, raw); err == nil {
			out.Input = externalized
		} else {
			e.logger().Warn("media externalization failed for span input", "span_id", in.SpanID, "error", err)
			out.Input = raw
		}
	}
	if raw, ok := reconstructOutput(attrs); ok {
		if externalized, err := e.externalizeRaw(ctx, in.ProjectID, raw); err == nil {
			out.Output = externalized
		} else {
			e.logger().Warn("media externalization failed for span output", "span_id", in.SpanID, "error", err)
			out.Output = raw
		}
	}

	inputTok, _ := attrs.InputTokens()
	outputTok, _ := attrs.OutputTokens()
	requestModel, _ := attrs.RequestModel()
	responseModel, _ := attrs.ResponseModel()
	provider, _ := attrs.ProviderName()

	var reqModelPtr, respModelPtr, providerPtr *string
	if requestModel != "" {
		reqModelPtr = &requestModel
	}
	if responseModel != "" {
		respModelPtr = &responseModel
	}
	if provider != "" {
		providerPtr = &provider
	}

	scc := cost.ExtractModelInfo(reqModelPtr, respModelPtr, providerPtr, nil)
	scc.InputTokens = types.InputTokens{Regular: int64(inputTok)}
	scc.OutputTokens = int64(outputTok)

	if out.Attributes == nil {
		out.Attributes = map[string]any{}
	}

	result, found := e.Cost.EstimateCost(ctx, scc)

	written := map[string]any{}
	if requestModel != "" {
		written[attrWriteRequestModel] = requestModel
	}
	if responseModel != "" {
		written[attrWriteResponseModel] = responseModel
	}
	if provider != "" {
		written[attrWriteProvider] = provider
	}
	written[attrGenAIInputTokens] = inputTok
	written[attrGenAIOutputTokens] = outputTok
	if found {
		written[attrWriteInputCost] = result.InputCost
		written[attrWriteOutputCost] = result.OutputCost
		written[attrWriteTotalCost] = result.InputCost + result.OutputCost
	}
	for k, v := range written {
		attrs[k] = v
	}
	return nil
}

// externalizeRaw round-trips raw into []ChatMessage for media
// externalization, returning raw unchanged (ok=false) if it isn't a
// chat-message array (e.g. the lmnr.span.input/traceloop raw-string
// fallback paths, which never carry inline media).
func (e *Enricher) externalizeRaw(ctx context.Context, projectID string, raw json.RawMessage) (json.RawMessage, error) {
	msgs, ok := messagesFromRaw(raw)
	if !ok {
		return raw, nil
	}
	msgs, err := externalizeMessages(ctx, e.Blob, projectID, msgs)
	if err != nil {
		return nil, err
	}
	return marshalMessages(msgs), nil
}

// IngestionHandler implements worker.MessageHandler for the spans
// queue: each delivery carries a JSON array of IncomingSpan to pop as
// a batch. Spans are enriched independently; an individual span's
// validation failure drops only that span, while the rest of the
// batch is still routed to the write path.
type IngestionHandler struct {
	Enricher *Enricher
	Router   *writerouter.Router
	// Queue publishes ClusteringMessage payloads for spans matching a
	// configured signal. Nil disables this fan-out.
	Queue mq.Queue
	Log   *slog.Logger
}

func (h *IngestionHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *IngestionHandler) Handle(ctx context.Context, data []byte) error {
	var incoming []IncomingSpan
	if err := json.Unmarshal(data, &incoming); err != nil {
		return hcerrors.Permanent(hcerrors.KindDeserialization, fmt.Errorf("spans: decode batch: %w", err))
	}

	byProject := make(map[string][]types.Span)
	for _, in := range incoming {
		span, err := h.Enricher.Enrich(ctx, in)
		if err != nil {
			if he, ok := hcerrors.AsHandlerError(err); ok && !he.ShouldRequeue() {
				h.logger().Warn("dropping invalid span", "span_id", in.SpanID, "error", he.Err)
				continue
			}
			return err
		}
		byProject[span.ProjectID] = append(byProject[span.ProjectID], span)
	}

	for projectID, spans := range byProject {
		if err := h.Router.WriteSpans(ctx, projectID, spans); err != nil {
			return err
		}
		publishClusteringMessages(ctx, h.Queue, h.logger(), spans)
	}
	return nil
}
