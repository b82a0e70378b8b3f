package spans

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnr-ai/ingest-core/pkg/cache"
	"github.com/lmnr-ai/ingest-core/pkg/cost"
	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
	"github.com/lmnr-ai/ingest-core/pkg/writerouter"
)

type fakeBlobStore struct {
	puts int
}

func (f *fakeBlobStore) Put(ctx context.Context, projectID, key string, data io.Reader, contentType string) (string, error) {
	f.puts++
	b, _ := io.ReadAll(data)
	_ = b
	return "https://blob.example/" + projectID + "/" + key, nil
}

func newEnricher(t *testing.T, blobStore *fakeBlobStore) *Enricher {
	t.Helper()
	columnar := store.NewMemoryColumnarStore()
	columnar.SeedModelCost("anthropic/claude-sonnet-4-5", types.ModelCosts{
		"input_cost_per_token":  3e-6,
		"output_cost_per_token": 1.5e-5,
	})
	resolver := cost.NewResolver(columnar, cache.NewInProcess(), time.Hour, nil)
	return &Enricher{Blob: blobStore, Cost: resolver}
}

func TestEnrichDropsEmptyTraceID(t *testing.T) {
	e := newEnricher(t, &fakeBlobStore{})
	_, err := e.Enrich(context.Background(), IncomingSpan{SpanID: uuid.NewString()})
	require.Error(t, err)
	he, ok := hcerrors.AsHandlerError(err)
	require.True(t, ok)
	assert.False(t, he.ShouldRequeue())
}

func TestEnrichDefaultSpanFallsBackToLmnrInputOutput(t *testing.T) {
	e := newEnricher(t, &fakeBlobStore{})
	in := IncomingSpan{
		SpanID:    uuid.NewString(),
		TraceID:   uuid.NewString(),
		ProjectID: uuid.NewString(),
		Name:      "retrieve",
		Attributes: map[string]any{
			attrInput:  `{"query":"hi"}`,
			attrOutput: `{"docs":[]}`,
		},
	}
	span, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, types.SpanTypeDefault, span.SpanType)
	assert.JSONEq(t, `{"query":"hi"}`, string(span.Input))
	assert.JSONEq(t, `{"docs":[]}`, string(span.Output))
	assert.NotContains(t, span.Attributes, attrInput)
	assert.NotContains(t, span.Attributes, attrOutput)
}

func TestEnrichLLMSpanComputesCostAndWritesBack(t *testing.T) {
	e := newEnricher(t, &fakeBlobStore{})
	in := IncomingSpan{
		SpanID:    uuid.NewString(),
		TraceID:   uuid.NewString(),
		ProjectID: uuid.NewString(),
		Name:      "chat",
		Attributes: map[string]any{
			attrGenAISystem:                     "anthropic.messages",
			attrGenAIRequestModel:               "claude-sonnet-4-5",
			attrGenAIResponseModel:              "claude-sonnet-4-5",
			attrGenAIInputTokens:                float64(1000),
			attrGenAIOutputTokens:               float64(500),
			attrGenAIPromptPrefix + "0.content": "hello",
		},
	}
	span, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, types.SpanTypeLLM, span.SpanType)
	assert.InDelta(t, 0.003, span.Attributes[attrWriteInputCost], 1e-9)
	assert.InDelta(t, 0.0075, span.Attributes[attrWriteOutputCost], 1e-9)
	assert.Equal(t, "anthropic", span.Attributes[attrWriteProvider])
	assert.NotContains(t, span.Attributes, attrGenAIPromptPrefix+"0.content")
}

func TestEnrichExtendsPathWithSpanName(t *testing.T) {
	e := newEnricher(t, &fakeBlobStore{})
	in := IncomingSpan{
		SpanID:    uuid.NewString(),
		TraceID:   uuid.NewString(),
		ProjectID: uuid.NewString(),
		Name:      "chat",
		Attributes: map[string]any{
			attrSpanPath: "agent.step1",
		},
	}
	span, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "agent.step1.chat", span.Attributes[attrSpanPath])
}

func TestEnrichOverrideParentSpanOnlyForNonLLM(t *testing.T) {
	e := newEnricher(t, &fakeBlobStore{})
	parent := uuid.NewString()

	nonLLM := IncomingSpan{
		SpanID:       uuid.NewString(),
		TraceID:      uuid.NewString(),
		ProjectID:    uuid.NewString(),
		ParentSpanID: &parent,
		Name:         "wrapper",
		Attributes:   map[string]any{attrOverrideParentSpan: true},
	}
	span, err := e.Enrich(context.Background(), nonLLM)
	require.NoError(t, err)
	assert.Nil(t, span.ParentSpanID)

	llm := IncomingSpan{
		SpanID:       uuid.NewString(),
		TraceID:      uuid.NewString(),
		ProjectID:    uuid.NewString(),
		ParentSpanID: &parent,
		Name:         "chat",
		Attributes: map[string]any{
			attrOverrideParentSpan: true,
			attrGenAISystem:        "openai",
		},
	}
	span2, err := e.Enrich(context.Background(), llm)
	require.NoError(t, err)
	require.NotNil(t, span2.ParentSpanID)
	assert.Equal(t, parent, *span2.ParentSpanID)
}

func TestEnrichExternalizesInlineImageMedia(t *testing.T) {
	blobStore := &fakeBlobStore{}
	e := newEnricher(t, blobStore)

	imgB64 := base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))
	parts := []ContentPart{{Type: ContentPartImage, MediaType: "image/png", Data: imgB64}}
	partsJSON, err := json.Marshal(parts)
	require.NoError(t, err)

	in := IncomingSpan{
		SpanID:    uuid.NewString(),
		TraceID:   uuid.NewString(),
		ProjectID: uuid.NewString(),
		Name:      "chat",
		Attributes: map[string]any{
			attrGenAISystem:                     "openai",
			attrGenAIPromptPrefix + "0.content": string(partsJSON),
		},
	}
	span, err := e.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, blobStore.puts)

	var msgs []ChatMessage
	require.NoError(t, json.Unmarshal(span.Input, &msgs))
	require.Len(t, msgs[0].Content.Parts, 1)
	part := msgs[0].Content.Parts[0]
	assert.Equal(t, ContentPartImageURL, part.Type)
	assert.Contains(t, part.URL, "https://blob.example/")
}

func TestIngestionHandlerDropsInvalidSpanButRoutesRest(t *testing.T) {
	blobStore := &fakeBlobStore{}
	e := newEnricher(t, blobStore)
	columnar := store.NewMemoryColumnarStore()
	relational := store.NewMemoryRelationalStore()
	projectID := uuid.NewString()
	relational.SetWorkspaceConfig(types.WorkspaceConfig{ProjectID: projectID, WorkspaceID: uuid.NewString(), DeploymentMode: types.DeploymentModeCloud})

	router := writerouter.New(columnar, relational, writerouter.Config{RequestTimeout: time.Second, ConfigCacheTTL: time.Minute})
	h := &IngestionHandler{Enricher: e, Router: router}

	good := IncomingSpan{SpanID: uuid.NewString(), TraceID: uuid.NewString(), ProjectID: projectID, Name: "a"}
	bad := IncomingSpan{SpanID: uuid.NewString(), TraceID: "", ProjectID: projectID, Name: "b"}
	payload, err := json.Marshal([]IncomingSpan{good, bad})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), payload))

	got, err := columnar.GetTraceSpans(context.Background(), projectID, good.TraceID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, good.SpanID, got[0].SpanID)
}
