package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hcerrors "github.com/lmnr-ai/ingest-core/pkg/errors"
	"github.com/lmnr-ai/ingest-core/pkg/mq"
)

type recordingHandler struct {
	handled chan []byte
	fail    *hcerrors.HandlerError
	calls   atomic.Int32
}

func (h *recordingHandler) Handle(ctx context.Context, data []byte) error {
	h.calls.Add(1)
	if h.fail != nil {
		return h.fail
	}
	h.handled <- data
	return nil
}

func testBackoff() BackoffConfig {
	return BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxElapsed: 200 * time.Millisecond}
}

func TestRuntimeAcksOnSuccessfulHandle(t *testing.T) {
	q := mq.NewMemoryQueue()
	handler := &recordingHandler{handled: make(chan []byte, 1)}
	r := &Runtime{Name: "test", Queue: q, Binding: Binding{QueueName: "q", Exchange: "ex"}, Handler: handler, Backoff: testBackoff()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunForever(ctx)

	msg, _ := json.Marshal(map[string]string{"span_id": "abc"})
	time.Sleep(10 * time.Millisecond) // let the receiver connect
	require.NoError(t, q.Publish(context.Background(), "ex", "", msg))

	select {
	case got := <-handler.handled:
		assert.JSONEq(t, string(msg), string(got))
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestRuntimeRejectsWithoutRequeueOnPermanentError(t *testing.T) {
	q := mq.NewMemoryQueue()
	handler := &recordingHandler{handled: make(chan []byte, 1), fail: hcerrors.Permanent(hcerrors.KindValidation, assertErr)}
	r := &Runtime{Name: "test", Queue: q, Binding: Binding{QueueName: "q", Exchange: "ex"}, Handler: handler, Backoff: testBackoff()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunForever(ctx)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Publish(context.Background(), "ex", "", []byte("bad")))

	// No redelivery expected; handler channel never receives because
	// the handler always "fails" without ever recording a success.
	select {
	case <-handler.handled:
		t.Fatal("handler should never report success")
	case <-time.After(50 * time.Millisecond):
	}
	// A requeued message would be redelivered at once and handled again.
	assert.Equal(t, int32(1), handler.calls.Load(), "a permanently failed message must be handled exactly once")
}

var assertErr = context.DeadlineExceeded
