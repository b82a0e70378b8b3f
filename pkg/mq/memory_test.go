package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePublishDeliversToReceiver(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	recv, err := q.GetReceiver(ctx, "test-queue", "test-exchange", "")
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "test-exchange", "", []byte(`{"hello":"world"}`)))

	d, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.JSONEq(t, `{"hello":"world"}`, string(d.Data()))
}

func TestMemoryQueueRejectWithRequeueRedelivers(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	recv, err := q.GetReceiver(ctx, "q", "ex", "")
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, "ex", "", []byte("msg")))

	d, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Acker().Reject(ctx, true))

	redelivered, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "msg", string(redelivered.Data()))
}

func TestMemoryQueueRejectWithoutRequeueDropsMessage(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	recv, err := q.GetReceiver(ctx, "q", "ex", "")
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, "ex", "", []byte("msg")))

	d, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Acker().Reject(ctx, false))

	ctxTimeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = recv.Receive(ctxTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueCloseCausesCleanReceiveReturn(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	recv, err := q.GetReceiver(ctx, "q", "ex", "")
	require.NoError(t, err)

	require.NoError(t, q.Close())

	d, err := recv.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestWaitingQueueRedeliversAfterTTL(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	pendingRecv, err := q.GetReceiver(ctx, "signal_pending", "signal_pending_ex", "")
	require.NoError(t, err)

	require.NoError(t, q.DeclareWaitingQueue(ctx, "signal_waiting_ex", 0, "signal_pending_ex", ""))
	require.NoError(t, q.Publish(ctx, "signal_waiting_ex", "", []byte("batch-123")))

	ctxTimeout, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	d, err := pendingRecv.Receive(ctxTimeout)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "batch-123", string(d.Data()))
}
