package local

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gammadia/devicepool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newRequestQueue()
	for i := 0; i < 5; i++ {
		q.enqueue(request{input: pool.ProvisionInput{ID: fmt.Sprintf("p%d", i), Amount: 1}})
	}

	for i := 0; i < 5; i++ {
		req, err := q.take(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("p%d", i), req.input.ID)
	}
}

func TestQueueTakeBlocksUntilEnqueue(t *testing.T) {
	q := newRequestQueue()

	taken := make(chan request, 1)
	go func() {
		req, err := q.take(context.Background())
		require.NoError(t, err)
		taken <- req
	}()

	select {
	case <-taken:
		t.Fatal("take returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.enqueue(request{input: pool.ProvisionInput{ID: "p1", Amount: 1}})

	select {
	case req := <-taken:
		assert.Equal(t, "p1", req.input.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for take to unblock")
	}
}

func TestQueueTakeCancelled(t *testing.T) {
	q := newRequestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := q.take(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
