package local

import (
	"context"
	"sync"

	"github.com/gammadia/devicepool/pool"
)

// request is an accepted provision waiting for hosts, paired with the
// ledger snapshot taken at accept time.
type request struct {
	input    pool.ProvisionInput
	snapshot pool.ProvisionOutput
}

// requestQueue is an unbounded FIFO of accepted provisions. enqueue never
// blocks; take blocks until a request or cancellation arrives. Ordering is
// strictly by enqueue time.
type requestQueue struct {
	mu      sync.Mutex
	pending []request

	// signal carries at most one wakeup; take pops one request per call and
	// re-arms the wakeup while more remain.
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		signal: make(chan struct{}, 1),
	}
}

func (q *requestQueue) enqueue(req request) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default: // a wakeup is already queued
	}
}

func (q *requestQueue) take(ctx context.Context) (request, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			req := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				// More work behind this one; keep the wakeup armed.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return request{}, ctx.Err()
		}
	}
}
