// Package queue provides the bounded hand-off channel between the candidate
// producer and the trade consumer.
package queue

import (
	"context"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// Queue is a fixed-capacity FIFO of candidates. Puts never block: when the
// queue is full the newest candidate is dropped, preferring freshness of
// what is already queued over completeness.
type Queue struct {
	ch chan domain.Candidate
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan domain.Candidate, capacity)}
}

// TryPut enqueues the candidate, returning false when the queue is full.
func (q *Queue) TryPut(c domain.Candidate) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

// Get blocks up to timeout for the next candidate. The bool is false when
// the timeout expired or the context was cancelled.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (domain.Candidate, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-q.ch:
		return c, true
	case <-timer.C:
		return domain.Candidate{}, false
	case <-ctx.Done():
		return domain.Candidate{}, false
	}
}

// Len returns the number of queued candidates.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
