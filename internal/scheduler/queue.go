// Package scheduler owns the asynchronous job lifecycle: submission,
// FIFO dispatch into the orchestrator, status tracking, and cancellation.
package scheduler

import (
	"context"
	"errors"
)

// DefaultQueueCapacity bounds how many jobs may wait. The original design
// queued without bound; a cap turns an unserviceable backlog into a fast
// 503 instead of unbounded memory growth.
const DefaultQueueCapacity = 4096

// ErrQueueFull is returned when the queue cannot accept another job.
var ErrQueueFull = errors.New("job queue is full")

// Queue is a bounded FIFO of job IDs.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue with the given capacity (0 = default).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan string, capacity)}
}

// Enqueue adds a job ID without blocking.
func (q *Queue) Enqueue(jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job ID is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports how many jobs are currently queued.
func (q *Queue) Len() int { return len(q.ch) }
