// Package memory provides the bounded in-process queue behind the HTTP trigger.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/healthsync/internal/syncer"
)

var (
	// ErrFull is returned by TryEnqueue when the queue has no free slot.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan syncer.Request
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan syncer.Request, capacity),
	}
}

// Enqueue pushes a request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req syncer.Request) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// TryEnqueue pushes a request without waiting.
func (q *Queue) TryEnqueue(req syncer.Request) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (syncer.Request, error) {
	select {
	case <-ctx.Done():
		return syncer.Request{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return syncer.Request{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports the number of waiting requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
