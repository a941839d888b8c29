// Package queue implements the bounded FIFO queues connecting the workers of the pipeline:
// the data queue (self-play workers to trainer), and the job and result queues of the evaluators.
package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by the timed operations when the deadline passes.
var ErrTimeout = errors.New("queue operation timed out")

// Queue is a bounded, many-producers many-consumers FIFO queue.
type Queue[T any] struct {
	ch chan T
}

// New creates a queue that holds up to capacity items.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Send blocks until there is room for x in the queue, or until ctx is done.
func (q *Queue[T]) Send(ctx context.Context, x T) error {
	select {
	case q.ch <- x:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTimeout is like Send, but gives up with ErrTimeout after timeout.
func (q *Queue[T]) SendTimeout(ctx context.Context, x T, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- x:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an item is available, or until ctx is done.
func (q *Queue[T]) Receive(ctx context.Context) (x T, err error) {
	select {
	case x = <-q.ch:
		return x, nil
	case <-ctx.Done():
		return x, ctx.Err()
	}
}

// ReceiveTimeout is like Receive, but gives up with ErrTimeout after timeout.
func (q *Queue[T]) ReceiveTimeout(ctx context.Context, timeout time.Duration) (x T, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case x = <-q.ch:
		return x, nil
	case <-timer.C:
		return x, ErrTimeout
	case <-ctx.Done():
		return x, ctx.Err()
	}
}

// TryReceive returns the next item if one is immediately available.
func (q *Queue[T]) TryReceive() (x T, ok bool) {
	select {
	case x = <-q.ch:
		return x, true
	default:
		return x, false
	}
}

// Len returns the approximate number of items in the queue.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
