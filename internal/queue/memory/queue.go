// Package memory provides the in-process FIFO that feeds the dispatcher loop.
package memory

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned when pushing onto a closed queue.
var ErrClosed = errors.New("queue closed")

// FIFO is an unbounded first-in first-out queue safe for many producers and
// one consumer. Producers never block.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool
	ready  chan struct{}
}

// NewFIFO constructs an empty queue.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{
		items: queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Push appends an item and signals the consumer.
func (q *FIFO[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items.Add(item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// PopN removes and returns up to n items in insertion order.
func (q *FIFO[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || q.items.Length() == 0 {
		return nil
	}
	if n > q.items.Length() {
		n = q.items.Length()
	}
	out := make([]T, 0, n)
	for range n {
		out = append(out, q.items.Remove().(T))
	}
	return out
}

// Len reports the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Ready fires after a Push. The signal is coalesced: one receive may cover
// several pushes, so the consumer must drain with PopN.
func (q *FIFO[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes and returns whatever was still queued.
// Calling Close again returns nil.
func (q *FIFO[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	rest := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		rest = append(rest, q.items.Remove().(T))
	}
	return rest
}
