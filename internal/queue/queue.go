// Package queue provides the in-process dispatch queue between the
// promotion scanner and the reminder dispatcher.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("dispatch queue closed")

// Kind routes an envelope to its dispatcher.
type Kind string

const (
	KindUnreadMessage Kind = "unread_message"
	KindCalling       Kind = "calling"
)

// Envelope wraps a promoted payload for queue transport.
//
// Body is the staged payload verbatim; it is re-hydrated by the consumer.
// Delivery is at-least-once: a consumer that fails mid-dispatch may see
// the same envelope again, so dispatch must stay idempotent.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue is an unbounded FIFO. Enqueue never blocks; Dequeue blocks until
// an envelope, context cancellation, or Close with an empty backlog.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	wake   chan struct{}
	closed bool
}

func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(e Envelope) error {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest envelope. It returns ErrClosed once the queue
// is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			// Shift instead of re-slicing forever so the backing array
			// does not pin dispatched envelopes.
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Re-signal so a second parked consumer is not left
				// waiting behind a coalesced wakeup.
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Envelope{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new envelopes. Pending envelopes stay dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
