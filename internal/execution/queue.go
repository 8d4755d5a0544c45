package execution

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send once the consumer is gone, and by Recv once
// the producer closed and the backlog is drained.
var ErrClosed = errors.New("execution: channel closed")

// Sender is the engine's only egress.
type Sender interface {
	Send(req Request) error
}

type queue struct {
	mu       sync.Mutex
	items    []Request
	ready    chan struct{}
	rxClosed bool
	txClosed bool
}

// Tx is the producer handle. Send never blocks: with a stalled consumer the
// backlog grows without bound.
type Tx struct{ q *queue }

// Rx is the single-consumer handle.
type Rx struct{ q *queue }

func NewQueue() (*Tx, *Rx) {
	q := &queue{ready: make(chan struct{}, 1)}
	return &Tx{q: q}, &Rx{q: q}
}

func (q *queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (t *Tx) Send(req Request) error {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	if t.q.rxClosed || t.q.txClosed {
		return ErrClosed
	}
	t.q.items = append(t.q.items, req)
	t.q.wake()
	return nil
}

// Close lets the consumer drain and then observe ErrClosed.
func (t *Tx) Close() {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	t.q.txClosed = true
	t.q.wake()
}

func (t *Tx) Len() int {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	return len(t.q.items)
}

func (r *Rx) Recv(ctx context.Context) (Request, error) {
	for {
		r.q.mu.Lock()
		if r.q.rxClosed {
			r.q.mu.Unlock()
			return Request{}, ErrClosed
		}
		if len(r.q.items) > 0 {
			req := r.q.items[0]
			r.q.items[0] = Request{}
			r.q.items = r.q.items[1:]
			if len(r.q.items) > 0 {
				r.q.wake()
			}
			r.q.mu.Unlock()
			return req, nil
		}
		if r.q.txClosed {
			r.q.mu.Unlock()
			return Request{}, ErrClosed
		}
		r.q.mu.Unlock()

		select {
		case <-r.q.ready:
		case <-ctx.Done():
			return Request{}, ctx.Err()
		}
	}
}

// Close drops the consumer; queued requests are discarded and every later
// Send fails with ErrClosed.
func (r *Rx) Close() {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	r.q.rxClosed = true
	r.q.items = nil
	r.q.wake()
}

func (r *Rx) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}
