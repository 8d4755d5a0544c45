package event

import (
	"context"
	"errors"
	"sync"
)

var ErrFeedClosed = errors.New("event: feed closed")

// Feed is the engine's single inbound stream. Next blocks until an item is
// available; ok=false is the terminal closed signal and is returned for
// every later call as well. Cancelling ctx also yields ok=false.
type Feed interface {
	Next(ctx context.Context) (ev Event, ok bool)
}

// Publisher is the producer side of a feed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ChannelFeed is an in-process feed with many producers and one consumer.
// Items are delivered in the order producers enqueued them.
type ChannelFeed struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannelFeed creates a feed buffering up to size items before Publish
// blocks.
func NewChannelFeed(size int) *ChannelFeed {
	if size < 0 {
		size = 0
	}
	return &ChannelFeed{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

func (f *ChannelFeed) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return errors.New("event: publish nil event")
	}
	select {
	case <-f.done:
		return ErrFeedClosed
	default:
	}
	select {
	case f.ch <- ev:
		return nil
	case <-f.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next drains items buffered before Close and only then reports closed.
func (f *ChannelFeed) Next(ctx context.Context) (Event, bool) {
	select {
	case ev := <-f.ch:
		return ev, true
	case <-f.done:
		select {
		case ev := <-f.ch:
			return ev, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

// Close stops accepting new items. It is safe to call more than once.
func (f *ChannelFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *ChannelFeed) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Len reports the number of buffered items.
func (f *ChannelFeed) Len() int {
	return len(f.ch)
}

// Pump copies src into dst until src closes or ctx ends, calling each tap
// with every item before publishing it.
func Pump(ctx context.Context, src Feed, dst Publisher, taps ...func(Event)) error {
	for {
		ev, ok := src.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		for _, tap := range taps {
			tap(ev)
		}
		if err := dst.Publish(ctx, ev); err != nil {
			return err
		}
	}
}

// SliceFeed yields a fixed sequence then reports closed. Replays and tests
// use it.
type SliceFeed struct {
	mu     sync.Mutex
	events []Event
	pos    int
}

func NewSliceFeed(events ...Event) *SliceFeed {
	return &SliceFeed{events: events}
}

func (f *SliceFeed) Next(ctx context.Context) (Event, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.events) {
		return nil, false
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, true
}

// Remaining is the count of items not yet yielded.
func (f *SliceFeed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events) - f.pos
}
