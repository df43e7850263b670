package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const memoryBuffer = 64

// ErrBrokerClosed is returned after Close.
var ErrBrokerClosed = errors.New("realtime broker closed")

// MemoryBroker delivers events inside one process. It backs tests and
// single-instance development.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	events chan Event
	quit   chan struct{}
	once   sync.Once
}

func (s *memorySub) shutdown() {
	s.once.Do(func() { close(s.quit) })
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish hands ev to every current subscriber of channel without blocking.
// A subscriber whose buffer is full misses the event, as a lagging Redis
// pub/sub client would.
func (b *MemoryBroker) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for sub := range b.subs[channel] {
		select {
		case sub.events <- ev:
		case <-sub.quit:
		default:
			slog.Warn("realtime subscriber lagging, event dropped", "channel", channel, "table", ev.Table)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	sub := &memorySub{events: make(chan Event, memoryBuffer), quit: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	s := newSubscription(channel, func() error {
		sub.shutdown()
		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		return nil
	})

	go func() {
		defer close(s.done)
		for {
			select {
			case ev := <-sub.events:
				h(ev)
			case <-sub.quit:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}()
	return s, nil
}

// Subscribers reports how many subscriptions channel has.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close ends every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*memorySub]struct{})
	b.mu.Unlock()
	for _, set := range subs {
		for sub := range set {
			sub.shutdown()
		}
	}
	return nil
}
