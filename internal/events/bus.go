package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 256

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 64
)

// ErrClosed is returned by a closed bus.
var ErrClosed = errors.New("events: bus is closed")

// SubscriptionID identifies a subscription.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	kind    Kind
	handler func(Event)
	ch      chan Event
	done    chan struct{}
}

// Bus fans events out to subscribers. Each subscriber has its own buffered
// channel and goroutine; a subscriber that falls behind loses events rather
// than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subs        map[SubscriptionID]*subscription
	counter     uint64
	history     []Event
	historySize int
	dropped     atomic.Uint64
	closed      atomic.Bool
	wg          sync.WaitGroup
}

// NewBus creates a bus with the default history size.
func NewBus() *Bus {
	return NewBusWithHistory(DefaultHistorySize)
}

// NewBusWithHistory creates a bus that retains the last n events.
func NewBusWithHistory(n int) *Bus {
	return &Bus{
		subs:        make(map[SubscriptionID]*subscription),
		history:     make([]Event, 0, n),
		historySize: n,
	}
}

// Subscribe registers handler for one kind. An empty kind receives every event.
func (b *Bus) Subscribe(kind Kind, handler func(Event)) (SubscriptionID, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	b.mu.Lock()
	b.counter++
	sub := &subscription{
		id:      SubscriptionID(fmt.Sprintf("sub_%d", b.counter)),
		kind:    kind,
		handler: handler,
		ch:      make(chan Event, DefaultChannelBuffer),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)
	return sub.id, nil
}

func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case e := <-sub.ch:
			sub.handler(e)
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	b.mu.Unlock()
	close(sub.done)
	return nil
}

// Publish records e in history and hands it to matching subscribers.
func (b *Bus) Publish(e Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	if b.historySize > 0 {
		if len(b.history) >= b.historySize {
			b.history = b.history[1:]
		}
		b.history = append(b.history, e)
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.kind != "" && sub.kind != e.Kind {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Sink adapts the bus to the Sink callback components accept.
func (b *Bus) Sink() Sink {
	return func(e Event) { _ = b.Publish(e) }
}

// History returns up to limit recent events, oldest first. limit <= 0 returns all.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops all subscribers and waits for their goroutines.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
