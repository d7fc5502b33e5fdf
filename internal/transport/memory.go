package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/erilali/vossync/internal/message"
)

// MemoryBus is an in-process broker. Publishes are delivered synchronously to
// every matching subscription of every connected adapter, outside the bus lock,
// so handlers may publish in turn.
type MemoryBus struct {
	mu       sync.Mutex
	adapters map[*MemoryAdapter]struct{}
	// Published records every publish for inspection in tests.
	published []Published
}

// Published is one recorded publish on a MemoryBus.
type Published struct {
	Topic   string
	Payload []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{adapters: make(map[*MemoryAdapter]struct{})}
}

// Adapter returns a new, unconnected client of the bus.
func (b *MemoryBus) Adapter() *MemoryAdapter {
	return &MemoryAdapter{bus: b, subs: make(map[string]MessageHandler)}
}

// Published returns a copy of every publish seen so far.
func (b *MemoryBus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// PublishedTo returns the publishes whose topic matches pattern.
func (b *MemoryBus) PublishedTo(pattern string) []Published {
	var out []Published
	for _, p := range b.Published() {
		if message.MatchTopic(pattern, p.Topic) {
			out = append(out, p)
		}
	}
	return out
}

// Inject delivers a payload as if some peer had published it.
func (b *MemoryBus) Inject(topic string, payload []byte) {
	b.deliver(topic, payload)
}

func (b *MemoryBus) deliver(topic string, payload []byte) {
	b.mu.Lock()
	b.published = append(b.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	var targets []MessageHandler
	for a := range b.adapters {
		targets = append(targets, a.matching(topic)...)
	}
	b.mu.Unlock()

	for _, handler := range targets {
		handler(topic, payload)
	}
}

// MemoryAdapter is a MemoryBus client implementing Adapter.
type MemoryAdapter struct {
	bus       *MemoryBus
	mu        sync.Mutex
	subs      map[string]MessageHandler
	callbacks Callbacks
	connected bool
}

func (a *MemoryAdapter) Connect(_ context.Context, _ Endpoint, callbacks Callbacks) error {
	a.mu.Lock()
	a.callbacks = callbacks
	a.connected = true
	a.mu.Unlock()

	a.bus.mu.Lock()
	a.bus.adapters[a] = struct{}{}
	a.bus.mu.Unlock()

	callbacks.stateChanged(StateConnected)
	callbacks.connected()
	return nil
}

func (a *MemoryAdapter) Disconnect(reason string) error {
	a.bus.mu.Lock()
	delete(a.bus.adapters, a)
	a.bus.mu.Unlock()

	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.subs = make(map[string]MessageHandler)
	callbacks := a.callbacks
	a.mu.Unlock()

	if wasConnected {
		callbacks.stateChanged(StateDisconnected)
		callbacks.disconnected(reason)
	}
	return nil
}

func (a *MemoryAdapter) Publish(topic string, payload []byte) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	a.bus.deliver(topic, payload)
	return nil
}

func (a *MemoryAdapter) Subscribe(pattern string, onSubscribed func(), onMessage MessageHandler) error {
	if !message.ValidPattern(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return ErrNotConnected
	}
	a.subs[pattern] = onMessage
	a.mu.Unlock()
	call(onSubscribed)
	return nil
}

func (a *MemoryAdapter) Unsubscribe(pattern string, onUnsubscribed func()) error {
	a.mu.Lock()
	delete(a.subs, pattern)
	a.mu.Unlock()
	call(onUnsubscribed)
	return nil
}

// matching is called with the bus lock held.
func (a *MemoryAdapter) matching(topic string) []MessageHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []MessageHandler
	for pattern, handler := range a.subs {
		if message.MatchTopic(pattern, topic) {
			out = append(out, handler)
		}
	}
	return out
}
