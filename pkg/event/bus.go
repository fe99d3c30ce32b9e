package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Wildcard matches every event name.
const Wildcard = "*"

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 100

// Envelope is an emitted event.
type Envelope struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Listener handles an event inline.
type Listener func(ctx context.Context, e Envelope)

// Option configures a Bus.
type Option interface {
	apply(*Bus)
}

type optionFunc func(*Bus)

func (f optionFunc) apply(b *Bus) { f(b) }

// WithLogger sets the logger used to report listener panics.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	})
}

// WithBuffer sets the channel capacity of new subscriptions.
func WithBuffer(n int) Option {
	return optionFunc(func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	})
}

type listener struct {
	id   uint64
	name string
	fn   Listener
}

type subscriber struct {
	ch    chan Envelope
	names map[string]bool
}

func (s *subscriber) wants(name string) bool {
	return s.names[Wildcard] || s.names[name]
}

// Bus fans events out to listeners and subscribers. It is safe for
// concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners []listener
	subs      []*subscriber
	nextID    uint64

	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(b)
	}
	return b
}

// On registers fn for events called name, or every event for Wildcard.
// The returned function removes the listener.
func (b *Bus) On(name string, fn Listener) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, name: name, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a channel receiving events with the given names, or
// every event when names is empty.
func (b *Bus) Subscribe(names ...string) <-chan Envelope {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	if len(set) == 0 {
		set[Wildcard] = true
	}

	sub := &subscriber{ch: make(chan Envelope, b.buffer), names: set}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes a channel created by Subscribe. The channel is not
// closed; no events are sent to it once Unsubscribe returns.
func (b *Bus) Unsubscribe(ch <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.ch == ch {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Dropped returns how many deliveries to full subscriber channels were
// skipped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Emit publishes an event. Listeners run before Emit returns; subscriber
// delivery never blocks.
func (b *Bus) Emit(ctx context.Context, name string, payload any) {
	e := Envelope{Name: name, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	listeners := make([]listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.name == Wildcard || l.name == name {
			listeners = append(listeners, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		b.call(ctx, l, e)
	}

	// Sends happen under the read lock so Unsubscribe can guarantee silence.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(name) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) call(ctx context.Context, l listener, e Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", e.Name, "listener", l.name, "panic", r)
		}
	}()
	l.fn(ctx, e)
}
