package notify

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("notification bus closed")

const DefaultBuffer = 64

// Publisher is the side of the bus state-changing services depend on.
type Publisher interface {
	Publish(evt Event)
}

// Bus is the process-wide multicast stream. Publish never blocks: every
// subscriber owns a bounded buffer and events that do not fit are dropped for
// that subscriber only.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	buffer  int
	dropped atomic.Uint64
	log     zerolog.Logger
}

func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    log.With().Str("component", "notify").Logger(),
	}
}

// Publish hands evt to every attached subscriber. The bus lock is held for the
// whole fan-out so all subscribers observe the same order.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.log.Debug().Str("type", evt.Type).Msg("publish after close ignored")
		return
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.log.Warn().Str("subscriber", id).Str("type", evt.Type).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribe attaches a new subscriber. It only sees events published after this
// call returns.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		ID:  uuid.NewString(),
		ch:  make(chan Event, b.buffer),
		bus: b,
	}
	b.subs[sub.ID] = sub
	b.log.Debug().Str("subscriber", sub.ID).Int("subscribers", len(b.subs)).Msg("subscriber attached")
	return sub, nil
}

// Close ends every subscriber stream. Later publishes are ignored and later
// subscriptions fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.log.Info().Uint64("dropped", b.dropped.Load()).Msg("notification bus closed")
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped counts events discarded because a subscriber buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	b.log.Debug().Str("subscriber", id).Int("subscribers", len(b.subs)).Msg("subscriber detached")
}

type Subscription struct {
	ID string

	ch   chan Event
	bus  *Bus
	once sync.Once
}

// Events is closed when the subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.detach(s.ID) })
}

// Emit publishes evt as a side channel: a nil publisher or a panicking one is
// logged and never reaches the caller.
func Emit(pub Publisher, evt Event, log zerolog.Logger) {
	if pub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("type", evt.Type).Interface("panic", r).Msg("could not emit notification")
		}
	}()
	pub.Publish(evt)
}
