package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"discord-rpc/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns a mailbox drained by a single goroutine, so one
// subscriber sees events in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	stop    chan struct{}
	halt    sync.Once
	removed atomic.Bool
}

func (s *subscription) shutdown() {
	s.halt.Do(func() { close(s.stop) })
}

func (s *subscription) enqueue(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) take() ([]delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q, len(q) > 0
}

// Bus is an in-process, goroutine-safe event bus. Publish never blocks on a
// handler.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventKind][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventKind][]*subscription),
		logger: logger,
	}
}

// Publish queues event for matching typed subscribers and all-event subscribers.
// Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	d := delivery{ctx: ctx, event: event}
	for _, sub := range b.typed[event.Kind] {
		sub.enqueue(d)
	}
	for _, sub := range b.allSubs {
		sub.enqueue(d)
	}
}

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run(sub)
	return sub
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.wake:
			b.drain(sub)
		case <-sub.stop:
			b.drain(sub)
			return
		}
	}
}

func (b *Bus) drain(sub *subscription) {
	for {
		batch, ok := sub.take()
		if !ok {
			return
		}
		for _, d := range batch {
			if sub.removed.Load() {
				return
			}
			b.invoke(sub, d)
		}
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Kind),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event kind.
// Returns an unsubscribe function; queued events are dropped once it runs.
func (b *Bus) Subscribe(kind domain.EventKind, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.start(handler)
	b.typed[kind] = append(b.typed[kind], sub)

	return func() {
		b.mu.Lock()
		b.typed[kind] = remove(b.typed[kind], sub.id)
		b.mu.Unlock()
		b.retire(sub)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.start(handler)
	b.allSubs = append(b.allSubs, sub)

	return func() {
		b.mu.Lock()
		b.allSubs = remove(b.allSubs, sub.id)
		b.mu.Unlock()
		b.retire(sub)
	}
}

func (b *Bus) retire(sub *subscription) {
	sub.removed.Store(true)
	sub.shutdown()
}

func remove(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes and waits for every queued event to be handled.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*subscription
	for _, typed := range b.typed {
		subs = append(subs, typed...)
	}
	subs = append(subs, b.allSubs...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
