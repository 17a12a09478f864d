package pubsub

import (
	"context"
	"path"
	"sync"
)

const memoryEventBuffer = 256

type memorySubscription struct {
	key     string
	pattern bool
	ch      chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
}

// MemoryPubSub is an in-process bus for single-instance deployments and tests.
// Patterns use glob matching like Redis PSUBSCRIBE.
type MemoryPubSub struct {
	mu   sync.RWMutex
	subs map[string]*memorySubscription
}

// NewMemoryPubSub creates an empty in-process bus.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]*memorySubscription)}
}

// Publish delivers event to every matching subscriber, blocking on a full
// subscriber until ctx is done.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	targets := make([]*memorySubscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.matches(channel) {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		e := *event
		select {
		case s.ch <- &e:
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe subscribes to one channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.add(ctx, channel, false), nil
}

// SubscribePattern subscribes to channels matching a glob pattern.
func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return m.add(ctx, pattern, true), nil
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	s, ok := m.subs[channel]
	delete(m.subs, channel)
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
	return nil
}

// Close removes every subscription.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*memorySubscription)
	m.mu.Unlock()
	for _, s := range subs {
		s.cancel()
	}
	return nil
}

func (m *MemoryPubSub) add(ctx context.Context, key string, pattern bool) <-chan *Event {
	subCtx, cancel := context.WithCancel(ctx)
	s := &memorySubscription{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, memoryEventBuffer),
		ctx:     subCtx,
		cancel:  cancel,
	}

	m.mu.Lock()
	if existing, ok := m.subs[key]; ok {
		existing.cancel()
	}
	m.subs[key] = s
	m.mu.Unlock()

	// The receive side sees a closed channel once the subscription ends.
	out := make(chan *Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case e := <-s.ch:
				select {
				case out <- e:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	go func() {
		<-subCtx.Done()
		m.mu.Lock()
		if cur, ok := m.subs[key]; ok && cur == s {
			delete(m.subs, key)
		}
		m.mu.Unlock()
	}()

	return out
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.pattern {
		return s.key == channel
	}
	ok, err := path.Match(s.key, channel)
	return err == nil && ok
}
