package events

import (
	"context"
	"sync"
	"time"
)

// MemoryBus delivers events inside one process. Slow subscribers drop events
// rather than block the publisher.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[chan Event]struct{}{}, buffer: 16}
}

func (b *MemoryBus) Publish(_ context.Context, ownerID, eventType string, payload Payload) error {
	ev := Event{Type: eventType, OwnerID: ownerID, Payload: payload, At: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel(ownerID)] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error) {
	key := channel(ownerID)
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = map[chan Event]struct{}{}
	}
	b.subs[key][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], ch)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// Recorder is a Publisher that keeps every event, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ownerID, eventType string, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, OwnerID: ownerID, Payload: payload, At: time.Now().UTC()})
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
