// Package lock provides per-job mutual exclusion for the reconciler.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

// Locker scopes exclusive sections to a key. Acquire returns
// domain.ErrJobBusy when the key stays held for longer than the wait budget.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const defaultWait = 10 * time.Second

// LocalLocker is a keyed mutex for single-process deployments.
type LocalLocker struct {
	wait  time.Duration
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns an in-process locker.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &LocalLocker{wait: wait, slots: map[string]*slot{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		l.unref(key)
		return nil, domain.ErrJobBusy
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key)
		})
	}, nil
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
	}
}
