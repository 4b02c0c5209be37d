// Package guard serialises mutations per game.
package guard

import (
	"context"
	"sync"
)

// Locker acquires exclusive access to key. The returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type slot struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// Registry is an in-process lock arena. Slots are created on first use and reclaimed
// when the last waiter leaves, so idle games cost nothing.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	s, ok := r.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		r.slots[key] = s
	}
	s.refs++
	r.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		r.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			r.unref(key, s)
		})
	}, nil
}

func (r *Registry) unref(key string, s *slot) {
	r.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(r.slots, key)
	}
	r.mu.Unlock()
}

// Len reports live slots (held or awaited).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Chain acquires every locker in order and releases in reverse.
type Chain []Locker

func (c Chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	undo := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.Acquire(ctx, key)
		if err != nil {
			undo()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return undo, nil
}
