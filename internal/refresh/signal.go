// Package refresh provides a process-wide "alerts changed" version counter.
package refresh

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is a monotonically increasing version with subscribers.
// The zero value is not usable; call New.
type Signal struct {
	version atomic.Int64

	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]func(int64)
	watchers map[chan int64]struct{}
}

// New returns a Signal at version 0.
func New() *Signal {
	return &Signal{
		subs:     make(map[uint64]func(int64)),
		watchers: make(map[chan int64]struct{}),
	}
}

// Version returns the current version.
func (s *Signal) Version() int64 { return s.version.Load() }

// Increment bumps the version by one and notifies every current subscriber
// exactly once with the new value. Subscribers run on the caller's goroutine
// after the new version is visible.
func (s *Signal) Increment() int64 {
	s.mu.Lock()
	v := s.version.Add(1)
	fns := make([]func(int64), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	for ch := range s.watchers {
		offer(ch, v)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return v
}

// Subscribe registers fn for future increments. The returned func unsubscribes and is idempotent.
func (s *Signal) Subscribe(fn func(version int64)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Watch returns a channel carrying the latest version after each increment.
// Bursts are coalesced: a slow reader sees the newest version, not every one.
// The channel is closed when ctx ends.
func (s *Signal) Watch(ctx context.Context) <-chan int64 {
	ch := make(chan int64, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// offer replaces any unread value in ch with v without blocking.
func offer(ch chan int64, v int64) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
