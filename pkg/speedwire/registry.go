// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"sync"
	"sync/atomic"
)

// DataFunc receives a decoded telegram
type DataFunc func(Telegram)

// ErrorFunc receives a parse, receive or send failure
type ErrorFunc func(error)

// TimeoutFunc is called when no datagram arrived within the receive timeout
type TimeoutFunc func()

// observerSet is a copy-on-write list of observers. Writers serialise on mu
// and publish a fresh slice, readers iterate whatever slice was published
// when they started.
type observerSet[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   atomic.Pointer[[]entry[T]]
}

type entry[T any] struct {
	id uint64
	fn T
}

// add registers fn and returns a function that removes it again
func (s *observerSet[T]) add(fn T) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	old := s.snapshot()
	next := make([]entry[T], len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry[T]{id: id, fn: fn})
	s.list.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *observerSet[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snapshot()
	next := make([]entry[T], 0, len(old))
	for _, e := range old {
		if e.id != id {
			next = append(next, e)
		}
	}
	s.list.Store(&next)
}

func (s *observerSet[T]) snapshot() []entry[T] {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *observerSet[T]) len() int {
	return len(s.snapshot())
}

// registry holds the observers of a listener
type registry struct {
	data    observerSet[DataFunc]
	errors  observerSet[ErrorFunc]
	timeout observerSet[TimeoutFunc]
}

func (r *registry) dispatchData(t Telegram) {
	for _, e := range r.data.snapshot() {
		e.fn(t)
	}
}

func (r *registry) dispatchError(err error) {
	for _, e := range r.errors.snapshot() {
		e.fn(err)
	}
}

func (r *registry) dispatchTimeout() {
	for _, e := range r.timeout.snapshot() {
		e.fn()
	}
}
