// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package status

import "sync"

// Value holds the current value of T and pushes changes to
// subscribers. The zero Value is not usable; call NewValue.
type Value[T any] struct {
	mu          sync.Mutex
	current     T
	subscribers map[*Watch[T]]struct{}
}

// NewValue returns a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:     initial,
		subscribers: make(map[*Watch[T]]struct{}),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores value and offers it to every subscriber, replacing any
// value the subscriber has not read yet.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = value
	for watch := range v.subscribers {
		watch.offer(value)
	}
}

// Watch returns a subscription whose channel immediately holds the
// current value.
func (v *Value[T]) Watch() *Watch[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan T, 1)
	watch := &Watch[T]{C: ch, ch: ch}
	watch.release = func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subscribers, watch)
	}
	v.subscribers[watch] = struct{}{}
	watch.offer(v.current)
	return watch
}

// Watch is a subscription to a Value. Read from C.
type Watch[T any] struct {
	C <-chan T

	ch      chan T
	release func()
	once    sync.Once
}

// Close stops delivery. C is not closed.
func (w *Watch[T]) Close() {
	w.once.Do(w.release)
}

// offer must be called with the owning Value's lock held, so it is the
// only sender and the send after draining cannot block.
func (w *Watch[T]) offer(value T) {
	select {
	case <-w.ch:
	default:
	}
	w.ch <- value
}
