// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscription buffer used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// Feed fans events out to subscribers. The zero Feed is ready to use.
type Feed[T any] struct {
	mu          sync.Mutex
	subscribers map[*Subscription[T]]struct{}
}

// Subscribe registers a subscriber with room for buffer undelivered
// events.
func (f *Feed[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	subscription := &Subscription[T]{C: ch, ch: ch}
	subscription.release = func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers, subscription)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers == nil {
		f.subscribers = make(map[*Subscription[T]]struct{})
	}
	f.subscribers[subscription] = struct{}{}
	return subscription
}

// Publish delivers event to every subscriber without blocking.
func (f *Feed[T]) Publish(event T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for subscription := range f.subscribers {
		select {
		case subscription.ch <- event:
		default:
			subscription.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Subscription receives events from a Feed on C.
type Subscription[T any] struct {
	C <-chan T

	ch      chan T
	dropped atomic.Uint64
	release func()
	once    sync.Once
}

// Dropped returns how many events did not fit the buffer.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. C is not closed.
func (s *Subscription[T]) Close() {
	s.once.Do(s.release)
}
