// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effect

import (
	"errors"
	"sync"

	"github.com/bureau-foundation/netplay/lib/geom"
)

// ErrExhausted is returned by Checkout when every handle is in use.
var ErrExhausted = errors.New("effect: pool exhausted")

// Handle is one pooled effect instance.
type Handle struct {
	ID       int
	Position geom.Vec3

	active bool
}

// Active reports whether the handle is checked out.
func (h *Handle) Active() bool { return h.active }

// Provider hands out effect handles. *Pool implements it.
type Provider interface {
	Checkout() (*Handle, error)
	Release(*Handle)
}

// Pool is a fixed set of reusable handles.
type Pool struct {
	mu    sync.Mutex
	idle  []*Handle
	inUse int
}

// NewPool returns a pool of size handles.
func NewPool(size int) *Pool {
	pool := &Pool{idle: make([]*Handle, 0, size)}
	for i := range size {
		pool.idle = append(pool.idle, &Handle{ID: i})
	}
	return pool
}

// Checkout takes an idle handle.
func (p *Pool) Checkout() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil, ErrExhausted
	}
	handle := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	handle.active = true
	p.inUse++
	return handle, nil
}

// Release returns a handle. Releasing an idle handle does nothing.
func (p *Pool) Release(handle *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handle == nil || !handle.active {
		return
	}
	handle.active = false
	p.inUse--
	p.idle = append(p.idle, handle)
}

// InUse returns the number of checked-out handles.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Idle returns the number of available handles.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
