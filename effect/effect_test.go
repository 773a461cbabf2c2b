// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effect

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

func TestPoolCheckoutAndRelease(t *testing.T) {
	pool := NewPool(2)
	first, err := pool.Checkout()
	if err != nil {
		t.Fatalf("Checkout() = %v", err)
	}
	second, err := pool.Checkout()
	if err != nil {
		t.Fatalf("Checkout() = %v", err)
	}
	if first == second {
		t.Fatal("Checkout() returned the same handle twice")
	}
	if _, err := pool.Checkout(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Checkout() on empty pool = %v, want ErrExhausted", err)
	}
	if pool.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", pool.InUse())
	}

	pool.Release(first)
	pool.Release(first)
	if pool.InUse() != 1 || pool.Idle() != 1 {
		t.Errorf("after double release InUse() = %d, Idle() = %d, want 1, 1", pool.InUse(), pool.Idle())
	}
	if first.Active() {
		t.Error("released handle still active")
	}
}

func newPlayer(t *testing.T, pool *Pool, fake *clock.FakeClock, place PlaceFunc) *Player {
	t.Helper()
	player, err := NewPlayer(PlayerConfig{
		Pool:     pool,
		Clock:    fake,
		Lifetime: time.Second,
		Place:    place,
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPlayer() = %v", err)
	}
	return player
}

func TestPlayerReleasesAfterLifetime(t *testing.T) {
	pool := NewPool(1)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	player := newPlayer(t, pool, fake, nil)

	at := geom.Vec3{X: 2, Y: 0.1}
	player.Play(at)
	if pool.InUse() != 1 {
		t.Fatalf("InUse() = %d after Play, want 1", pool.InUse())
	}

	fake.Advance(999 * time.Millisecond)
	if pool.InUse() != 1 {
		t.Fatal("handle released before its lifetime")
	}
	fake.Advance(time.Millisecond)
	if pool.InUse() != 0 {
		t.Fatal("handle not released after its lifetime")
	}

	handle, _ := pool.Checkout()
	if handle.Position != at {
		t.Errorf("handle position = %+v, want %+v", handle.Position, at)
	}
}

func TestPlayerReleasesWhenPlacementFails(t *testing.T) {
	pool := NewPool(1)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	player := newPlayer(t, pool, fake, func(*Handle, geom.Vec3) error {
		return errors.New("renderer detached")
	})

	player.Play(geom.Vec3{})
	fake.Advance(time.Second)
	if pool.InUse() != 0 {
		t.Error("handle leaked after failed placement")
	}
}

func TestPlayerSkipsWhenExhausted(t *testing.T) {
	pool := NewPool(1)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	player := newPlayer(t, pool, fake, nil)

	player.Play(geom.Vec3{})
	player.Play(geom.Vec3{})
	if fake.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1 release timer", fake.PendingCount())
	}
	fake.Advance(time.Second)
	if pool.Idle() != 1 {
		t.Errorf("Idle() = %d, want 1", pool.Idle())
	}
}
