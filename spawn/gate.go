// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
)

// Authority is the slice of the ownership layer a Gate needs.
// *authority.Coordinator implements it.
type Authority interface {
	IsSessionOwner() bool
	Slot(name string) ref.ObjectID
	Lookup(id ref.ObjectID) (authority.Object, bool)
	Spawn(ctx context.Context, options authority.SpawnOptions) (authority.Object, error)
	SetSlot(ctx context.Context, slot string, id ref.ObjectID) error
}

// Config describes one dispenser slot.
type Config struct {
	// Slot is the replicated slot name. Every participant running a
	// gate for the same dispenser uses the same name.
	Slot string

	// Kind is the kind of object dispensed.
	Kind string

	// Anchor is where objects are spawned.
	Anchor geom.Vec3

	// Cooldown is the minimum time between a release and the next
	// spawn.
	Cooldown time.Duration

	// ReleaseDistance is how far the dispensed object may move from
	// the anchor before the slot lets go of it.
	ReleaseDistance float64

	// FreezeOnSpawn spawns objects frozen until first held.
	FreezeOnSpawn bool

	Logger *slog.Logger
}

// Gate keeps at most one dispensed object in a slot. Only the session
// owner spawns and releases; every other participant observes the
// replicated slot reference.
type Gate struct {
	authority Authority
	config    Config
	logger    *slog.Logger

	mu           sync.Mutex
	cooldown     time.Duration
	tracked      ref.ObjectID
	wasAuthority bool
}

// NewGate returns a gate for one slot.
func NewGate(authority Authority, config Config) (*Gate, error) {
	if authority == nil {
		return nil, errors.New("spawn: authority is required")
	}
	if config.Slot == "" {
		return nil, errors.New("spawn: Config.Slot is required")
	}
	if config.Kind == "" {
		return nil, errors.New("spawn: Config.Kind is required")
	}
	if config.Cooldown < 0 || config.ReleaseDistance <= 0 {
		return nil, fmt.Errorf("spawn: invalid cooldown %s or release distance %g", config.Cooldown, config.ReleaseDistance)
	}
	if config.Logger == nil {
		return nil, errors.New("spawn: Config.Logger is required")
	}
	return &Gate{
		authority: authority,
		config:    config,
		logger:    config.Logger.With("slot", config.Slot),
		cooldown:  config.Cooldown,
	}, nil
}

// Occupied reports whether the slot references an object.
func (g *Gate) Occupied() bool {
	return !g.authority.Slot(g.config.Slot).IsZero()
}

// Cooldown returns the time left before the next spawn.
func (g *Gate) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// Tick advances the gate by dt.
//
// A change of the slot reference, or this participant becoming the
// session owner, restarts the cooldown. While occupied, the session
// owner releases the object once it is farther than ReleaseDistance
// from the anchor or no longer exists. While empty, the cooldown
// counts down, and on the first tick that finds it elapsed the
// session owner spawns a new object into the slot.
func (g *Gate) Tick(ctx context.Context, dt time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	isAuthority := g.authority.IsSessionOwner()
	if isAuthority && !g.wasAuthority {
		g.logger.Info("spawn authority acquired, restarting cooldown")
		g.cooldown = g.config.Cooldown
	}
	g.wasAuthority = isAuthority

	current := g.authority.Slot(g.config.Slot)
	if current != g.tracked {
		g.logger.Debug("slot reference changed", "from", g.tracked, "to", current)
		g.tracked = current
		g.cooldown = g.config.Cooldown
	}

	if !isAuthority {
		return nil
	}
	if !current.IsZero() {
		return g.checkRelease(ctx, current)
	}

	if g.cooldown > 0 {
		g.cooldown -= dt
		return nil
	}
	object, err := g.authority.Spawn(ctx, authority.SpawnOptions{
		Kind:     g.config.Kind,
		Position: g.config.Anchor,
		Slot:     g.config.Slot,
		Frozen:   g.config.FreezeOnSpawn,
	})
	if err != nil {
		return fmt.Errorf("spawning into slot %s: %w", g.config.Slot, err)
	}
	g.logger.Debug("dispensed object", "object", object.ID)
	g.tracked = object.ID
	g.cooldown = g.config.Cooldown
	return nil
}

func (g *Gate) checkRelease(ctx context.Context, current ref.ObjectID) error {
	object, ok := g.authority.Lookup(current)
	if ok && geom.Distance(object.Position, g.config.Anchor) <= g.config.ReleaseDistance {
		return nil
	}
	if err := g.authority.SetSlot(ctx, g.config.Slot, ref.ObjectID{}); err != nil {
		return fmt.Errorf("releasing slot %s: %w", g.config.Slot, err)
	}
	g.logger.Debug("released object", "object", current, "present", ok)
	g.tracked = ref.ObjectID{}
	g.cooldown = g.config.Cooldown
	return nil
}

// Run ticks the gate every interval on c until ctx is done. Tick
// errors are logged and do not stop the loop.
func (g *Gate) Run(ctx context.Context, c clock.Clock, interval time.Duration) {
	ticker := c.NewTicker(interval)
	defer ticker.Stop()
	last := c.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := g.Tick(ctx, dt); err != nil && ctx.Err() == nil {
				g.logger.Warn("spawn tick failed", "error", err)
			}
		}
	}
}
