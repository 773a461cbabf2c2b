// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/destroy"
	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/config"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/spawn"
)

// The scene has one dispenser and one destruction volume.
const (
	dispenserSlot = "dispenser"
	dispensedKind = "crate"
	trophyKind    = "trophy"
)

var dispenserAnchor = geom.Vec3{Y: 1}

// errNotConnected is returned by world operations without a link.
var errNotConnected = errors.New("not connected to a session")

type worldConfig struct {
	Spawner config.SpawnerConfig
	Effects destroy.Effects
	Offset  geom.Vec3
	Clock   clock.Clock
	Logger  *slog.Logger
}

// world binds the scene's spawn and destruction gates to the
// ownership layer of the current link. Gates are rebuilt for every
// link so no per-object state survives a disconnect.
type world struct {
	config worldConfig

	mu        sync.Mutex
	authority *authority.Coordinator
	spawner   *spawn.Gate
	destroyer *destroy.Gate
	cancel    context.CancelFunc
	done      chan struct{}
}

func newWorld(config worldConfig) (*world, error) {
	if config.Effects == nil || config.Clock == nil || config.Logger == nil {
		return nil, errors.New("world requires effects, a clock, and a logger")
	}
	return &world{config: config}, nil
}

// attach binds the gates to coordinator and starts the dispenser.
// Attaching the coordinator already bound is a no-op.
func (w *world) attach(ctx context.Context, coordinator *authority.Coordinator) error {
	w.mu.Lock()
	bound := w.authority == coordinator
	w.mu.Unlock()
	if bound {
		return nil
	}
	w.detach()

	spawner, err := spawn.NewGate(coordinator, spawn.Config{
		Slot:            dispenserSlot,
		Kind:            dispensedKind,
		Anchor:          dispenserAnchor,
		Cooldown:        w.config.Spawner.Cooldown,
		ReleaseDistance: w.config.Spawner.ReleaseDistance,
		FreezeOnSpawn:   w.config.Spawner.FreezeOnSpawn,
		Logger:          w.config.Logger,
	})
	if err != nil {
		return err
	}
	destroyer, err := destroy.NewGate(coordinator, w.config.Effects, destroy.Config{
		Undestroyable: []string{trophyKind},
		EffectOffset:  w.config.Offset,
		Logger:        w.config.Logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		spawner.Run(runCtx, w.config.Clock, w.config.Spawner.TickInterval)
	}()

	w.mu.Lock()
	w.authority = coordinator
	w.spawner = spawner
	w.destroyer = destroyer
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()
	return nil
}

// detach stops the dispenser and discards both gates.
func (w *world) detach() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.authority, w.spawner, w.destroyer = nil, nil, nil
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *world) bound() (*authority.Coordinator, *destroy.Gate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.authority == nil {
		return nil, nil, errNotConnected
	}
	return w.authority, w.destroyer, nil
}

// objects lists the replicated objects.
func (w *world) objects() ([]authority.Object, error) {
	coordinator, _, err := w.bound()
	if err != nil {
		return nil, err
	}
	return coordinator.Registry().Objects(), nil
}

// spawn publishes a new object. Any participant may spawn.
func (w *world) spawn(ctx context.Context, kind string, at geom.Vec3) (authority.Object, error) {
	coordinator, _, err := w.bound()
	if err != nil {
		return authority.Object{}, err
	}
	return coordinator.Spawn(ctx, authority.SpawnOptions{Kind: kind, Position: at})
}

// move takes ownership of id if needed and moves it. It reports false
// when another participant holds the object or won the ownership race.
func (w *world) move(ctx context.Context, id ref.ObjectID, to geom.Vec3) (bool, error) {
	coordinator, _, err := w.bound()
	if err != nil {
		return false, err
	}
	owned, err := coordinator.ChangeOwnership(ctx, id)
	if err != nil || !owned {
		return false, err
	}
	if err := coordinator.Move(ctx, id, to); err != nil {
		return false, fmt.Errorf("moving %s: %w", id, err)
	}
	return true, nil
}

// drop runs id through the destruction volume at its current position.
func (w *world) drop(ctx context.Context, id ref.ObjectID) (destroy.Outcome, error) {
	coordinator, destroyer, err := w.bound()
	if err != nil {
		return destroy.OutcomeIgnored, err
	}
	object, ok := coordinator.Lookup(id)
	if !ok {
		return destroy.OutcomeIgnored, fmt.Errorf("%s: %w", id, authority.ErrUnknownObject)
	}
	return destroyer.OnTrigger(ctx, destroy.Contact{
		Phase:    destroy.PhaseEnter,
		Position: object.Position,
		Object:   id,
	})
}

// dispenser reports whether the slot is occupied and the cooldown left.
func (w *world) dispenser() (occupied bool, cooldown string, err error) {
	w.mu.Lock()
	spawner := w.spawner
	w.mu.Unlock()
	if spawner == nil {
		return false, "", errNotConnected
	}
	return spawner.Occupied(), spawner.Cooldown().String(), nil
}
