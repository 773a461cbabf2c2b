// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package destroy

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
)

// Objects is the slice of the ownership layer a Gate needs.
// *authority.Coordinator implements it.
type Objects interface {
	Lookup(id ref.ObjectID) (authority.Object, bool)
	TryDespawn(ctx context.Context, id ref.ObjectID) (bool, error)
	BroadcastEffect(ctx context.Context, position geom.Vec3) error
}

// Effects plays a local effect. *effect.Player implements it.
type Effects interface {
	Play(at geom.Vec3)
}

// Resettable is a player character or projectile that returns to a
// recovery state instead of being destroyed.
type Resettable interface {
	Reset()
}

// Phase is the trigger volume phase of a contact.
type Phase uint8

const (
	PhaseEnter Phase = iota
	PhaseExit
)

// Contact is one collider touching the trigger volume. At most one of
// Object, Character, and Projectile is expected; when several are
// set they are considered in that order.
type Contact struct {
	Phase    Phase
	Position geom.Vec3

	// Object is set when the collider belongs to a networked
	// interactable.
	Object ref.ObjectID

	Character  Resettable
	Projectile Resettable
}

// Outcome reports which path a contact took.
type Outcome uint8

const (
	// OutcomeIgnored: exit phase, unrecognized collider, or an
	// exempt object.
	OutcomeIgnored Outcome = iota

	// OutcomeDuplicate: the object was already processed by this gate.
	OutcomeDuplicate

	// OutcomeDestroyed: the object path ran. The object was removed
	// if this participant could own it.
	OutcomeDestroyed

	// OutcomeCharacterReset and OutcomeProjectileReset: a reset path
	// ran.
	OutcomeCharacterReset
	OutcomeProjectileReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDestroyed:
		return "destroyed"
	case OutcomeCharacterReset:
		return "character-reset"
	case OutcomeProjectileReset:
		return "projectile-reset"
	}
	return "unknown"
}

// Config configures a Gate.
type Config struct {
	// Undestroyable lists object kinds the gate never destroys.
	Undestroyable []string

	// EffectOffset is added to the contact position for the local
	// destroy effect. Reset effects play at the raw contact position.
	EffectOffset geom.Vec3

	Logger *slog.Logger
}

// Gate is one destruction trigger volume. Each object is processed
// at most once for the gate's lifetime, so overlapping colliders on
// one object cannot destroy it twice.
type Gate struct {
	objects       Objects
	effects       Effects
	undestroyable map[string]struct{}
	offset        geom.Vec3
	logger        *slog.Logger

	mu        sync.Mutex
	processed map[ref.ObjectID]struct{}
}

// NewGate returns a gate.
func NewGate(objects Objects, effects Effects, config Config) (*Gate, error) {
	if objects == nil || effects == nil {
		return nil, errors.New("destroy: objects and effects are required")
	}
	if config.Logger == nil {
		return nil, errors.New("destroy: Config.Logger is required")
	}
	undestroyable := make(map[string]struct{}, len(config.Undestroyable))
	for _, kind := range config.Undestroyable {
		undestroyable[kind] = struct{}{}
	}
	return &Gate{
		objects:       objects,
		effects:       effects,
		undestroyable: undestroyable,
		offset:        config.EffectOffset,
		logger:        config.Logger,
		processed:     make(map[ref.ObjectID]struct{}),
	}, nil
}

// OnTrigger handles a contact. Only entry contacts do anything.
func (g *Gate) OnTrigger(ctx context.Context, contact Contact) (Outcome, error) {
	if contact.Phase != PhaseEnter {
		return OutcomeIgnored, nil
	}
	at := contact.Position
	switch {
	case !contact.Object.IsZero():
		return g.destroyObject(ctx, contact.Object, at.Add(g.offset))

	case contact.Character != nil:
		if err := g.objects.BroadcastEffect(ctx, at); err != nil {
			g.logger.Warn("broadcasting character reset effect failed", "error", err)
		}
		contact.Character.Reset()
		return OutcomeCharacterReset, nil

	case contact.Projectile != nil:
		if err := g.objects.BroadcastEffect(ctx, at); err != nil {
			g.logger.Warn("broadcasting projectile reset effect failed", "error", err)
		}
		contact.Projectile.Reset()
		return OutcomeProjectileReset, nil
	}
	return OutcomeIgnored, nil
}

func (g *Gate) destroyObject(ctx context.Context, id ref.ObjectID, at geom.Vec3) (Outcome, error) {
	object, ok := g.objects.Lookup(id)
	if !ok {
		g.logger.Debug("contact with unknown object", "object", id)
		return OutcomeIgnored, nil
	}
	if _, exempt := g.undestroyable[object.Kind]; exempt {
		return OutcomeIgnored, nil
	}
	if object.Interacting || object.Scene {
		return OutcomeIgnored, nil
	}

	g.mu.Lock()
	if _, seen := g.processed[id]; seen {
		g.mu.Unlock()
		g.logger.Debug("object already processed", "object", id)
		return OutcomeDuplicate, nil
	}
	g.processed[id] = struct{}{}
	g.mu.Unlock()

	removed, err := g.objects.TryDespawn(ctx, id)
	g.effects.Play(at)
	if err != nil {
		return OutcomeDestroyed, err
	}
	g.logger.Debug("destroyed object", "object", id, "removed", removed)
	return OutcomeDestroyed, nil
}

// Processed reports whether the gate has handled id.
func (g *Gate) Processed(id ref.ObjectID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.processed[id]
	return ok
}
