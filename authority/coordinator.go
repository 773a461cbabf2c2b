// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
)

var (
	// ErrUnknownObject is returned for an object missing from the
	// local replica.
	ErrUnknownObject = errors.New("authority: unknown object")

	// ErrNotOwner is returned when an owner-only operation is
	// attempted on an object another participant owns.
	ErrNotOwner = errors.New("authority: not the object owner")

	// ErrNotSessionOwner is returned for session-owner-only
	// operations.
	ErrNotSessionOwner = errors.New("authority: not the session owner")

	// ErrDenied wraps the relay's reason for refusing a request.
	ErrDenied = errors.New("authority: request denied")
)

// Caller sends requests to the relay. *Link implements it.
type Caller interface {
	LocalID() ref.ParticipantID
	Registry() *Registry
	Call(ctx context.Context, request Request) (Ack, error)
}

// SpawnOptions describes an object to spawn.
type SpawnOptions struct {
	Kind     string
	Position geom.Vec3

	// Slot, when set by the session owner, makes the new object the
	// slot's reference in the same relay step.
	Slot string

	Frozen bool
}

// Coordinator arbitrates ownership of networked objects for the
// local participant. Transfers are optimistic: a request is granted
// in relay arrival order and the result is always re-read from the
// replica before an owner-only action.
type Coordinator struct {
	caller Caller
	logger *slog.Logger
	serial atomic.Uint64
}

// NewCoordinator returns a Coordinator sending through caller.
func NewCoordinator(caller Caller, logger *slog.Logger) *Coordinator {
	return &Coordinator{caller: caller, logger: logger}
}

// LocalID returns the local participant.
func (c *Coordinator) LocalID() ref.ParticipantID { return c.caller.LocalID() }

// Registry returns the local replica.
func (c *Coordinator) Registry() *Registry { return c.caller.Registry() }

// Lookup returns the replicated state of id.
func (c *Coordinator) Lookup(id ref.ObjectID) (Object, bool) {
	return c.caller.Registry().Lookup(id)
}

// Slot returns the object a slot references.
func (c *Coordinator) Slot(name string) ref.ObjectID {
	return c.caller.Registry().Slot(name)
}

// IsOwner reports whether the local participant owns id according
// to the replica.
func (c *Coordinator) IsOwner(id ref.ObjectID) bool {
	object, ok := c.Lookup(id)
	return ok && object.Owner == c.LocalID()
}

// IsSessionOwner reports whether the local participant is the
// session owner.
func (c *Coordinator) IsSessionOwner() bool {
	return c.caller.Registry().SessionOwner() == c.LocalID()
}

// Instantiate creates a pending object owned by the local
// participant. Other participants do not see it until Publish.
func (c *Coordinator) Instantiate(kind string, position geom.Vec3) Object {
	object := Object{
		ID:       ref.NewObjectID(c.LocalID(), c.serial.Add(1)),
		Kind:     kind,
		Owner:    c.LocalID(),
		Position: position,
		State:    StatePending,
	}
	c.caller.Registry().addPending(object)
	return object
}

// Publish announces a pending object to the relay.
func (c *Coordinator) Publish(ctx context.Context, id ref.ObjectID, slot string, frozen bool) (Object, error) {
	object, ok := c.Lookup(id)
	if !ok {
		return Object{}, fmt.Errorf("publishing %s: %w", id, ErrUnknownObject)
	}
	if object.Spawned() {
		return object, nil
	}
	ack, err := c.caller.Call(ctx, Request{
		Op:       OpSpawn,
		Object:   id,
		Kind:     object.Kind,
		Position: object.Position,
		Slot:     slot,
		Frozen:   frozen,
	})
	if err != nil {
		return Object{}, fmt.Errorf("spawning %s: %w", id, err)
	}
	if !ack.Granted {
		c.caller.Registry().removePending(id)
		return Object{}, fmt.Errorf("spawning %s: %w: %s", id, ErrDenied, ack.Reason)
	}
	spawned, ok := c.Lookup(id)
	if !ok {
		// Despawned by its new owner before the ack arrived.
		return Object{ID: id, State: StateDespawned}, nil
	}
	return spawned, nil
}

// Spawn instantiates and publishes an object in one step.
func (c *Coordinator) Spawn(ctx context.Context, options SpawnOptions) (Object, error) {
	object := c.Instantiate(options.Kind, options.Position)
	return c.Publish(ctx, object.ID, options.Slot, options.Frozen)
}

// RegisterScene announces a level-placed object. Only the session
// owner registers scene objects; registering one twice is harmless.
func (c *Coordinator) RegisterScene(ctx context.Context, name, kind string, position geom.Vec3) (ref.ObjectID, error) {
	id, err := ref.SceneObjectID(name)
	if err != nil {
		return ref.ObjectID{}, err
	}
	if !c.IsSessionOwner() {
		return ref.ObjectID{}, ErrNotSessionOwner
	}
	ack, err := c.caller.Call(ctx, Request{Op: OpSpawn, Object: id, Kind: kind, Position: position, Scene: true})
	if err != nil {
		return ref.ObjectID{}, fmt.Errorf("registering scene object %s: %w", name, err)
	}
	if !ack.Granted {
		return ref.ObjectID{}, fmt.Errorf("registering scene object %s: %w: %s", name, ErrDenied, ack.Reason)
	}
	return id, nil
}

// ChangeOwnership asks the relay to make the local participant the
// owner of id and reports whether it owns the object once the ack
// has arrived. Scene and held objects are never transferred. Losing
// a race to another participant is not an error.
func (c *Coordinator) ChangeOwnership(ctx context.Context, id ref.ObjectID) (bool, error) {
	object, ok := c.Lookup(id)
	if !ok {
		return false, fmt.Errorf("changing ownership of %s: %w", id, ErrUnknownObject)
	}
	if object.Protected() {
		return false, nil
	}
	if object.Owner == c.LocalID() {
		return true, nil
	}
	if !object.Spawned() {
		return false, nil
	}

	ack, err := c.caller.Call(ctx, Request{Op: OpChangeOwnership, Object: id})
	if err != nil {
		return false, fmt.Errorf("changing ownership of %s: %w", id, err)
	}
	if !ack.Granted {
		c.logger.Debug("ownership request denied", "object", id, "reason", ack.Reason)
		return false, nil
	}
	return c.IsOwner(id), nil
}

// TryDespawn removes id from the session if the local participant
// can own it. Pending objects are dropped locally. Otherwise
// ownership is acquired first when needed and re-validated before
// the despawn is sent; the relay checks ownership again when it
// executes the despawn. It reports whether this call removed the
// object.
func (c *Coordinator) TryDespawn(ctx context.Context, id ref.ObjectID) (bool, error) {
	object, ok := c.Lookup(id)
	if !ok {
		return false, nil
	}
	if object.Protected() {
		return false, nil
	}
	if object.State == StatePending {
		return c.caller.Registry().removePending(id), nil
	}

	if object.Owner != c.LocalID() {
		owned, err := c.ChangeOwnership(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUnknownObject) {
				return false, nil
			}
			return false, err
		}
		if !owned {
			c.logger.Debug("lost ownership race, not despawning", "object", id)
			return false, nil
		}
	}
	if !c.IsOwner(id) {
		return false, nil
	}

	ack, err := c.caller.Call(ctx, Request{Op: OpDespawn, Object: id})
	if err != nil {
		return false, fmt.Errorf("despawning %s: %w", id, err)
	}
	if !ack.Granted {
		c.logger.Debug("despawn denied", "object", id, "reason", ack.Reason)
		return false, nil
	}
	return true, nil
}

// Move updates the position of an object the local participant
// owns.
func (c *Coordinator) Move(ctx context.Context, id ref.ObjectID, position geom.Vec3) error {
	return c.ownerRequest(ctx, Request{Op: OpMove, Object: id, Position: position})
}

// SetInteracting marks an owned object as held or released. Holding
// an object unfreezes it.
func (c *Coordinator) SetInteracting(ctx context.Context, id ref.ObjectID, interacting bool) error {
	return c.ownerRequest(ctx, Request{Op: OpSetInteracting, Object: id, Interacting: interacting})
}

func (c *Coordinator) ownerRequest(ctx context.Context, request Request) error {
	object, ok := c.Lookup(request.Object)
	if !ok {
		return fmt.Errorf("%s %s: %w", request.Op, request.Object, ErrUnknownObject)
	}
	if object.Owner != c.LocalID() {
		return fmt.Errorf("%s %s: %w", request.Op, request.Object, ErrNotOwner)
	}
	if !object.Spawned() {
		return fmt.Errorf("%s %s: object is %s", request.Op, request.Object, object.State)
	}
	return c.send(ctx, request)
}

// SetSlot points a slot at id, or clears it when id is zero. Only the
// session owner assigns slots.
func (c *Coordinator) SetSlot(ctx context.Context, slot string, id ref.ObjectID) error {
	if !c.IsSessionOwner() {
		return ErrNotSessionOwner
	}
	return c.send(ctx, Request{Op: OpSetSlot, Slot: slot, Object: id})
}

// BroadcastEffect asks the relay to play an effect at position on
// every participant, this one included.
func (c *Coordinator) BroadcastEffect(ctx context.Context, position geom.Vec3) error {
	return c.send(ctx, Request{Op: OpEffect, Position: position})
}

func (c *Coordinator) send(ctx context.Context, request Request) error {
	ack, err := c.caller.Call(ctx, request)
	if err != nil {
		return fmt.Errorf("%s: %w", request.Op, err)
	}
	if !ack.Granted {
		return fmt.Errorf("%s: %w: %s", request.Op, ErrDenied, ack.Reason)
	}
	return nil
}
