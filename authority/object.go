// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"

	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
)

// SpawnState is the network lifetime of an object. It only moves
// forward: pending, spawned, despawned.
type SpawnState uint8

const (
	// StatePending objects exist only on the participant that created
	// them and have not been announced to the relay yet.
	StatePending SpawnState = iota
	StateSpawned
	StateDespawned
)

func (s SpawnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSpawned:
		return "spawned"
	case StateDespawned:
		return "despawned"
	default:
		return fmt.Sprintf("SpawnState(%d)", uint8(s))
	}
}

// Object is the replicated state of one networked interactable.
// Owner is the only participant allowed to move, hold, or despawn it.
type Object struct {
	ID       ref.ObjectID      `cbor:"id"`
	Kind     string            `cbor:"kind,omitempty"`
	Owner    ref.ParticipantID `cbor:"owner"`
	Position geom.Vec3         `cbor:"position"`
	State    SpawnState        `cbor:"state"`

	// Scene objects were placed by the level rather than spawned at
	// runtime. They never change owner and are never despawned.
	Scene bool `cbor:"scene,omitempty"`

	// Interacting is set while a participant holds the object.
	Interacting bool `cbor:"interacting,omitempty"`

	// Frozen objects ignore physics until first held.
	Frozen bool `cbor:"frozen,omitempty"`
}

// Spawned reports whether the relay knows about the object.
func (o Object) Spawned() bool { return o.State == StateSpawned }

// Protected reports whether the object is exempt from ownership
// transfer and despawn.
func (o Object) Protected() bool { return o.Scene || o.Interacting }
