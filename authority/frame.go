// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
)

// FrameType discriminates the envelopes exchanged between a
// participant and the relay.
type FrameType string

const (
	// FrameHello is the first frame a participant sends. It names the
	// session to attach to.
	FrameHello FrameType = "hello"

	// FrameWelcome answers a hello with the participant's ID and a
	// snapshot of the session.
	FrameWelcome FrameType = "welcome"

	// FrameRequest carries a participant request. Seq is chosen by the
	// participant and echoed in the matching ack.
	FrameRequest FrameType = "request"

	// FrameAck answers a request.
	FrameAck FrameType = "ack"

	// FrameUpdate carries a replicated change, broadcast to every
	// attached participant.
	FrameUpdate FrameType = "update"

	// FrameError reports a fatal protocol error before the relay
	// closes the connection.
	FrameError FrameType = "error"
)

// Frame is the CBOR envelope for every message on a relay connection.
// Exactly one payload field matching Type is set.
type Frame struct {
	Type    FrameType `cbor:"type"`
	Seq     uint64    `cbor:"seq,omitempty"`
	Hello   *Hello    `cbor:"hello,omitempty"`
	Welcome *Welcome  `cbor:"welcome,omitempty"`
	Request *Request  `cbor:"request,omitempty"`
	Ack     *Ack      `cbor:"ack,omitempty"`
	Update  *Update   `cbor:"update,omitempty"`
	Error   string    `cbor:"error,omitempty"`
}

// Hello opens a relay connection.
type Hello struct {
	Session string `cbor:"session"`
	Build   string `cbor:"build,omitempty"`
}

// Welcome is the relay's answer to Hello.
type Welcome struct {
	Participant ref.ParticipantID `cbor:"participant"`

	// Owner is the session owner: the participant that spawns
	// dispensed objects and receives orphaned ones.
	Owner ref.ParticipantID `cbor:"owner"`

	// Participants lists every attached participant in join order,
	// including the new one.
	Participants []ref.ParticipantID     `cbor:"participants"`
	Objects      []Object                `cbor:"objects,omitempty"`
	Slots        map[string]ref.ObjectID `cbor:"slots,omitempty"`
}

// Op names a request operation.
type Op string

const (
	OpSpawn           Op = "spawn"
	OpChangeOwnership Op = "change_ownership"
	OpDespawn         Op = "despawn"
	OpMove            Op = "move"
	OpSetInteracting  Op = "set_interacting"
	OpSetSlot         Op = "set_slot"
	OpEffect          Op = "effect"
)

// Request is a participant's request to the relay. Fields beyond Op
// are interpreted per operation.
type Request struct {
	Op          Op           `cbor:"op"`
	Object      ref.ObjectID `cbor:"object,omitempty"`
	Kind        string       `cbor:"kind,omitempty"`
	Position    geom.Vec3    `cbor:"position"`
	Slot        string       `cbor:"slot,omitempty"`
	Interacting bool         `cbor:"interacting,omitempty"`
	Frozen      bool         `cbor:"frozen,omitempty"`
	Scene       bool         `cbor:"scene,omitempty"`
}

// Ack is the relay's answer to a Request. A denied request changed
// nothing; Reason says why.
type Ack struct {
	Granted bool   `cbor:"granted"`
	Reason  string `cbor:"reason,omitempty"`
}

// UpdateKind names a replicated change.
type UpdateKind string

const (
	UpdateSpawned           UpdateKind = "spawned"
	UpdateOwnerChanged      UpdateKind = "owner_changed"
	UpdateMoved             UpdateKind = "moved"
	UpdateInteracting       UpdateKind = "interacting"
	UpdateDespawned         UpdateKind = "despawned"
	UpdateSlot              UpdateKind = "slot"
	UpdateEffect            UpdateKind = "effect"
	UpdateParticipantJoined UpdateKind = "participant_joined"
	UpdateParticipantLeft   UpdateKind = "participant_left"
	UpdatePromoted          UpdateKind = "promoted"
)

// Update is one replicated change.
//
// Object updates carry the object's full state after the change.
// Slot updates carry the slot name and the referenced object (zero
// when the slot was cleared). Effect updates carry a position and the
// requesting participant. Participant and promotion updates carry the
// participant.
type Update struct {
	Kind        UpdateKind        `cbor:"kind"`
	Object      *Object           `cbor:"object,omitempty"`
	Participant ref.ParticipantID `cbor:"participant,omitempty"`
	Slot        string            `cbor:"slot,omitempty"`
	Target      ref.ObjectID      `cbor:"target,omitempty"`
	Position    geom.Vec3         `cbor:"position"`
}
