// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "context"

// Session property keys.
const (
	// PropertyBuild holds the creator's build id.
	PropertyBuild = "b"
	// PropertyScene holds the active scene.
	PropertyScene = "s"
	// PropertyEditor is "true" when the session should be hidden from
	// listings.
	PropertyEditor = "e"
	// PropertyJoinAddress holds the host's direct transport address
	// in the local topology.
	PropertyJoinAddress = "j"
	// PropertyRegion holds the creator's region.
	PropertyRegion = "r"
)

// Descriptor is a directory listing entry.
type Descriptor struct {
	ID             string            `cbor:"id"`
	Name           string            `cbor:"name"`
	Code           string            `cbor:"code,omitempty"`
	MaxPlayers     int               `cbor:"max_players"`
	AvailableSlots int               `cbor:"available_slots"`
	IsPrivate      bool              `cbor:"is_private"`
	Properties     map[string]string `cbor:"properties,omitempty"`
}

// PlayerCount returns the "taken/max" label shown in session lists.
func (d Descriptor) PlayerCount() (taken, max int) {
	return d.MaxPlayers - d.AvailableSlots, d.MaxPlayers
}

// CreateOptions describes a session to create or join.
type CreateOptions struct {
	// ID is the session ID. If a session with this ID exists it is
	// joined instead.
	ID         string            `cbor:"id"`
	Name       string            `cbor:"name"`
	MaxPlayers int               `cbor:"max_players"`
	IsPrivate  bool              `cbor:"is_private"`
	Properties map[string]string `cbor:"properties,omitempty"`
}

// Directory is the session directory service.
type Directory interface {
	// QuerySessions lists public sessions in a stable order.
	QuerySessions(ctx context.Context) ([]Descriptor, error)

	// CreateOrJoin creates the session described by options, or joins
	// it if its ID already exists.
	CreateOrJoin(ctx context.Context, options CreateOptions) (Session, error)

	// JoinByID joins a listed session.
	JoinByID(ctx context.Context, id string) (Session, error)

	// JoinByCode joins a session by its short room code, including
	// private sessions.
	JoinByCode(ctx context.Context, code string) (Session, error)
}

// Session is a joined session. Only the host may rename it or change
// its privacy.
type Session interface {
	// Describe returns a snapshot of the session as last seen.
	Describe() Descriptor

	// IsHost reports whether the local participant created it.
	IsHost() bool

	// Subscribe registers fn to be called with the new descriptor when
	// the session's name, code, or properties change. The returned
	// function cancels the subscription.
	Subscribe(fn func(Descriptor)) (cancel func())

	// Leave gives up the session's slot.
	Leave(ctx context.Context) error

	// SetName renames the session. Host only.
	SetName(ctx context.Context, name string) error

	// SetPrivate changes whether the session appears in listings.
	// Host only.
	SetPrivate(ctx context.Context, private bool) error
}
