// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/bureau-foundation/netplay/lib/ref"
)

// Topology selects how participants reach each other.
type Topology string

const (
	// TopologyDistributed signals peer links through the directory
	// and requires authentication.
	TopologyDistributed Topology = "distributed"
	// TopologyLocal connects participants directly over the local
	// network without authentication. Sessions are always private.
	TopologyLocal Topology = "local"
)

// StartOptions tells a Transport how to join the session it was given.
type StartOptions struct {
	Session  Session
	Host     bool
	Topology Topology

	// Address is the direct "host:port" in the local topology: the
	// address to listen on for a host, or to dial for a client.
	Address string
}

// Transport starts the participant link for a joined session.
type Transport interface {
	Start(ctx context.Context, options StartOptions) (Link, error)
}

// Link is a running participant link.
type Link interface {
	// LocalID is the ID the session host assigned to this participant.
	LocalID() ref.ParticipantID

	// Events delivers membership changes. It is closed when the link
	// ends for any reason.
	Events() <-chan LinkEvent

	// Close ends the link.
	Close(ctx context.Context) error
}

// LinkEventKind distinguishes link events.
type LinkEventKind int

const (
	LinkParticipantJoined LinkEventKind = iota
	LinkParticipantLeft
	// LinkOwnerPromoted reports a new session owner, the participant
	// with spawn authority.
	LinkOwnerPromoted
)

// LinkEvent is a membership change observed on a link.
type LinkEvent struct {
	Kind        LinkEventKind
	Participant ref.ParticipantID
}

// Authenticator establishes the identity required by the distributed
// topology.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	Authenticated() bool
}

// NoAuthentication is the Authenticator used by the local topology.
type NoAuthentication struct{}

func (NoAuthentication) Authenticate(context.Context) error { return nil }

func (NoAuthentication) Authenticated() bool { return true }
