// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/lib/status"
)

// Participant is a roster entry.
type Participant struct {
	ID    ref.ParticipantID
	Local bool
}

// PlayerEventKind distinguishes roster events.
type PlayerEventKind int

const (
	PlayerJoined PlayerEventKind = iota
	PlayerLeft
)

func (k PlayerEventKind) String() string {
	if k == PlayerJoined {
		return "joined"
	}
	return "left"
}

// PlayerEvent reports a roster change.
type PlayerEvent struct {
	Kind        PlayerEventKind
	Participant Participant
}

// Roster tracks the participants present in the current session.
// Events are published in the order the roster changed.
type Roster struct {
	mu      sync.Mutex
	order   []ref.ParticipantID
	members map[ref.ParticipantID]Participant
	events  status.Feed[PlayerEvent]
	logger  *slog.Logger
}

// NewRoster returns an empty roster.
func NewRoster(logger *slog.Logger) *Roster {
	return &Roster{
		members: make(map[ref.ParticipantID]Participant),
		logger:  logger,
	}
}

// Join adds p and emits PlayerJoined. Adding an ID that is already
// present is logged and ignored; Join then reports false.
func (r *Roster) Join(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[p.ID]; exists {
		r.logger.Debug("participant already in roster", "participant", p.ID)
		return false
	}
	r.members[p.ID] = p
	r.order = append(r.order, p.ID)
	r.events.Publish(PlayerEvent{Kind: PlayerJoined, Participant: p})
	return true
}

// Leave removes id and emits PlayerLeft. Removing an absent ID is
// logged and ignored; Leave then reports false.
func (r *Roster) Leave(id ref.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.members[id]
	if !exists {
		r.logger.Debug("participant not in roster", "participant", id)
		return false
	}
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(candidate ref.ParticipantID) bool { return candidate == id })
	r.events.Publish(PlayerEvent{Kind: PlayerLeft, Participant: p})
	return true
}

// Lookup returns the participant with id.
func (r *Roster) Lookup(id ref.ParticipantID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[id]
	return p, ok
}

// Clear empties the roster without emitting PlayerLeft events.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[ref.ParticipantID]Participant)
	r.order = nil
}

// Snapshot returns participants in join order.
func (r *Roster) Snapshot() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.members[id])
	}
	return snapshot
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Subscribe returns a subscription to roster events.
func (r *Roster) Subscribe(buffer int) *status.Subscription[PlayerEvent] {
	return r.events.Subscribe(buffer)
}
