// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"slices"
	"sync"

	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/lib/status"
)

// Registry is one participant's replica of the session: objects, slot
// references, participants, and the session owner. It changes only
// through relay updates, plus local pending objects that the relay
// has not seen.
type Registry struct {
	local ref.ParticipantID

	mu           sync.RWMutex
	owner        ref.ParticipantID
	participants []ref.ParticipantID
	objects      map[ref.ObjectID]Object
	slots        map[string]ref.ObjectID

	updates status.Feed[Update]
}

// NewRegistry builds a replica from a relay welcome.
func NewRegistry(welcome Welcome) *Registry {
	registry := &Registry{
		local:        welcome.Participant,
		owner:        welcome.Owner,
		participants: slices.Clone(welcome.Participants),
		objects:      make(map[ref.ObjectID]Object, len(welcome.Objects)),
		slots:        make(map[string]ref.ObjectID, len(welcome.Slots)),
	}
	for _, object := range welcome.Objects {
		registry.objects[object.ID] = object
	}
	for slot, target := range welcome.Slots {
		registry.slots[slot] = target
	}
	return registry
}

// LocalID returns the participant this replica belongs to.
func (r *Registry) LocalID() ref.ParticipantID { return r.local }

// Lookup returns the object with id.
func (r *Registry) Lookup(id ref.ObjectID) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	object, ok := r.objects[id]
	return object, ok
}

// Objects returns every known object sorted by ID.
func (r *Registry) Objects() []Object {
	r.mu.RLock()
	objects := make([]Object, 0, len(r.objects))
	for _, object := range r.objects {
		objects = append(objects, object)
	}
	r.mu.RUnlock()
	slices.SortFunc(objects, func(a, b Object) int { return compareIDs(a.ID, b.ID) })
	return objects
}

// Slot returns the object a slot references, or the zero ID.
func (r *Registry) Slot(name string) ref.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[name]
}

// SessionOwner returns the current session owner.
func (r *Registry) SessionOwner() ref.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Participants returns attached participants in join order.
func (r *Registry) Participants() []ref.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.participants)
}

// Subscribe delivers every applied update.
func (r *Registry) Subscribe(buffer int) *status.Subscription[Update] {
	return r.updates.Subscribe(buffer)
}

// addPending records an object created locally and not yet spawned.
func (r *Registry) addPending(object Object) {
	object.State = StatePending
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[object.ID] = object
}

// removePending drops a pending object. It reports false if the
// object is unknown or already spawned.
func (r *Registry) removePending(id ref.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	object, ok := r.objects[id]
	if !ok || object.State != StatePending {
		return false
	}
	delete(r.objects, id)
	return true
}

// apply folds a relay update into the replica and publishes it.
func (r *Registry) apply(update Update) {
	r.mu.Lock()
	switch update.Kind {
	case UpdateSpawned, UpdateOwnerChanged, UpdateMoved, UpdateInteracting:
		if update.Object != nil {
			r.objects[update.Object.ID] = *update.Object
		}
	case UpdateDespawned:
		if update.Object != nil {
			delete(r.objects, update.Object.ID)
		}
	case UpdateSlot:
		if update.Target.IsZero() {
			delete(r.slots, update.Slot)
		} else {
			r.slots[update.Slot] = update.Target
		}
	case UpdateParticipantJoined:
		if !slices.Contains(r.participants, update.Participant) {
			r.participants = append(r.participants, update.Participant)
		}
	case UpdateParticipantLeft:
		r.participants = slices.DeleteFunc(r.participants, func(id ref.ParticipantID) bool {
			return id == update.Participant
		})
	case UpdatePromoted:
		r.owner = update.Participant
	}
	r.mu.Unlock()
	r.updates.Publish(update)
}
