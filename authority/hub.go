// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/netplay/lib/ref"
)

// outboundBuffer is the number of frames queued for a participant
// before the hub considers it too slow and detaches it.
const outboundBuffer = 256

// ErrHubClosed is returned by Hub methods after Run has returned.
var ErrHubClosed = errors.New("authority: hub closed")

// Member is one participant attached to a Hub. Frames delivers the
// welcome, then acks and updates in the order the hub produced them.
// Frames is closed when the member is detached or the hub stops.
type Member struct {
	ID     ref.ParticipantID
	Frames <-chan Frame
}

// Hub is the authoritative relay for one session. A single goroutine
// (Run) owns all session state and processes attach, request, and
// detach calls in arrival order, so ownership decisions need no
// locks.
type Hub struct {
	session string
	logger  *slog.Logger
	calls   chan func(*hubState)
	done    chan struct{}

	// onEmpty runs on the hub goroutine when the last member detaches.
	onEmpty func()
}

type member struct {
	id  ref.ParticipantID
	out chan Frame
}

// hubState is owned by the Run goroutine.
type hubState struct {
	hub     *Hub
	next    ref.ParticipantID
	owner   ref.ParticipantID
	order   []ref.ParticipantID
	members map[ref.ParticipantID]*member
	objects map[ref.ObjectID]*Object
	slots   map[string]ref.ObjectID

	// evict collects members whose outbound queue overflowed during
	// the current call.
	evict []ref.ParticipantID
}

// NewHub returns a hub for session. Call Run to start processing.
func NewHub(session string, logger *slog.Logger) *Hub {
	return &Hub{
		session: session,
		logger:  logger.With("session", session),
		calls:   make(chan func(*hubState)),
		done:    make(chan struct{}),
	}
}

// Run processes calls until ctx is cancelled. Every member's Frames
// channel is closed on return.
func (h *Hub) Run(ctx context.Context) {
	state := &hubState{
		hub:     h,
		next:    1,
		members: make(map[ref.ParticipantID]*member),
		objects: make(map[ref.ObjectID]*Object),
		slots:   make(map[string]ref.ObjectID),
	}
	defer func() {
		for _, m := range state.members {
			close(m.out)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case call := <-h.calls:
			call(state)
			state.flushEvictions()
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func(*hubState)) error {
	finished := make(chan struct{})
	call := func(state *hubState) {
		defer close(finished)
		fn(state)
	}
	select {
	case h.calls <- call:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Attach adds a participant. The first participant to attach becomes
// the session owner.
func (h *Hub) Attach(ctx context.Context) (*Member, error) {
	var attached *Member
	err := h.do(ctx, func(state *hubState) {
		attached = state.attach()
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

// Submit queues a request from participant. The ack is delivered on
// the participant's Frames after any updates the request caused.
func (h *Hub) Submit(ctx context.Context, participant ref.ParticipantID, seq uint64, request Request) error {
	return h.do(ctx, func(state *hubState) {
		state.handle(participant, seq, request)
	})
}

// Detach removes a participant. Its objects pass to the session
// owner; if it was the session owner, the earliest-joined remaining
// participant is promoted first. Detaching an unknown participant
// does nothing.
func (h *Hub) Detach(ctx context.Context, participant ref.ParticipantID) error {
	return h.do(ctx, func(state *hubState) {
		state.detach(participant)
	})
}

// Snapshot returns the hub's current view: session owner,
// participants in join order, and objects sorted by ID.
func (h *Hub) Snapshot(ctx context.Context) (Welcome, error) {
	var snapshot Welcome
	err := h.do(ctx, func(state *hubState) {
		snapshot = state.welcome(ref.NoParticipant)
	})
	return snapshot, err
}

func (s *hubState) attach() *Member {
	id := s.next
	s.next++
	s.broadcast(Update{Kind: UpdateParticipantJoined, Participant: id})

	m := &member{id: id, out: make(chan Frame, outboundBuffer)}
	s.members[id] = m
	s.order = append(s.order, id)
	if s.owner.IsZero() {
		s.owner = id
	}
	welcome := s.welcome(id)
	s.deliver(m, Frame{Type: FrameWelcome, Welcome: &welcome})

	s.hub.logger.Info("participant attached", "participant", id, "owner", s.owner)
	return &Member{ID: id, Frames: m.out}
}

func (s *hubState) welcome(participant ref.ParticipantID) Welcome {
	welcome := Welcome{
		Participant:  participant,
		Owner:        s.owner,
		Participants: slices.Clone(s.order),
		Slots:        make(map[string]ref.ObjectID, len(s.slots)),
	}
	for _, object := range s.objects {
		welcome.Objects = append(welcome.Objects, *object)
	}
	slices.SortFunc(welcome.Objects, func(a, b Object) int {
		return compareIDs(a.ID, b.ID)
	})
	for slot, target := range s.slots {
		welcome.Slots[slot] = target
	}
	return welcome
}

func (s *hubState) detach(participant ref.ParticipantID) {
	m, ok := s.members[participant]
	if !ok {
		return
	}
	delete(s.members, participant)
	close(m.out)
	s.order = slices.DeleteFunc(s.order, func(id ref.ParticipantID) bool { return id == participant })
	s.broadcast(Update{Kind: UpdateParticipantLeft, Participant: participant})
	s.hub.logger.Info("participant detached", "participant", participant)

	if s.owner == participant {
		s.owner = ref.NoParticipant
		if len(s.order) > 0 {
			s.owner = s.order[0]
			s.hub.logger.Info("session owner promoted", "participant", s.owner)
			s.broadcast(Update{Kind: UpdatePromoted, Participant: s.owner})
		}
	}

	if s.owner.IsZero() {
		if s.hub.onEmpty != nil {
			s.hub.onEmpty()
		}
		return
	}
	for _, object := range s.sortedObjects() {
		if object.Owner != participant {
			continue
		}
		object.Owner = s.owner
		object.Interacting = false
		s.broadcastObject(UpdateOwnerChanged, object)
	}
}

func (s *hubState) handle(participant ref.ParticipantID, seq uint64, request Request) {
	m, ok := s.members[participant]
	if !ok {
		return
	}
	ack := s.apply(participant, request)
	if !ack.Granted {
		s.hub.logger.Debug("request denied",
			"participant", participant,
			"op", request.Op,
			"object", request.Object,
			"reason", ack.Reason,
		)
	}
	if _, still := s.members[participant]; still {
		s.deliver(m, Frame{Type: FrameAck, Seq: seq, Ack: &ack})
	}
}

func denied(reason string) Ack { return Ack{Reason: reason} }

var granted = Ack{Granted: true}

func (s *hubState) apply(participant ref.ParticipantID, request Request) Ack {
	switch request.Op {
	case OpSpawn:
		return s.spawn(participant, request)
	case OpEffect:
		s.broadcast(Update{Kind: UpdateEffect, Participant: participant, Position: request.Position})
		return granted
	case OpSetSlot:
		return s.setSlot(participant, request.Slot, request.Object)
	}

	object, ok := s.objects[request.Object]
	if !ok {
		return denied("unknown object")
	}
	switch request.Op {
	case OpChangeOwnership:
		if object.Scene {
			return denied("scene object")
		}
		if object.Interacting {
			return denied("object is held")
		}
		if object.Owner != participant {
			object.Owner = participant
			s.broadcastObject(UpdateOwnerChanged, object)
		}
		return granted

	case OpDespawn:
		if object.Owner != participant {
			return denied("not owner")
		}
		if object.Scene {
			return denied("scene object")
		}
		if object.Interacting {
			return denied("object is held")
		}
		delete(s.objects, object.ID)
		for slot, target := range s.slots {
			if target == object.ID {
				delete(s.slots, slot)
				s.broadcast(Update{Kind: UpdateSlot, Slot: slot})
			}
		}
		object.State = StateDespawned
		s.broadcastObject(UpdateDespawned, object)
		return granted

	case OpMove:
		if object.Owner != participant {
			return denied("not owner")
		}
		object.Position = request.Position
		s.broadcastObject(UpdateMoved, object)
		return granted

	case OpSetInteracting:
		if object.Owner != participant {
			return denied("not owner")
		}
		object.Interacting = request.Interacting
		if request.Interacting {
			object.Frozen = false
		}
		s.broadcastObject(UpdateInteracting, object)
		return granted
	}
	return denied("unknown operation " + string(request.Op))
}

func (s *hubState) spawn(participant ref.ParticipantID, request Request) Ack {
	if request.Object.IsZero() {
		return denied("missing object ID")
	}
	if request.Scene {
		if !request.Object.IsScene() {
			return denied("scene object needs a scene ID")
		}
		if participant != s.owner {
			return denied("only the session owner registers scene objects")
		}
		if _, exists := s.objects[request.Object]; exists {
			return granted
		}
	} else {
		creator, ok := request.Object.Creator()
		if !ok || creator != participant {
			return denied("object ID not minted by requester")
		}
		if _, exists := s.objects[request.Object]; exists {
			return denied("duplicate object ID")
		}
	}

	object := &Object{
		ID:       request.Object,
		Kind:     request.Kind,
		Owner:    participant,
		Position: request.Position,
		State:    StateSpawned,
		Scene:    request.Scene,
		Frozen:   request.Frozen,
	}
	s.objects[object.ID] = object
	s.broadcastObject(UpdateSpawned, object)

	if request.Slot != "" && participant == s.owner {
		s.slots[request.Slot] = object.ID
		s.broadcast(Update{Kind: UpdateSlot, Slot: request.Slot, Target: object.ID})
	}
	return granted
}

func (s *hubState) setSlot(participant ref.ParticipantID, slot string, target ref.ObjectID) Ack {
	if slot == "" {
		return denied("missing slot")
	}
	if participant != s.owner {
		return denied("only the session owner assigns slots")
	}
	if !target.IsZero() {
		if _, ok := s.objects[target]; !ok {
			return denied("unknown object")
		}
	}
	if s.slots[slot] == target {
		return granted
	}
	if target.IsZero() {
		delete(s.slots, slot)
	} else {
		s.slots[slot] = target
	}
	s.broadcast(Update{Kind: UpdateSlot, Slot: slot, Target: target})
	return granted
}

func (s *hubState) broadcastObject(kind UpdateKind, object *Object) {
	snapshot := *object
	s.broadcast(Update{Kind: kind, Object: &snapshot})
}

// broadcast delivers update to members in join order.
func (s *hubState) broadcast(update Update) {
	for _, id := range s.order {
		s.deliver(s.members[id], Frame{Type: FrameUpdate, Update: &update})
	}
}

func (s *hubState) deliver(m *member, frame Frame) {
	if slices.Contains(s.evict, m.id) {
		return
	}
	select {
	case m.out <- frame:
	default:
		s.hub.logger.Warn("participant outbound queue full, detaching", "participant", m.id)
		s.evict = append(s.evict, m.id)
	}
}

func (s *hubState) flushEvictions() {
	for len(s.evict) > 0 {
		s.detach(s.evict[0])
		s.evict = s.evict[1:]
	}
	s.evict = nil
}

func (s *hubState) sortedObjects() []*Object {
	objects := make([]*Object, 0, len(s.objects))
	for _, object := range s.objects {
		objects = append(objects, object)
	}
	slices.SortFunc(objects, func(a, b *Object) int { return compareIDs(a.ID, b.ID) })
	return objects
}

func compareIDs(a, b ref.ObjectID) int {
	switch {
	case a.String() < b.String():
		return -1
	case a.String() > b.String():
		return 1
	}
	return 0
}
