// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub("test-session", testutil.DiscardLogger())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func attach(t *testing.T, hub *Hub) *Member {
	t.Helper()
	member, err := hub.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	frame := nextFrame(t, member)
	if frame.Type != FrameWelcome {
		t.Fatalf("first frame = %q, want welcome", frame.Type)
	}
	return member
}

func nextFrame(t *testing.T, member *Member) Frame {
	t.Helper()
	return testutil.RequireReceive(t, member.Frames, 5*time.Second, "frame for participant", member.ID)
}

func nextUpdate(t *testing.T, member *Member, kind UpdateKind) Update {
	t.Helper()
	frame := nextFrame(t, member)
	if frame.Type != FrameUpdate || frame.Update.Kind != kind {
		t.Fatalf("participant %d got %s frame %+v, want %s update", member.ID, frame.Type, frame.Update, kind)
	}
	return *frame.Update
}

func nextAck(t *testing.T, member *Member, seq uint64) Ack {
	t.Helper()
	frame := nextFrame(t, member)
	if frame.Type != FrameAck || frame.Seq != seq {
		t.Fatalf("participant %d got %s frame seq %d, want ack %d", member.ID, frame.Type, frame.Seq, seq)
	}
	return *frame.Ack
}

func submit(t *testing.T, hub *Hub, member *Member, seq uint64, request Request) {
	t.Helper()
	if err := hub.Submit(context.Background(), member.ID, seq, request); err != nil {
		t.Fatalf("Submit(%s) = %v", request.Op, err)
	}
}

func TestHubAttachOrder(t *testing.T) {
	hub := startHub(t)
	first, err := hub.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	welcome := nextFrame(t, first).Welcome
	if welcome.Participant != 1 || welcome.Owner != 1 || len(welcome.Participants) != 1 {
		t.Fatalf("first welcome = %+v", welcome)
	}

	second, err := hub.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	welcome = nextFrame(t, second).Welcome
	if welcome.Participant != 2 || welcome.Owner != 1 {
		t.Fatalf("second welcome = %+v", welcome)
	}
	if len(welcome.Participants) != 2 || welcome.Participants[0] != 1 || welcome.Participants[1] != 2 {
		t.Errorf("participants = %v, want [1 2]", welcome.Participants)
	}
	if update := nextUpdate(t, first, UpdateParticipantJoined); update.Participant != 2 {
		t.Errorf("joined participant = %d, want 2", update.Participant)
	}
}

func TestHubAckFollowsUpdates(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	other := attach(t, hub)
	nextUpdate(t, owner, UpdateParticipantJoined)

	id := ref.NewObjectID(owner.ID, 1)
	submit(t, hub, owner, 7, Request{Op: OpSpawn, Object: id, Kind: "crate", Position: geom.Vec3{X: 1}})

	spawned := nextUpdate(t, owner, UpdateSpawned)
	if spawned.Object.ID != id || spawned.Object.Owner != owner.ID || spawned.Object.State != StateSpawned {
		t.Errorf("spawned object = %+v", spawned.Object)
	}
	if ack := nextAck(t, owner, 7); !ack.Granted {
		t.Errorf("spawn ack = %+v, want granted", ack)
	}
	if seen := nextUpdate(t, other, UpdateSpawned); seen.Object.ID != id {
		t.Errorf("other participant saw %v", seen.Object.ID)
	}
}

func TestHubSpawnValidation(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	other := attach(t, hub)
	nextUpdate(t, owner, UpdateParticipantJoined)

	door, _ := ref.SceneObjectID("door")
	tests := []struct {
		name    string
		member  *Member
		request Request
	}{
		{"missing id", owner, Request{Op: OpSpawn}},
		{"foreign id", other, Request{Op: OpSpawn, Object: ref.NewObjectID(owner.ID, 1)}},
		{"scene from non-owner", other, Request{Op: OpSpawn, Object: door, Scene: true}},
		{"scene flag on runtime id", owner, Request{Op: OpSpawn, Object: ref.NewObjectID(owner.ID, 2), Scene: true}},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			seq := uint64(i + 1)
			submit(t, hub, test.member, seq, test.request)
			if ack := nextAck(t, test.member, seq); ack.Granted {
				t.Errorf("ack = %+v, want denied", ack)
			}
		})
	}

	submit(t, hub, owner, 10, Request{Op: OpSpawn, Object: door, Scene: true})
	nextUpdate(t, owner, UpdateSpawned)
	nextAck(t, owner, 10)
	submit(t, hub, owner, 11, Request{Op: OpSpawn, Object: door, Scene: true})
	if ack := nextAck(t, owner, 11); !ack.Granted {
		t.Errorf("re-registering scene object = %+v, want granted", ack)
	}
}

func TestHubOwnershipArrivalOrder(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	first := attach(t, hub)
	second := attach(t, hub)

	id := ref.NewObjectID(owner.ID, 1)
	submit(t, hub, owner, 1, Request{Op: OpSpawn, Object: id})
	submit(t, hub, first, 1, Request{Op: OpChangeOwnership, Object: id})
	submit(t, hub, second, 1, Request{Op: OpChangeOwnership, Object: id})
	submit(t, hub, first, 2, Request{Op: OpDespawn, Object: id})
	submit(t, hub, second, 2, Request{Op: OpDespawn, Object: id})

	snapshot, err := hub.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() = %v", err)
	}
	if len(snapshot.Objects) != 0 {
		t.Fatalf("objects after despawn = %+v", snapshot.Objects)
	}

	// first: joined(3), spawned, owner→first, ack 1, owner→second,
	// denied despawn, despawned.
	nextUpdate(t, first, UpdateParticipantJoined)
	nextUpdate(t, first, UpdateSpawned)
	if update := nextUpdate(t, first, UpdateOwnerChanged); update.Object.Owner != first.ID {
		t.Errorf("first owner change = %d", update.Object.Owner)
	}
	if ack := nextAck(t, first, 1); !ack.Granted {
		t.Errorf("first ownership ack = %+v", ack)
	}
	if update := nextUpdate(t, first, UpdateOwnerChanged); update.Object.Owner != second.ID {
		t.Errorf("second owner change = %d", update.Object.Owner)
	}
	if ack := nextAck(t, first, 2); ack.Granted {
		t.Error("stale owner's despawn was granted")
	}
	if update := nextUpdate(t, first, UpdateDespawned); update.Object.State != StateDespawned {
		t.Errorf("despawned state = %s", update.Object.State)
	}
	testutil.RequireNothing(t, first.Frames, "extra frames")
}

func TestHubProtectedObjects(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	other := attach(t, hub)
	door, _ := ref.SceneObjectID("door")
	held := ref.NewObjectID(owner.ID, 1)

	submit(t, hub, owner, 1, Request{Op: OpSpawn, Object: door, Scene: true})
	submit(t, hub, owner, 2, Request{Op: OpSpawn, Object: held, Frozen: true})
	submit(t, hub, owner, 3, Request{Op: OpSetInteracting, Object: held, Interacting: true})
	drain(other)

	tests := []struct {
		name    string
		member  *Member
		request Request
	}{
		{"transfer scene", other, Request{Op: OpChangeOwnership, Object: door}},
		{"despawn scene", owner, Request{Op: OpDespawn, Object: door}},
		{"transfer held", other, Request{Op: OpChangeOwnership, Object: held}},
		{"despawn held", owner, Request{Op: OpDespawn, Object: held}},
		{"move foreign", other, Request{Op: OpMove, Object: held}},
		{"unknown object", other, Request{Op: OpChangeOwnership, Object: ref.NewObjectID(9, 9)}},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			drain(test.member)
			seq := uint64(100 + i)
			submit(t, hub, test.member, seq, test.request)
			if ack := nextAck(t, test.member, seq); ack.Granted {
				t.Errorf("ack = %+v, want denied", ack)
			}
		})
	}

	snapshot, _ := hub.Snapshot(context.Background())
	for _, object := range snapshot.Objects {
		if object.ID == held && object.Frozen {
			t.Error("holding an object did not unfreeze it")
		}
	}
}

func TestHubDetachReassignsAndPromotes(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	spawner := attach(t, hub)
	late := attach(t, hub)

	id := ref.NewObjectID(spawner.ID, 1)
	submit(t, hub, spawner, 1, Request{Op: OpSpawn, Object: id})
	submit(t, hub, spawner, 2, Request{Op: OpSetInteracting, Object: id, Interacting: true})
	drain(owner)
	drain(late)

	if err := hub.Detach(context.Background(), spawner.ID); err != nil {
		t.Fatalf("Detach() = %v", err)
	}
	testutil.RequireClosed(t, closedSignal(spawner.Frames), 5*time.Second, "detached member frames")
	if left := nextUpdate(t, late, UpdateParticipantLeft); left.Participant != spawner.ID {
		t.Errorf("left = %d", left.Participant)
	}
	reassigned := nextUpdate(t, late, UpdateOwnerChanged)
	if reassigned.Object.Owner != owner.ID || reassigned.Object.Interacting {
		t.Errorf("orphaned object = %+v, want owned by %d and released", reassigned.Object, owner.ID)
	}

	if err := hub.Detach(context.Background(), owner.ID); err != nil {
		t.Fatalf("Detach() = %v", err)
	}
	nextUpdate(t, late, UpdateParticipantLeft)
	if promoted := nextUpdate(t, late, UpdatePromoted); promoted.Participant != late.ID {
		t.Errorf("promoted = %d, want %d", promoted.Participant, late.ID)
	}
	if reassigned := nextUpdate(t, late, UpdateOwnerChanged); reassigned.Object.Owner != late.ID {
		t.Errorf("object owner after promotion = %d", reassigned.Object.Owner)
	}

	// Detaching twice is harmless.
	if err := hub.Detach(context.Background(), owner.ID); err != nil {
		t.Fatalf("second Detach() = %v", err)
	}
}

func TestHubSlots(t *testing.T) {
	hub := startHub(t)
	owner := attach(t, hub)
	other := attach(t, hub)
	id := ref.NewObjectID(owner.ID, 1)

	submit(t, hub, owner, 1, Request{Op: OpSpawn, Object: id, Slot: "dispenser"})
	drain(other)
	snapshot, _ := hub.Snapshot(context.Background())
	if snapshot.Slots["dispenser"] != id {
		t.Fatalf("slot = %v, want %v", snapshot.Slots["dispenser"], id)
	}

	submit(t, hub, other, 1, Request{Op: OpSetSlot, Slot: "dispenser"})
	if ack := nextAck(t, other, 1); ack.Granted {
		t.Error("non-owner cleared a slot")
	}

	submit(t, hub, owner, 2, Request{Op: OpDespawn, Object: id})
	drain(other)
	snapshot, _ = hub.Snapshot(context.Background())
	if _, ok := snapshot.Slots["dispenser"]; ok {
		t.Error("despawn did not clear the slot")
	}
}

func TestHubDetachesSlowParticipant(t *testing.T) {
	hub := startHub(t)
	fast := attach(t, hub)
	slow := attach(t, hub)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-fast.Frames:
			}
		}
	}()

	for seq := uint64(1); seq <= outboundBuffer+10; seq++ {
		submit(t, hub, fast, seq, Request{Op: OpEffect})
	}
	snapshot, _ := hub.Snapshot(context.Background())
	if len(snapshot.Participants) != 1 || snapshot.Participants[0] != fast.ID {
		t.Errorf("participants = %v, want only %d", snapshot.Participants, fast.ID)
	}
	for range slow.Frames {
	}
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub("stopping", testutil.DiscardLogger())
	go hub.Run(ctx)
	member, err := hub.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	cancel()
	testutil.RequireClosed(t, hub.Done(), 5*time.Second, "hub stop")
	for range member.Frames {
	}
	if _, err := hub.Attach(context.Background()); err != ErrHubClosed {
		t.Errorf("Attach() after stop = %v, want ErrHubClosed", err)
	}
}

func drain(member *Member) {
	for {
		select {
		case <-member.Frames:
		default:
			return
		}
	}
}

// closedSignal converts a frame channel into a signal closed once the
// channel is drained and closed.
func closedSignal(frames <-chan Frame) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range frames {
		}
		close(done)
	}()
	return done
}
