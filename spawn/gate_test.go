// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

// fakeAuthority is an in-memory replica that grants every request.
type fakeAuthority struct {
	mu       sync.Mutex
	owner    bool
	slots    map[string]ref.ObjectID
	objects  map[ref.ObjectID]authority.Object
	serial   uint64
	spawned  []authority.SpawnOptions
	spawnErr error
}

func newFakeAuthority(owner bool) *fakeAuthority {
	return &fakeAuthority{
		owner:   owner,
		slots:   make(map[string]ref.ObjectID),
		objects: make(map[ref.ObjectID]authority.Object),
	}
}

func (f *fakeAuthority) IsSessionOwner() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

func (f *fakeAuthority) setOwner(owner bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = owner
}

func (f *fakeAuthority) Slot(name string) ref.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[name]
}

func (f *fakeAuthority) Lookup(id ref.ObjectID) (authority.Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	object, ok := f.objects[id]
	return object, ok
}

func (f *fakeAuthority) Spawn(_ context.Context, options authority.SpawnOptions) (authority.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return authority.Object{}, f.spawnErr
	}
	f.serial++
	object := authority.Object{
		ID:       ref.NewObjectID(1, f.serial),
		Kind:     options.Kind,
		Owner:    1,
		Position: options.Position,
		State:    authority.StateSpawned,
		Frozen:   options.Frozen,
	}
	f.objects[object.ID] = object
	f.slots[options.Slot] = object.ID
	f.spawned = append(f.spawned, options)
	return object, nil
}

func (f *fakeAuthority) SetSlot(_ context.Context, slot string, id ref.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id.IsZero() {
		delete(f.slots, slot)
	} else {
		f.slots[slot] = id
	}
	return nil
}

func (f *fakeAuthority) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func (f *fakeAuthority) move(id ref.ObjectID, position geom.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	object := f.objects[id]
	object.Position = position
	f.objects[id] = object
}

func (f *fakeAuthority) remove(id ref.ObjectID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
}

const tick = 50 * time.Millisecond

var anchor = geom.Vec3{X: 1, Y: 1, Z: 1}

func newGate(t *testing.T, fake *fakeAuthority) *Gate {
	t.Helper()
	gate, err := NewGate(fake, Config{
		Slot:            "dispenser",
		Kind:            "ball",
		Anchor:          anchor,
		Cooldown:        500 * time.Millisecond,
		ReleaseDistance: 0.15,
		FreezeOnSpawn:   true,
		Logger:          testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewGate() = %v", err)
	}
	return gate
}

func ticks(t *testing.T, gate *Gate, n int) {
	t.Helper()
	for range n {
		if err := gate.Tick(context.Background(), tick); err != nil {
			t.Fatalf("Tick() = %v", err)
		}
	}
}

func TestGateSpawnsAfterCooldown(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)

	// Ten ticks use up the 500ms cooldown; the eleventh spawns.
	ticks(t, gate, 10)
	if fake.spawnCount() != 0 {
		t.Fatalf("spawned %d objects before cooldown elapsed", fake.spawnCount())
	}
	ticks(t, gate, 1)
	if fake.spawnCount() != 1 {
		t.Fatalf("spawnCount() = %d, want 1", fake.spawnCount())
	}
	options := fake.spawned[0]
	if options.Position != anchor || options.Slot != "dispenser" || !options.Frozen {
		t.Errorf("spawn options = %+v", options)
	}
	if !gate.Occupied() {
		t.Error("Occupied() = false after spawn")
	}
}

func TestGateHoldsUntilObjectLeaves(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)
	ticks(t, gate, 11)
	dispensed := fake.Slot("dispenser")

	// Within the release distance the slot stays occupied forever.
	fake.move(dispensed, anchor.Add(geom.Vec3{X: 0.1}))
	ticks(t, gate, 100)
	if fake.spawnCount() != 1 {
		t.Fatalf("spawnCount() = %d while object held in slot, want 1", fake.spawnCount())
	}

	fake.move(dispensed, anchor.Add(geom.Vec3{X: 0.2}))
	ticks(t, gate, 1)
	if gate.Occupied() {
		t.Fatal("slot still occupied after object left")
	}
	if got := gate.Cooldown(); got != 500*time.Millisecond {
		t.Errorf("Cooldown() after release = %s, want 500ms", got)
	}
	ticks(t, gate, 10)
	if fake.spawnCount() != 1 {
		t.Fatalf("spawned before cooldown after release")
	}
	ticks(t, gate, 1)
	if fake.spawnCount() != 2 {
		t.Fatalf("spawnCount() = %d, want exactly 2", fake.spawnCount())
	}
	ticks(t, gate, 50)
	if fake.spawnCount() != 2 {
		t.Errorf("spawnCount() = %d after settling, want 2", fake.spawnCount())
	}
}

func TestGateReleasesVanishedObject(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)
	ticks(t, gate, 11)

	fake.remove(fake.Slot("dispenser"))
	ticks(t, gate, 1)
	if gate.Occupied() {
		t.Error("slot still references a vanished object")
	}
}

func TestGateObserverNeverSpawns(t *testing.T) {
	fake := newFakeAuthority(false)
	gate := newGate(t, fake)
	ticks(t, gate, 100)
	if fake.spawnCount() != 0 {
		t.Fatalf("observer spawned %d objects", fake.spawnCount())
	}

	// A replicated reference appears, then the object wanders off:
	// observers do not release it.
	id := ref.NewObjectID(1, 99)
	fake.mu.Lock()
	fake.objects[id] = authority.Object{ID: id, Position: geom.Vec3{X: 10}}
	fake.slots["dispenser"] = id
	fake.mu.Unlock()
	ticks(t, gate, 5)
	if !gate.Occupied() {
		t.Error("observer released the slot")
	}
}

func TestGatePromotionRestartsCooldown(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)
	ticks(t, gate, 5)
	if got := gate.Cooldown(); got != 250*time.Millisecond {
		t.Fatalf("Cooldown() = %s, want 250ms", got)
	}

	fake.setOwner(false)
	ticks(t, gate, 1)
	fake.setOwner(true)
	ticks(t, gate, 1)
	if got := gate.Cooldown(); got != 450*time.Millisecond {
		t.Errorf("Cooldown() after promotion = %s, want 450ms", got)
	}
}

func TestGateReferenceChangeRestartsCooldown(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)
	ticks(t, gate, 11)
	ticks(t, gate, 3)

	// Another component cleared the slot.
	fake.SetSlot(context.Background(), "dispenser", ref.ObjectID{})
	ticks(t, gate, 1)
	if got := gate.Cooldown(); got != 450*time.Millisecond {
		t.Errorf("Cooldown() = %s, want 450ms", got)
	}
}

func TestGateSpawnError(t *testing.T) {
	fake := newFakeAuthority(true)
	fake.spawnErr = errors.New("relay gone")
	gate := newGate(t, fake)
	ticks(t, gate, 10)
	if err := gate.Tick(context.Background(), tick); err == nil {
		t.Fatal("Tick() = nil, want spawn error")
	}
}

func TestGateRun(t *testing.T) {
	fake := newFakeAuthority(true)
	gate := newGate(t, fake)
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		gate.Run(ctx, fakeClock, tick)
	}()
	fakeClock.WaitForTimers(1)

	for range 200 {
		if fake.spawnCount() > 0 {
			break
		}
		fakeClock.Advance(tick)
		time.Sleep(time.Millisecond) //nolint:realclock let the run loop drain the tick
	}
	if fake.spawnCount() != 1 {
		t.Errorf("spawnCount() = %d, want 1", fake.spawnCount())
	}
	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "run loop exit")
}

func TestNewGateValidation(t *testing.T) {
	fake := newFakeAuthority(true)
	valid := Config{Slot: "s", Kind: "k", Cooldown: time.Second, ReleaseDistance: 1, Logger: testutil.DiscardLogger()}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing slot", func(c *Config) { c.Slot = "" }},
		{"missing kind", func(c *Config) { c.Kind = "" }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -1 }},
		{"zero distance", func(c *Config) { c.ReleaseDistance = 0 }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := valid
			test.mutate(&config)
			if _, err := NewGate(fake, config); err == nil {
				t.Error("NewGate() = nil error")
			}
		})
	}
	if _, err := NewGate(fake, valid); err != nil {
		t.Errorf("NewGate(valid) = %v", err)
	}
}
