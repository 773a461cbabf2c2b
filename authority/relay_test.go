// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

func TestRelaySeparatesSessions(t *testing.T) {
	relay := startRelay(t)
	red := join(t, relay, "red")
	blue := join(t, relay, "blue")

	if red.link.LocalID() != 1 || blue.link.LocalID() != 1 {
		t.Errorf("LocalID() = %d, %d, want 1 in each session", red.link.LocalID(), blue.link.LocalID())
	}
	if relay.Sessions() != 2 {
		t.Errorf("Sessions() = %d, want 2", relay.Sessions())
	}
	if _, err := red.coordinator.Spawn(context.Background(), SpawnOptions{Kind: "crate"}); err != nil {
		t.Fatalf("Spawn() = %v", err)
	}
	testutil.RequireNothing(t, blue.updates.C, "update leaked across sessions")
}

func TestRelayStopsEmptyHub(t *testing.T) {
	relay := startRelay(t)
	only := join(t, relay, "lonely")
	hub := relay.Hub("lonely")
	if hub == nil {
		t.Fatal("Hub() = nil after attach")
	}

	if err := only.link.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	testutil.RequireClosed(t, hub.Done(), 5*time.Second, "empty hub stop")
	if relay.Hub("lonely") != nil {
		t.Error("stopped hub still registered")
	}

	// A new participant gets a fresh hub and becomes session owner.
	again := join(t, relay, "lonely")
	if again.link.LocalID() != 1 || !again.coordinator.IsSessionOwner() {
		t.Errorf("rejoin: LocalID() = %d, owner = %v", again.link.LocalID(), again.coordinator.IsSessionOwner())
	}
}

func TestRelayRefusesIncompatibleBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := NewRelay(ctx, "2.0.0", testutil.DiscardLogger())

	_, err := AttachLocal(ctx, relay, LinkConfig{Session: "s", Build: "1.0.0", Logger: testutil.DiscardLogger()})
	if err == nil || !strings.Contains(err.Error(), "not compatible") {
		t.Fatalf("AttachLocal() = %v, want build refusal", err)
	}

	link, err := AttachLocal(ctx, relay, LinkConfig{Session: "s", Build: "2.0.0", Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("AttachLocal() with matching build = %v", err)
	}
	link.Close()
}

func TestRelayRejectsMissingHello(t *testing.T) {
	relay := startRelay(t)
	client, server := net.Pipe()
	defer client.Close()
	go relay.ServeConn(context.Background(), server)

	go codec.NewEncoder(client).Encode(Frame{Type: FrameRequest, Request: &Request{Op: OpEffect}})
	var reply Frame
	if err := codec.NewDecoder(client).Decode(&reply); err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if reply.Type != FrameError {
		t.Errorf("reply = %q, want error", reply.Type)
	}
}

func TestLinkCallAfterClose(t *testing.T) {
	relay := startRelay(t)
	p := join(t, relay, "closing")
	p.link.Close()

	if _, err := p.link.Call(context.Background(), Request{Op: OpEffect}); err == nil {
		t.Error("Call() after Close succeeded")
	}
	testutil.RequireClosed(t, p.link.Done(), time.Second, "link done")
	if p.link.Err() != nil {
		t.Errorf("Err() after local close = %v, want nil", p.link.Err())
	}
}
