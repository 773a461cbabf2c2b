// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/config"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

// syncBuffer is written by the report goroutine and read by the test.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func TestParseVec(t *testing.T) {
	got, err := parseVec([]string{"1", "-2.5", "0"})
	if err != nil {
		t.Fatalf("parseVec: %v", err)
	}
	if got != (geom.Vec3{X: 1, Y: -2.5}) {
		t.Errorf("parseVec = %+v", got)
	}
	if _, err := parseVec([]string{"1", "2"}); err == nil {
		t.Error("parseVec accepted two coordinates")
	}
	if _, err := parseVec([]string{"1", "two", "3"}); err == nil {
		t.Error("parseVec accepted a non-number")
	}
}

func TestCommandTable(t *testing.T) {
	seen := make(map[string]bool)
	for _, cmd := range commands {
		if seen[cmd.name] {
			t.Errorf("duplicate command %q", cmd.name)
		}
		seen[cmd.name] = true
		if !strings.HasPrefix(cmd.usage, cmd.name) {
			t.Errorf("usage %q does not start with %q", cmd.usage, cmd.name)
		}
	}
	if _, ok := lookupCommand("join-local"); !ok {
		t.Error("join-local not found")
	}
	if _, ok := lookupCommand("teleport"); ok {
		t.Error("found a command that does not exist")
	}
}

func TestConsoleArgumentErrors(t *testing.T) {
	var output syncBuffer
	repl := &console{output: &output}
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"teleport", "unknown command"},
		{"join", "usage: join"},
		{"private maybe", "usage: private"},
		{"spawn crate 1 2", "usage: spawn"},
		{"move not-an-id 1 2 3", ""},
	}
	for _, test := range tests {
		t.Run(test.line, func(t *testing.T) {
			err := repl.execute(ctx, test.line)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}

	if err := repl.execute(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit = %v, want errQuit", err)
	}
	if err := repl.execute(ctx, "   "); err != nil {
		t.Errorf("blank line = %v", err)
	}
}

func localConfig() *config.Config {
	cfg := config.Default()
	cfg.Session.Topology = config.TopologyLocal
	cfg.Session.PlayerName = "tester"
	cfg.Directory.Address = ""
	cfg.Transport.ListenAddress = "127.0.0.1"
	cfg.Transport.Port = 0
	cfg.Spawner.Cooldown = 20 * time.Millisecond
	cfg.Spawner.TickInterval = 10 * time.Millisecond
	return cfg
}

// TestConsoleLocalSession hosts a local session and drives objects
// through the console.
func TestConsoleLocalSession(t *testing.T) {
	participant, err := newParticipant(localConfig(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("newParticipant: %v", err)
	}
	defer participant.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := participant.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var output syncBuffer
	go participant.report(ctx, &output)
	repl := &console{participant: participant, output: &output}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		participant.manager.Shutdown(shutdownCtx)
	}()

	if err := repl.execute(ctx, "spawn crate 0 0 0"); !errors.Is(err, errNotConnected) {
		t.Errorf("spawn before connecting = %v, want errNotConnected", err)
	}

	if err := repl.execute(ctx, "host"); err != nil {
		t.Fatalf("host: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second) //nolint:realclock // test deadline
	for {
		if _, err := participant.world.objects(); err == nil {
			break
		}
		if time.Now().After(deadline) { //nolint:realclock // test deadline
			t.Fatalf("scene never bound; output:\n%s", output.String())
		}
		time.Sleep(10 * time.Millisecond) //nolint:realclock // poll interval
	}

	if err := repl.execute(ctx, "spawn barrel 4 0 4"); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	match := regexp.MustCompile(`spawned (\S+)`).FindStringSubmatch(output.String())
	if match == nil {
		t.Fatalf("no spawned line in output:\n%s", output.String())
	}
	id := match[1]

	if err := repl.execute(ctx, "move "+id+" 5 0 5"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := repl.execute(ctx, "drop "+id); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if !strings.Contains(output.String(), id+": destroyed") {
		t.Errorf("drop did not destroy %s; output:\n%s", id, output.String())
	}
	if err := repl.execute(ctx, "drop "+id); err == nil {
		t.Error("dropping a destroyed object succeeded")
	}
	if err := repl.execute(ctx, "status"); err != nil {
		t.Errorf("status: %v", err)
	}
	if !strings.Contains(output.String(), "(you)") {
		t.Errorf("status did not list the local participant; output:\n%s", output.String())
	}
}
