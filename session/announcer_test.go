// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/status"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

func TestAnnouncerPlaysSequence(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	text := status.NewValue("Connecting To Room: Arena")
	a := &announcer{clock: fake, status: text}
	watch := text.Watch()
	defer watch.Close()
	<-watch.C

	a.start(context.Background())
	defer a.stop()

	for _, message := range connectionMessages {
		fake.WaitForTimers(1)
		fake.Advance(message.after)
		if got := testutil.RequireReceive(t, watch.C, time.Second, message.text); got != message.text {
			t.Fatalf("status = %q, want %q", got, message.text)
		}
	}
}

func TestAnnouncerRestartSupersedes(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	text := status.NewValue("")
	a := &announcer{clock: fake, status: text}
	watch := text.Watch()
	defer watch.Close()
	<-watch.C

	a.start(context.Background())
	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	a.start(context.Background())
	fake.WaitForTimers(1)
	if fake.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1 after restart", fake.PendingCount())
	}

	// One second in, the restarted sequence has not reached its first
	// message even though the original one would have.
	fake.Advance(time.Second)
	testutil.RequireNothing(t, watch.C, "restarted sequence spoke early")
	fake.Advance(time.Second)
	if got := testutil.RequireReceive(t, watch.C, time.Second, "first message"); got != connectionMessages[0].text {
		t.Fatalf("status = %q, want %q", got, connectionMessages[0].text)
	}

	a.stop()
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount() after stop = %d, want 0", fake.PendingCount())
	}
}
