// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/testutil"
)

func TestValueWatchStartsWithCurrent(t *testing.T) {
	value := NewValue("Idle")
	watch := value.Watch()
	defer watch.Close()

	if got := testutil.RequireReceive(t, watch.C, time.Second, "initial value"); got != "Idle" {
		t.Fatalf("first value = %q, want Idle", got)
	}
}

func TestValueKeepsOnlyLatest(t *testing.T) {
	value := NewValue(0)
	watch := value.Watch()
	defer watch.Close()

	for i := 1; i <= 5; i++ {
		value.Set(i)
	}

	if got := testutil.RequireReceive(t, watch.C, time.Second, "latest value"); got != 5 {
		t.Fatalf("received %d, want 5", got)
	}
	select {
	case stale := <-watch.C:
		t.Fatalf("received stale value %d after latest", stale)
	default:
	}
	if value.Get() != 5 {
		t.Errorf("Get() = %d, want 5", value.Get())
	}
}

func TestValueClose(t *testing.T) {
	value := NewValue("a")
	watch := value.Watch()
	<-watch.C
	watch.Close()
	watch.Close()

	value.Set("b")
	select {
	case got := <-watch.C:
		t.Fatalf("closed watch received %q", got)
	default:
	}
}

func TestFeedDeliversEveryEvent(t *testing.T) {
	var feed Feed[string]
	first := feed.Subscribe(4)
	second := feed.Subscribe(4)
	defer first.Close()
	defer second.Close()

	feed.Publish("joined 1")
	feed.Publish("joined 2")

	for _, subscription := range []*Subscription[string]{first, second} {
		for _, want := range []string{"joined 1", "joined 2"} {
			if got := testutil.RequireReceive(t, subscription.C, time.Second, want); got != want {
				t.Errorf("received %q, want %q", got, want)
			}
		}
	}
}

func TestFeedCountsDropsAndNeverBlocks(t *testing.T) {
	var feed Feed[int]
	subscription := feed.Subscribe(1)
	defer subscription.Close()

	feed.Publish(1)
	feed.Publish(2)
	feed.Publish(3)

	if got := subscription.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if got := <-subscription.C; got != 1 {
		t.Errorf("received %d, want the first event", got)
	}
}

func TestFeedUnsubscribe(t *testing.T) {
	var feed Feed[int]
	subscription := feed.Subscribe(0)
	if feed.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", feed.Subscribers())
	}
	subscription.Close()
	if feed.Subscribers() != 0 {
		t.Fatalf("Subscribers() after Close = %d, want 0", feed.Subscribers())
	}
	feed.Publish(1)
}
