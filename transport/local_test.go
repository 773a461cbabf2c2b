// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/netip"
	"testing"
	"time"
)

func TestLocalAddress(t *testing.T) {
	// A loopback probe always has a route.
	if got := LocalAddress("127.0.0.1:9"); got != "127.0.0.1" {
		t.Errorf("LocalAddress(loopback) = %q, want 127.0.0.1", got)
	}
	if got := LocalAddress("not an address"); got != loopbackAddress {
		t.Errorf("LocalAddress(invalid) = %q, want %q", got, loopbackAddress)
	}
}

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"192.168.1.30", "192.168.1.30"},
		{"::ffff:10.0.0.7", "10.0.0.7"},
		{"localhost", "127.0.0.1"},
	}
	for _, test := range tests {
		got, err := ResolveHost(context.Background(), test.host)
		if err != nil {
			t.Errorf("ResolveHost(%q) error: %v", test.host, err)
			continue
		}
		if got != test.want {
			// Some resolvers answer localhost with ::1 only.
			if address, err := netip.ParseAddr(got); test.host == "localhost" && err == nil && address.IsLoopback() {
				continue
			}
			t.Errorf("ResolveHost(%q) = %q, want %q", test.host, got, test.want)
		}
	}
}

func TestResolveHost_Unknown(t *testing.T) {
	if _, err := ResolveHost(context.Background(), "no-such-host.invalid"); err == nil {
		t.Error("ResolveHost(.invalid) succeeded")
	}
}

func TestReachable(t *testing.T) {
	listener := newTestTCPListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Serve(ctx, echoHandler)

	if err := Reachable(ctx, listener.Address(), time.Second); err != nil {
		t.Errorf("Reachable(listening) = %v", err)
	}
	if err := Reachable(ctx, "127.0.0.1:1", time.Second); err == nil {
		t.Error("Reachable(closed port) = nil")
	}
}
