// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// loopbackAddress is reported when no outbound route exists.
const loopbackAddress = "127.0.0.1"

// LocalAddress returns the IPv4 address this machine would use to reach
// probeAddress ("host:port"). It opens a UDP socket without sending
// anything, so no traffic leaves the machine. Returns the loopback
// address when no route exists.
func LocalAddress(probeAddress string) string {
	conn, err := net.Dial("udp4", probeAddress)
	if err != nil {
		return loopbackAddress
	}
	defer conn.Close()
	address, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || address.IP.IsUnspecified() {
		return loopbackAddress
	}
	return address.IP.String()
}

// ResolveHost turns a host name or IP literal typed by a user into an
// IPv4 address string, preferring IPv4 when the name has both.
func ResolveHost(ctx context.Context, host string) (string, error) {
	if address, err := netip.ParseAddr(host); err == nil {
		return address.Unmap().String(), nil
	}
	addresses, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, address := range addresses {
		if address.Unmap().Is4() {
			return address.Unmap().String(), nil
		}
	}
	if len(addresses) > 0 {
		return addresses[0].String(), nil
	}
	return "", fmt.Errorf("resolving %q: no addresses", host)
}

// Reachable dials address over TCP and returns an error unless a
// connection is made within timeout. It matches the session manager's
// probe signature once address and timeout are bound.
func Reachable(ctx context.Context, address string, timeout time.Duration) error {
	dialer := &TCPDialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, address)
	if err != nil {
		return fmt.Errorf("probing %s: %w", address, err)
	}
	return conn.Close()
}
