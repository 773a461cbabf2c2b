// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// ConnHandler serves one accepted connection. It owns conn and must
// close it before returning. ctx is cancelled when the listener stops.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Listener accepts inbound participant connections. The relay host
// creates a Listener and calls Serve with a handler that attaches each
// connection to its session relay.
type Listener interface {
	// Serve starts accepting connections and dispatches each to
	// handler on its own goroutine. Blocks until ctx is cancelled or
	// Close is called, then waits for running handlers. Returns nil
	// on clean shutdown.
	Serve(ctx context.Context, handler ConnHandler) error

	// Address returns the transport address to publish in the session
	// descriptor so participants can connect. The format is
	// transport-specific ("192.168.1.10:7777" for TCP, a signaling
	// localpart for WebRTC).
	Address() string

	// Close shuts down the listener. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// Dialer opens connections to a relay host.
type Dialer interface {
	// DialContext opens a network connection to the host at the given
	// transport address. The address format matches what the host's
	// Listener.Address() returns.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// serve runs the accept loop shared by every Listener. It closes
// listener when ctx ends, hands each connection to handler, and waits
// for all handlers to return before reporting.
func serve(ctx context.Context, listener net.Listener, handler ConnHandler, logger *slog.Logger) error {
	var handlers sync.WaitGroup
	defer handlers.Wait()

	// Handlers see cancellation however the loop ends.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		logger.Debug("accepted connection", "remote", conn.RemoteAddr().String())
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			handler(ctx, conn)
		}()
	}
}
