// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/netutil"
)

// helloTimeout is how long a new connection has to send its hello.
const helloTimeout = 10 * time.Second

// writeTimeout bounds a single frame write to a participant.
const writeTimeout = 10 * time.Second

// Relay runs one Hub per session and serves participant connections.
// A hub is created when the first participant of a session attaches
// and stopped when its last participant detaches.
type Relay struct {
	ctx    context.Context
	logger *slog.Logger

	// build, when set, is required in every hello.
	build string

	mu   sync.Mutex
	hubs map[string]*relayHub
}

type relayHub struct {
	hub    *Hub
	cancel context.CancelFunc
}

// NewRelay returns a relay whose hubs live no longer than ctx. When
// build is non-empty, participants announcing a different build are
// refused.
func NewRelay(ctx context.Context, build string, logger *slog.Logger) *Relay {
	return &Relay{
		ctx:    ctx,
		logger: logger,
		build:  build,
		hubs:   make(map[string]*relayHub),
	}
}

// Hub returns the running hub for session, or nil.
func (r *Relay) Hub(session string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.hubs[session]; ok {
		return entry.hub
	}
	return nil
}

// Sessions returns the number of sessions with a running hub.
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

func (r *Relay) hubFor(session string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.hubs[session]; ok {
		return entry.hub
	}

	ctx, cancel := context.WithCancel(r.ctx)
	hub := NewHub(session, r.logger)
	entry := &relayHub{hub: hub, cancel: cancel}
	hub.onEmpty = func() {
		// Runs on the hub goroutine: remove the entry so the next
		// participant gets a fresh hub, then stop this one.
		r.mu.Lock()
		if r.hubs[session] == entry {
			delete(r.hubs, session)
		}
		r.mu.Unlock()
		cancel()
	}
	r.hubs[session] = entry
	go hub.Run(ctx)
	return hub
}

// attach joins session, retrying once if the hub stopped between
// lookup and attach.
func (r *Relay) attach(ctx context.Context, session string) (*Hub, *Member, error) {
	var lastErr error
	for range 2 {
		hub := r.hubFor(session)
		member, err := hub.Attach(ctx)
		if err == nil {
			return hub, member, nil
		}
		if !errors.Is(err, ErrHubClosed) {
			return nil, nil, err
		}
		lastErr = err
		r.mu.Lock()
		if entry, ok := r.hubs[session]; ok && entry.hub == hub {
			delete(r.hubs, session)
		}
		r.mu.Unlock()
	}
	return nil, nil, lastErr
}

// ServeConn runs the relay side of one participant connection until
// the participant disconnects, the hub detaches it, or ctx ends. The
// connection is closed on return.
func (r *Relay) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := r.logger.With("remote", conn.RemoteAddr().String())

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var hello Frame
	if err := decoder.Decode(&hello); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			logger.Debug("reading hello failed", "error", err)
		}
		return
	}
	if hello.Type != FrameHello || hello.Hello == nil || hello.Hello.Session == "" {
		r.refuse(conn, encoder, logger, "expected hello naming a session")
		return
	}
	if r.build != "" && hello.Hello.Build != r.build {
		r.refuse(conn, encoder, logger, fmt.Sprintf("build %q is not compatible with relay build %q", hello.Hello.Build, r.build))
		return
	}
	conn.SetReadDeadline(time.Time{})

	hub, member, err := r.attach(ctx, hello.Hello.Session)
	if err != nil {
		logger.Warn("attaching participant failed", "session", hello.Hello.Session, "error", err)
		return
	}
	logger = logger.With("session", hello.Hello.Session, "participant", member.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range member.Frames {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := encoder.Encode(frame); err != nil {
				logger.Debug("writing frame failed", "error", err)
				break
			}
			// Data channel deadlines close the stream when they fire.
			conn.SetWriteDeadline(time.Time{})
		}
		// Detached by the hub or write failure: unblock the reader.
		conn.Close()
	}()

	// Close the connection when ctx ends so the reader returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Debug("reading frame failed", "error", err)
			}
			break
		}
		if frame.Type != FrameRequest || frame.Request == nil {
			logger.Debug("ignoring unexpected frame", "type", frame.Type)
			continue
		}
		if err := hub.Submit(ctx, member.ID, frame.Seq, *frame.Request); err != nil {
			break
		}
	}

	if err := hub.Detach(context.WithoutCancel(ctx), member.ID); err != nil && !errors.Is(err, ErrHubClosed) {
		logger.Debug("detaching participant failed", "error", err)
	}
	<-writerDone
}

func (r *Relay) refuse(conn net.Conn, encoder *codec.Encoder, logger *slog.Logger, message string) {
	logger.Warn("refusing relay connection", "reason", message)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encoder.Encode(Frame{Type: FrameError, Error: message}); err != nil {
		logger.Debug("writing refusal failed", "error", err)
	}
}
