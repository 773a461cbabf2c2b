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
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/netutil"
	"github.com/bureau-foundation/netplay/lib/ref"
)

// welcomeTimeout bounds the wait for the relay's welcome when ctx has
// no deadline.
const welcomeTimeout = 10 * time.Second

// ErrLinkClosed is returned by Call once the relay connection is gone.
var ErrLinkClosed = errors.New("authority: link closed")

// Dialer opens a connection to a relay address.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// LinkConfig configures the participant side of a relay connection.
type LinkConfig struct {
	// Session names the session to attach to.
	Session string

	// Build is announced in the hello.
	Build string

	Logger *slog.Logger

	// OnUpdate, when set, is called on the link's reader goroutine
	// after each update has been applied to the registry. It must not
	// block for long: acks queue behind it.
	OnUpdate func(Update)
}

// Link is a participant's connection to the relay. It keeps the
// participant's Registry current and correlates requests with acks.
type Link struct {
	conn     net.Conn
	logger   *slog.Logger
	registry *Registry
	onUpdate func(Update)

	writeMu sync.Mutex
	encoder *codec.Encoder

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan Ack

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the relay at address and attaches to the session.
func Dial(ctx context.Context, dialer Dialer, address string, config LinkConfig) (*Link, error) {
	conn, err := dialer.DialContext(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", address, err)
	}
	link, err := NewLink(ctx, conn, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// AttachLocal connects to a relay in the same process over an
// in-memory pipe.
func AttachLocal(ctx context.Context, relay *Relay, config LinkConfig) (*Link, error) {
	client, server := net.Pipe()
	go relay.ServeConn(relay.ctx, server)
	link, err := NewLink(ctx, client, config)
	if err != nil {
		client.Close()
		return nil, err
	}
	return link, nil
}

// NewLink performs the hello/welcome exchange on conn and starts
// reading relay frames. The link owns conn from here on.
func NewLink(ctx context.Context, conn net.Conn, config LinkConfig) (*Link, error) {
	if config.Session == "" {
		return nil, errors.New("authority: LinkConfig.Session is required")
	}
	if config.Logger == nil {
		return nil, errors.New("authority: LinkConfig.Logger is required")
	}
	encoder := codec.NewEncoder(conn)
	decoder := codec.NewDecoder(conn)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(welcomeTimeout)
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	hello := Frame{Type: FrameHello, Hello: &Hello{Session: config.Session, Build: config.Build}}
	if err := encoder.Encode(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	var welcome Frame
	if err := decoder.Decode(&welcome); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading welcome: %w", err)
	}
	if welcome.Type == FrameError {
		return nil, fmt.Errorf("relay refused connection: %s", welcome.Error)
	}
	if welcome.Type != FrameWelcome || welcome.Welcome == nil {
		return nil, fmt.Errorf("expected welcome frame, got %q", welcome.Type)
	}
	if !stop() {
		return nil, ctx.Err()
	}
	conn.SetDeadline(time.Time{})

	registry := NewRegistry(*welcome.Welcome)
	link := &Link{
		conn:     conn,
		logger:   config.Logger.With("session", config.Session, "participant", registry.LocalID()),
		registry: registry,
		onUpdate: config.OnUpdate,
		encoder:  encoder,
		pending:  make(map[uint64]chan Ack),
		done:     make(chan struct{}),
	}
	go link.read(decoder)
	return link, nil
}

// LocalID returns the participant ID the relay assigned.
func (l *Link) LocalID() ref.ParticipantID { return l.registry.LocalID() }

// Registry returns the link's replica.
func (l *Link) Registry() *Registry { return l.registry }

// Done is closed when the link has stopped reading.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns why the link stopped, or nil while it is running or
// after a local Close.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Call sends request and waits for the relay's ack.
func (l *Link) Call(ctx context.Context, request Request) (Ack, error) {
	seq := l.seq.Add(1)
	reply := make(chan Ack, 1)
	l.mu.Lock()
	if l.pending == nil {
		l.mu.Unlock()
		return Ack{}, ErrLinkClosed
	}
	l.pending[seq] = reply
	l.mu.Unlock()

	l.writeMu.Lock()
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := l.encoder.Encode(Frame{Type: FrameRequest, Seq: seq, Request: &request})
	l.conn.SetWriteDeadline(time.Time{})
	l.writeMu.Unlock()
	if err != nil {
		l.forget(seq)
		return Ack{}, fmt.Errorf("sending %s request: %w", request.Op, err)
	}

	select {
	case ack, ok := <-reply:
		if !ok {
			return Ack{}, ErrLinkClosed
		}
		return ack, nil
	case <-ctx.Done():
		l.forget(seq)
		return Ack{}, ctx.Err()
	}
}

func (l *Link) forget(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, seq)
}

// Close disconnects from the relay. The relay reassigns this
// participant's objects.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	<-l.done
	return err
}

func (l *Link) read(decoder *codec.Decoder) {
	var readErr error
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			readErr = err
			break
		}
		switch frame.Type {
		case FrameAck:
			l.mu.Lock()
			reply, ok := l.pending[frame.Seq]
			delete(l.pending, frame.Seq)
			l.mu.Unlock()
			if ok && frame.Ack != nil {
				reply <- *frame.Ack
			}
		case FrameUpdate:
			if frame.Update == nil {
				continue
			}
			l.registry.apply(*frame.Update)
			if l.onUpdate != nil {
				l.onUpdate(*frame.Update)
			}
		case FrameError:
			readErr = fmt.Errorf("relay error: %s", frame.Error)
		default:
			l.logger.Debug("ignoring unexpected frame", "type", frame.Type)
		}
		if readErr != nil {
			break
		}
	}

	l.closeOnce.Do(func() { l.conn.Close() })
	if netutil.IsExpectedCloseError(readErr) {
		readErr = nil
	} else {
		l.logger.Warn("relay link ended", "error", readErr)
	}

	l.mu.Lock()
	for _, reply := range l.pending {
		close(reply)
	}
	l.pending = nil
	l.mu.Unlock()

	l.err = readErr
	close(l.done)
}
