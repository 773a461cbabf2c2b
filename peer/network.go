// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/session"
	"github.com/bureau-foundation/netplay/transport"
)

// Compile-time interface checks.
var (
	_ session.Transport = (*Network)(nil)
	_ session.Link      = (*Link)(nil)
)

const (
	// DefaultRelayLocalpart is the signaling localpart of the
	// directory's relay.
	DefaultRelayLocalpart = "relay"

	// localSessionKey names the only session a local host's relay
	// carries. Host and clients of a direct session hold unrelated
	// session IDs, so they meet under this fixed key.
	localSessionKey = "local"

	// dialTimeout bounds link establishment when the caller's context
	// has no deadline.
	dialTimeout = 30 * time.Second
)

// Effects plays effects broadcast by other participants.
// *effect.Player implements it.
type Effects interface {
	Play(at geom.Vec3)
}

// Config configures a Network.
type Config struct {
	// Build is announced to relays and enforced by a local host's
	// relay.
	Build string

	// Direct dials local hosts. Defaults to a TCPDialer.
	Direct transport.Dialer

	// Relayed dials the directory's relay in the distributed topology.
	// Nil makes that topology unavailable.
	Relayed transport.Dialer

	// RelayLocalpart is the relay's address on Relayed. Defaults to
	// DefaultRelayLocalpart.
	RelayLocalpart string

	// Effects, when set, plays broadcast effects locally.
	Effects Effects

	Logger *slog.Logger
}

// Network starts participant links. In the distributed topology every
// participant, host included, attaches to the directory's relay over
// Relayed. In the local topology the host runs its own relay on a TCP
// listener and clients dial it directly.
type Network struct {
	build          string
	direct         transport.Dialer
	relayed        transport.Dialer
	relayLocalpart string
	effects        Effects
	logger         *slog.Logger
}

// NewNetwork returns a Network.
func NewNetwork(config Config) (*Network, error) {
	if config.Logger == nil {
		return nil, errors.New("peer: Config.Logger is required")
	}
	if config.Direct == nil {
		config.Direct = &transport.TCPDialer{Timeout: 10 * time.Second}
	}
	if config.RelayLocalpart == "" {
		config.RelayLocalpart = DefaultRelayLocalpart
	}
	return &Network{
		build:          config.Build,
		direct:         config.Direct,
		relayed:        config.Relayed,
		relayLocalpart: config.RelayLocalpart,
		effects:        config.Effects,
		logger:         config.Logger,
	}, nil
}

// Start attaches to the session described by options and returns the
// running link.
func (n *Network) Start(ctx context.Context, options session.StartOptions) (session.Link, error) {
	if options.Session == nil {
		return nil, errors.New("peer: StartOptions.Session is required")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	switch options.Topology {
	case session.TopologyDistributed:
		if n.relayed == nil {
			return nil, errors.New("peer: distributed topology has no relay dialer")
		}
		id := options.Session.Describe().ID
		return n.attach(id, nil, func(config authority.LinkConfig) (*authority.Link, error) {
			return authority.Dial(ctx, n.relayed, n.relayLocalpart, config)
		})

	case session.TopologyLocal:
		if options.Host {
			return n.host(ctx, options.Address)
		}
		return n.attach(localSessionKey, nil, func(config authority.LinkConfig) (*authority.Link, error) {
			return authority.Dial(ctx, n.direct, options.Address, config)
		})
	}
	return nil, fmt.Errorf("peer: unknown topology %q", options.Topology)
}

// host runs a relay on a TCP listener at address and attaches to it
// in-process. The relay stops when the returned link closes.
func (n *Network) host(ctx context.Context, address string) (*Link, error) {
	listener, err := transport.NewTCPListener(address, n.logger)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relay := authority.NewRelay(relayCtx, n.build, n.logger)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := listener.Serve(relayCtx, relay.ServeConn); err != nil {
			n.logger.Error("local relay listener failed", "address", address, "error", err)
		}
	}()
	n.logger.Info("hosting local relay", "address", listener.Address())

	stop := func() {
		stopRelay()
		listener.Close()
		<-served
	}
	link, err := n.attach(localSessionKey, stop, func(config authority.LinkConfig) (*authority.Link, error) {
		return authority.AttachLocal(ctx, relay, config)
	})
	if err != nil {
		stop()
		return nil, err
	}
	link.address = listener.Address()
	return link, nil
}

// attach builds a Link around the authority link that connect opens.
// stop, when set, runs after the authority link closes.
func (n *Network) attach(sessionKey string, stop func(), connect func(authority.LinkConfig) (*authority.Link, error)) (*Link, error) {
	link := &Link{
		effects: n.effects,
		logger:  n.logger.With("session", sessionKey),
		stop:    stop,
		ready:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
		events:  make(chan session.LinkEvent),
		closed:  make(chan struct{}),
	}
	relayLink, err := connect(authority.LinkConfig{
		Session:  sessionKey,
		Build:    n.build,
		Logger:   n.logger,
		OnUpdate: link.onUpdate,
	})
	if err != nil {
		return nil, err
	}
	link.relay = relayLink
	link.coordinator = authority.NewCoordinator(relayLink, n.logger)

	// Participants already present arrive as joins ahead of any
	// update event. The reader may have applied one update to the
	// registry before blocking on ready; the roster ignores the
	// duplicate join or unknown leave that can produce.
	local := relayLink.LocalID()
	for _, participant := range relayLink.Registry().Participants() {
		if participant != local {
			link.enqueue(session.LinkEvent{Kind: session.LinkParticipantJoined, Participant: participant})
		}
	}
	close(link.ready)
	go link.forward()
	return link, nil
}

// Link is a running participant link. Its Authority coordinator is the
// entry point for ownership, spawning, and destruction.
type Link struct {
	relay       *authority.Link
	coordinator *authority.Coordinator
	effects     Effects
	logger      *slog.Logger
	stop        func()
	address     string

	// ready gates onUpdate until the welcome's participants are
	// queued.
	ready chan struct{}

	mu    sync.Mutex
	queue []session.LinkEvent
	wake  chan struct{}

	events    chan session.LinkEvent
	closed    chan struct{}
	closeOnce sync.Once
}

// LocalID returns the participant ID the relay assigned.
func (l *Link) LocalID() ref.ParticipantID { return l.relay.LocalID() }

// Events delivers membership changes in relay order. It is closed
// when the link ends.
func (l *Link) Events() <-chan session.LinkEvent { return l.events }

// Authority returns the ownership coordinator bound to this link.
func (l *Link) Authority() *authority.Coordinator { return l.coordinator }

// Address returns the listening address of a local host's relay, or
// "" for links that do not host one.
func (l *Link) Address() string { return l.address }

// Done is closed when the relay connection ends.
func (l *Link) Done() <-chan struct{} { return l.relay.Done() }

// Close disconnects from the relay and, for a local host, stops the
// relay and its listener.
func (l *Link) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		err = l.relay.Close()
		if l.stop != nil {
			l.stop()
		}
		close(l.closed)
	})
	return err
}

// onUpdate runs on the relay reader goroutine.
func (l *Link) onUpdate(update authority.Update) {
	<-l.ready
	switch update.Kind {
	case authority.UpdateParticipantJoined:
		l.enqueue(session.LinkEvent{Kind: session.LinkParticipantJoined, Participant: update.Participant})
	case authority.UpdateParticipantLeft:
		l.enqueue(session.LinkEvent{Kind: session.LinkParticipantLeft, Participant: update.Participant})
	case authority.UpdatePromoted:
		l.enqueue(session.LinkEvent{Kind: session.LinkOwnerPromoted, Participant: update.Participant})
	case authority.UpdateEffect:
		if l.effects != nil {
			l.effects.Play(update.Position)
		}
	}
}

func (l *Link) enqueue(event session.LinkEvent) {
	l.mu.Lock()
	l.queue = append(l.queue, event)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// forward delivers queued events until the relay connection ends and
// the queue is drained, or the link is closed.
func (l *Link) forward() {
	defer close(l.events)
	ended := false
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, event := range batch {
			select {
			case l.events <- event:
			case <-l.closed:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}

		select {
		case <-l.wake:
		case <-l.relay.Done():
			// The reader has stopped, so the queue can only shrink.
			ended = true
		case <-l.closed:
			return
		}
	}
}
