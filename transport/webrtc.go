// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Listener = (*WebRTCTransport)(nil)
	_ Dialer   = (*WebRTCTransport)(nil)
)

const (
	// defaultSignalPollInterval is how often a serving transport polls
	// for inbound offers when WebRTCConfig leaves it unset.
	defaultSignalPollInterval = 2 * time.Second

	// defaultAnswerPollInterval is how often a dialer polls for the
	// answer to its offer when WebRTCConfig leaves it unset.
	defaultAnswerPollInterval = 500 * time.Millisecond

	// iceGatherTimeout is the maximum time to wait for ICE candidate
	// gathering to complete before publishing the SDP.
	iceGatherTimeout = 15 * time.Second

	// answerTimeout is the maximum time to wait for an SDP answer.
	answerTimeout = 30 * time.Second

	// channelOpenTimeout bounds how long a new data channel may take
	// to open on an established PeerConnection.
	channelOpenTimeout = 10 * time.Second

	// initChannelLabel names the throwaway data channel that forces
	// pion to include an application section in the offer.
	initChannelLabel = "init"
)

// WebRTCConfig configures a WebRTCTransport.
type WebRTCConfig struct {
	// Signaler exchanges offers and answers. Required.
	Signaler Signaler

	// Localpart identifies this endpoint in signaling, e.g. "relay"
	// for a relay host or "participant/<id>" for a participant.
	// Required.
	Localpart string

	// ICE lists STUN/TURN servers. Empty means host candidates only.
	ICE ICEConfig

	// SignalPollInterval and AnswerPollInterval override the polling
	// cadence. Zero selects the defaults.
	SignalPollInterval time.Duration
	AnswerPollInterval time.Duration

	Logger *slog.Logger
}

// WebRTCTransport carries participant links over WebRTC data channels.
// It implements both Listener and Dialer because both directions share
// the same pool of PeerConnections.
//
// Each remote endpoint gets one PeerConnection with potentially many
// data channels. Each DialContext call opens a new data channel on the
// existing PeerConnection (or establishes a new PeerConnection if none
// exists). The Serve side accepts inbound data channels and hands them
// to the connection handler.
//
// Connection establishment uses vanilla ICE: all candidates are
// gathered before the SDP is published, so signaling requires exactly
// one round-trip.
type WebRTCTransport struct {
	signaler           Signaler
	localpart          string
	logger             *slog.Logger
	signalPollInterval time.Duration
	answerPollInterval time.Duration

	// iceConfig is protected by configMu because credentials can be
	// refreshed while the transport runs.
	configMu  sync.RWMutex
	iceConfig ICEConfig

	// peers maps remote localpart to its PeerConnection.
	mu    sync.Mutex
	peers map[string]*peerState

	// inboundConnections carries data channels opened by remote
	// endpoints, wrapped as net.Conn. Serve reads from it.
	inboundConnections chan net.Conn

	// ready is closed once Serve has started the signaling poller.
	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	// channelCounter generates unique data channel labels.
	channelCounter atomic.Uint64
}

// peerState tracks the PeerConnection to one remote endpoint. Guarded
// by WebRTCTransport.mu.
type peerState struct {
	connection  *webrtc.PeerConnection
	localpart   string
	established chan struct{} // closed when ICE reaches Connected/Completed
}

// NewWebRTCTransport creates a WebRTC transport.
func NewWebRTCTransport(config WebRTCConfig) (*WebRTCTransport, error) {
	if config.Signaler == nil {
		return nil, errors.New("transport: WebRTCConfig.Signaler is required")
	}
	if config.Localpart == "" {
		return nil, errors.New("transport: WebRTCConfig.Localpart is required")
	}
	if config.Logger == nil {
		return nil, errors.New("transport: WebRTCConfig.Logger is required")
	}
	signalPoll := config.SignalPollInterval
	if signalPoll <= 0 {
		signalPoll = defaultSignalPollInterval
	}
	answerPoll := config.AnswerPollInterval
	if answerPoll <= 0 {
		answerPoll = defaultAnswerPollInterval
	}
	return &WebRTCTransport{
		signaler:           config.Signaler,
		localpart:          config.Localpart,
		iceConfig:          config.ICE,
		logger:             config.Logger.With("localpart", config.Localpart),
		signalPollInterval: signalPoll,
		answerPollInterval: answerPoll,
		peers:              make(map[string]*peerState),
		inboundConnections: make(chan net.Conn, 64),
		ready:              make(chan struct{}),
		closed:             make(chan struct{}),
	}, nil
}

// Ready returns a channel that is closed when Serve has started the
// signaling poller and is ready to answer offers.
func (wt *WebRTCTransport) Ready() <-chan struct{} {
	return wt.ready
}

// Serve polls for inbound offers and dispatches incoming data channels
// to handler. Blocks until ctx is cancelled or Close is called.
func (wt *WebRTCTransport) Serve(ctx context.Context, handler ConnHandler) error {
	go wt.signalingPoller(ctx)
	wt.readyOnce.Do(func() { close(wt.ready) })

	listener := &chanListener{
		connections: wt.inboundConnections,
		transport:   wt.closed,
		done:        make(chan struct{}),
	}
	return serve(ctx, listener, handler, wt.logger)
}

// Address returns the localpart. Participants pass it to DialContext.
func (wt *WebRTCTransport) Address() string {
	return wt.localpart
}

// Close shuts down all PeerConnections and stops the signaling poller.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
	})

	wt.mu.Lock()
	defer wt.mu.Unlock()

	for localpart, peer := range wt.peers {
		peer.connection.Close()
		delete(wt.peers, localpart)
	}
	return nil
}

// UpdateICEConfig replaces the ICE configuration for new
// PeerConnections. Existing PeerConnections keep theirs.
func (wt *WebRTCTransport) UpdateICEConfig(config ICEConfig) {
	wt.configMu.Lock()
	defer wt.configMu.Unlock()
	wt.iceConfig = config
}

// DialContext opens a data channel to the endpoint whose localpart is
// address. If no PeerConnection exists to it, one is created by
// publishing an SDP offer and waiting for the answer. Each call
// creates a new ordered, reliable data channel.
func (wt *WebRTCTransport) DialContext(ctx context.Context, address string) (net.Conn, error) {
	select {
	case <-wt.closed:
		return nil, net.ErrClosed
	default:
	}

	peer, err := wt.getOrCreatePeer(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("establishing peer connection to %s: %w", address, err)
	}

	select {
	case <-peer.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.closed:
		return nil, net.ErrClosed
	}

	return wt.openDataChannel(ctx, peer)
}

// getOrCreatePeer returns the peerState for peerLocalpart, creating and
// signaling a new PeerConnection if necessary. Concurrent callers wait
// for one signaling attempt rather than starting parallel ones.
func (wt *WebRTCTransport) getOrCreatePeer(ctx context.Context, peerLocalpart string) (*peerState, error) {
	wt.mu.Lock()

	if peer, ok := wt.peers[peerLocalpart]; ok {
		if usable(peer.connection) {
			wt.mu.Unlock()
			return peer, nil
		}
		peer.connection.Close()
		delete(wt.peers, peerLocalpart)
	}

	pc, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		localpart:   peerLocalpart,
		established: make(chan struct{}),
	}
	wt.peers[peerLocalpart] = peer
	wt.mu.Unlock()

	if err := wt.establishOutbound(ctx, peer); err != nil {
		wt.mu.Lock()
		if current, ok := wt.peers[peerLocalpart]; ok && current == peer {
			delete(wt.peers, peerLocalpart)
		}
		wt.mu.Unlock()
		pc.Close()
		return nil, err
	}

	return peer, nil
}

func usable(pc *webrtc.PeerConnection) bool {
	state := pc.ICEConnectionState()
	return state != webrtc.ICEConnectionStateFailed &&
		state != webrtc.ICEConnectionStateClosed
}

// establishOutbound performs SDP signaling for a PeerConnection already
// registered in the peers map. On success peer.established is closed
// by the ICE state handler.
func (wt *WebRTCTransport) establishOutbound(ctx context.Context, peer *peerState) error {
	pc := peer.connection
	wt.watchPeer(peer)

	if _, err := pc.CreateDataChannel(initChannelLabel, nil); err != nil {
		return fmt.Errorf("creating init data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	completeSDP, err := wt.gather(ctx, pc, offer)
	if err != nil {
		return err
	}

	if err := wt.signaler.PublishOffer(ctx, wt.localpart, peer.localpart, completeSDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	wt.logger.Info("WebRTC offer published", "peer", peer.localpart)

	answerSDP, err := wt.waitForAnswer(ctx, peer.localpart)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", peer.localpart, err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	wt.logger.Info("WebRTC outbound connection negotiated", "peer", peer.localpart)
	return nil
}

// gather sets the local description and waits for vanilla ICE
// gathering, returning the SDP with every candidate embedded.
func (wt *WebRTCTransport) gather(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}

	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
		return pc.LocalDescription().SDP, nil
	case <-timer.C:
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-wt.closed:
		return "", net.ErrClosed
	}
}

// watchPeer registers the inbound data channel and ICE state handlers.
func (wt *WebRTCTransport) watchPeer(peer *peerState) {
	peer.connection.OnDataChannel(func(dc *webrtc.DataChannel) {
		wt.handleInboundDataChannel(dc, peer.localpart)
	})
	peer.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(peer, state)
	})
}

// waitForAnswer polls the signaler for an SDP answer from peerLocalpart.
func (wt *WebRTCTransport) waitForAnswer(ctx context.Context, peerLocalpart string) (string, error) {
	deadline := time.NewTimer(answerTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(wt.answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wt.closed:
			return "", net.ErrClosed
		case <-ticker.C:
			answers, err := wt.signaler.PollAnswers(ctx, wt.localpart)
			if err != nil {
				wt.logger.Warn("polling for SDP answer failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.PeerLocalpart == peerLocalpart {
					return answer.SDP, nil
				}
			}
		}
	}
}

// signalingPoller answers inbound offers until ctx ends or the
// transport closes.
func (wt *WebRTCTransport) signalingPoller(ctx context.Context) {
	ticker := time.NewTicker(wt.signalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.closed:
			return
		case <-ticker.C:
			wt.processInboundOffers(ctx)
		}
	}
}

// processInboundOffers checks for new SDP offers and answers them.
func (wt *WebRTCTransport) processInboundOffers(ctx context.Context) {
	offers, err := wt.signaler.PollOffers(ctx, wt.localpart)
	if err != nil {
		wt.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		wt.mu.Lock()
		existing, hasExisting := wt.peers[offer.PeerLocalpart]
		wt.mu.Unlock()

		if hasExisting {
			// Both sides dialing at once: the lexicographically
			// smaller localpart is the canonical offerer.
			if usable(existing.connection) && offer.PeerLocalpart > wt.localpart {
				continue
			}
			// A new offer from a live peer means it restarted and
			// dropped its end, so ours is stale either way.
			wt.mu.Lock()
			existing.connection.Close()
			if current, ok := wt.peers[offer.PeerLocalpart]; ok && current == existing {
				delete(wt.peers, offer.PeerLocalpart)
			}
			wt.mu.Unlock()
		}

		if err := wt.answerOffer(ctx, offer); err != nil {
			wt.logger.Error("answering WebRTC offer failed",
				"peer", offer.PeerLocalpart,
				"error", err,
			)
		}
	}
}

// answerOffer creates a PeerConnection in response to an inbound offer.
func (wt *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		localpart:   offer.PeerLocalpart,
		established: make(chan struct{}),
	}
	wt.watchPeer(peer)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	completeSDP, err := wt.gather(ctx, pc, answer)
	if err != nil {
		pc.Close()
		return err
	}

	if err := wt.signaler.PublishAnswer(ctx, offer.PeerLocalpart, wt.localpart, completeSDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	wt.mu.Lock()
	wt.peers[offer.PeerLocalpart] = peer
	wt.mu.Unlock()

	wt.logger.Info("WebRTC inbound connection answered", "peer", offer.PeerLocalpart)
	return nil
}

// handleInboundDataChannel wraps an incoming data channel as a net.Conn
// and queues it for Serve.
func (wt *WebRTCTransport) handleInboundDataChannel(dc *webrtc.DataChannel, peerLocalpart string) {
	// Nobody reads the init channel. Leaving it open would park a
	// handler on a read that never completes.
	if dc.Label() == initChannelLabel {
		dc.OnOpen(func() {
			dc.Close()
		})
		return
	}

	dc.OnOpen(func() {
		wt.logger.Debug("inbound data channel opened",
			"peer", peerLocalpart,
			"label", dc.Label(),
		)
		rawChannel, err := dc.Detach()
		if err != nil {
			wt.logger.Error("detaching inbound data channel failed",
				"peer", peerLocalpart,
				"label", dc.Label(),
				"error", err,
			)
			return
		}

		conn := NewDataChannelConn(
			rawChannel,
			wt.localpart+"/"+dc.Label(),
			peerLocalpart+"/"+dc.Label(),
		)

		select {
		case wt.inboundConnections <- conn:
		case <-wt.closed:
			conn.Close()
		}
	})
}

// handleICEStateChange manages the established signal and forgets
// closed PeerConnections.
func (wt *WebRTCTransport) handleICEStateChange(peer *peerState, state webrtc.ICEConnectionState) {
	wt.logger.Debug("ICE state change",
		"peer", peer.localpart,
		"state", state.String(),
	)

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		select {
		case <-peer.established:
		default:
			close(peer.established)
		}

	case webrtc.ICEConnectionStateFailed:
		// getOrCreatePeer replaces failed connections on the next dial.
		wt.logger.Warn("WebRTC connection failed", "peer", peer.localpart)

	case webrtc.ICEConnectionStateClosed:
		wt.mu.Lock()
		if current, ok := wt.peers[peer.localpart]; ok && current == peer {
			delete(wt.peers, peer.localpart)
		}
		wt.mu.Unlock()
	}
}

// openDataChannel creates an ordered, reliable data channel on the
// peer's PeerConnection and returns it as a net.Conn.
func (wt *WebRTCTransport) openDataChannel(ctx context.Context, peer *peerState) (net.Conn, error) {
	label := fmt.Sprintf("link-%d", wt.channelCounter.Add(1))

	ordered := true
	dc, err := peer.connection.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	timer := time.NewTimer(channelOpenTimeout)
	defer timer.Stop()
	select {
	case <-opened:
	case <-timer.C:
		dc.Close()
		return nil, fmt.Errorf("data channel %s did not open within %s", label, channelOpenTimeout)
	case <-ctx.Done():
		dc.Close()
		return nil, ctx.Err()
	case <-wt.closed:
		dc.Close()
		return nil, net.ErrClosed
	}

	rawChannel, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}

	wt.logger.Debug("data channel opened", "label", label, "peer", peer.localpart)
	return NewDataChannelConn(
		rawChannel,
		wt.localpart+"/"+label,
		peer.localpart+"/"+label,
	), nil
}

// newPeerConnection creates a pion PeerConnection with the current ICE
// config. Detached data channels give stream access; loopback
// candidates let a host and participant on one machine connect.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	wt.configMu.RLock()
	config := webrtc.Configuration{
		ICEServers: wt.iceConfig.Servers,
	}
	wt.configMu.RUnlock()

	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// chanListener implements net.Listener over the inbound connection
// channel so Serve can share the accept loop with TCPListener.
type chanListener struct {
	connections <-chan net.Conn
	transport   <-chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connections:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.transport:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return &dataChannelAddr{label: "webrtc-listener"}
}
