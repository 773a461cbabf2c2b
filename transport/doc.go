// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries participant links between a relay host and
// its participants.
//
// The package defines two interfaces: [Listener] accepts inbound
// connections (Serve, Address, Close) and hands each to a
// [ConnHandler], and [Dialer] establishes outbound connections
// (DialContext). The session layer serves a relay through a Listener
// and dials it through a Dialer; it never sees which transport is in
// use.
//
// [TCPListener] and [TCPDialer] serve the local-network topology,
// where participants reach the host directly. [LocalAddress],
// [ResolveHost], and [Reachable] support that topology: finding the
// address to advertise, resolving a typed host name, and probing
// whether the internet is reachable at all.
//
// [WebRTCTransport] serves the distributed topology, using pion/webrtc
// data channels with ICE/TURN for NAT traversal. Each pair of
// endpoints shares a single PeerConnection with SCTP-multiplexed data
// channels. [WebRTCTransport] implements both Listener and Dialer on a
// single instance.
//
// Signaling is abstracted behind the [Signaler] interface, which
// publishes and polls SDP offers and answers. The directory client
// implements it against the directory service; [MemorySignaler] is the
// in-process implementation the directory service and tests use.
// [SignalMessage] carries the SDP payload with every ICE candidate
// embedded (vanilla ICE).
//
// When both endpoints attempt to connect simultaneously, the one whose
// localpart is lexicographically smaller becomes the offerer, and the
// other drops its redundant PeerConnection.
//
// [ICEConfig] holds STUN/TURN server configuration, built from
// configured URLs by [ICEConfigFromURLs]. [DataChannelConn] wraps a
// detached pion data channel as a net.Conn with deadline support.
package transport
