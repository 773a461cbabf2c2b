// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority arbitrates ownership of networked objects within
// a session.
//
// Every session has one authoritative [Hub]: a single goroutine that
// processes participant requests in arrival order, acknowledges each
// one, and broadcasts the resulting [Update] to every attached
// participant. A [Relay] runs one hub per session and serves
// participant connections; the directory daemon runs a relay for
// distributed sessions and a local-network host runs one in-process.
//
// Participants connect with [Dial] or [AttachLocal] and get a [Link]
// that keeps a [Registry] replica current. The [Coordinator] on top
// of a link implements the ownership protocol: transfers are
// optimistic requests, and any owner-only action (despawn, move,
// hold) re-validates ownership against the replica before it is sent
// and again on the hub when it executes. Two participants racing to
// despawn the same object therefore remove it at most once, and the
// loser simply observes that it no longer owns the object.
//
// When a participant detaches, the hub hands its objects to the
// session owner. If the session owner itself leaves, the
// earliest-joined remaining participant is promoted first.
//
// Frames are CBOR values ([Frame]) written back to back on the
// connection; CBOR is self-delimiting so no extra framing is used.
package authority
