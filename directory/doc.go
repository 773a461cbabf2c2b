// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory implements the session directory: the service
// participants query to list, create, and join sessions, and through
// which distributed-topology participants exchange WebRTC offers and
// answers with the session relay.
//
// [Store] holds the sessions in memory. [Server] exposes a Store over
// the CBOR request/response protocol of lib/service, adds per-client
// authentication tokens and rate limiting, and relays signaling
// messages through a [transport.MemorySignaler] shared with the relay's
// WebRTC transport. [Client] is the participant side: it implements
// session.Directory, session.Authenticator, and transport.Signaler
// against a Server.
//
// Sessions live only as long as the daemon. A session is removed when
// its last member leaves; when the host leaves, the longest-standing
// remaining member becomes host.
package directory
