// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// netplay-directory runs the session directory and the session relay
// for the distributed topology.
//
// The directory serves the CBOR socket protocol of the directory
// package on directory.address. The relay accepts participant links
// over WebRTC data channels, signaled through the same directory, and
// runs one authority hub per session. State is kept in memory.
//
// Usage:
//
//	netplay-directory [--config <file>] [--address <addr>] [--no-relay]
package main
