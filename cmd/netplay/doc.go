// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// netplay is an interactive participant. It reads commands from stdin
// to browse, create, and join sessions, and to spawn, move, and
// destroy networked objects once connected. Membership changes,
// ownership promotions, and connection failures are printed as they
// happen.
//
// In the distributed topology it authenticates with the directory
// named by directory.address and links to the directory's relay over
// WebRTC. When the connectivity probe fails it falls back to the local
// topology: "host" runs a relay on transport.port and "join-local
// <host>" dials one.
//
// Type "help" at the prompt for the command list.
package main
