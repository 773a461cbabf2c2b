// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer binds the session layer to the authority relay. A
// [Network] implements session.Transport: starting a link attaches the
// participant to a relay, either the directory's relay reached over
// WebRTC (distributed topology) or a relay the local host runs on a
// TCP listener (local topology). The resulting [Link] turns relay
// membership updates into session link events and exposes the
// participant's authority.Coordinator.
package peer
