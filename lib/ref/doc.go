// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides the identity types shared across netplay:
// ParticipantID for session members and ObjectID for networked
// objects.
//
// Both implement encoding.TextMarshaler, so they serialize as text in
// CBOR frames (see lib/codec) and as plain strings in logs.
package ref
