// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status provides the two notification shapes netplay uses to
// talk to observers.
//
// [Value] is a bindable last-value cell: observers only care about the
// most recent value (connection state, status text), so a slow
// observer sees the latest value and misses intermediate ones.
//
// [Feed] is an event stream: every subscriber receives every event
// (player joined, connection failed) as long as it keeps up with its
// buffer. Publish never blocks; an event that does not fit a full
// buffer is dropped for that subscriber and counted.
package status
