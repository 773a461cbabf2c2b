// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package effect plays short-lived visual cues from a fixed pool.
//
// A [Player] checks a [Handle] out of a [Provider], positions it, and
// schedules its release on a [clock.Clock] before anything can fail,
// so every handle returns to the pool after its lifetime.
package effect
