// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package destroy implements destruction trigger volumes.
//
// A [Gate] reacts to entry contacts. A networked object is removed
// through the ownership protocol and gets a local effect. A player
// character or projectile gets an effect broadcast to every
// participant and is reset. Each object is handled at most once per
// gate.
package destroy
