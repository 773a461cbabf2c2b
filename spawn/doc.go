// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn dispenses networked objects from fixed slots.
//
// A [Gate] tracks one slot through a replicated reference held by the
// relay, so every participant agrees which object occupies it. The
// session owner is the only participant that spawns or releases; the
// others just follow the reference. A cooldown separates a release
// from the next spawn and restarts whenever the reference changes or
// spawn authority moves to this participant after a promotion.
package spawn
