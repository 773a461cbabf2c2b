// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that waiting code can be tested
// deterministically.
//
// Production code holds a Clock field set to Real(). Tests construct a
// FakeClock with Fake, start the code under test, wait for it to
// register its timer, and then step time forward:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	gate := spawn.New(spawn.Config{Clock: fake, ...})
//	go gate.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(500 * time.Millisecond)
//
// Advance fires pending waiters one at a time in deadline order and
// moves Now to each deadline before firing it, so a callback that
// schedules a follow-up timer sees the time it was scheduled for.
// AfterFunc callbacks run synchronously inside Advance.
package clock
