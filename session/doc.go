// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session establishes and tears down the local participant's
// membership in a multiplayer session.
//
// [StateMachine] owns the connection state (none, authenticating,
// authenticated, connecting, connected). Its table is the only place
// the state changes; a connect request while already connecting is
// rejected with [ErrAlreadyInProgress] rather than queued.
//
// [Coordinator] translates intents into [Directory] calls: quick join
// (first listed session with a free slot, otherwise create), join by
// room code, join a listed session, create. Directory failures are
// classified into an [*Error] with a [Kind] and the message shown to
// the user.
//
// [Roster] tracks which participants are present and publishes join
// and leave events.
//
// [Manager] composes the three with an [Authenticator] and a
// [Transport]. It admits one connect operation at a time, leaves the
// current session before joining another (waiting a short grace period
// in between), starts the participant link, and feeds link membership
// events into the roster. In the local topology no authentication is
// performed and created sessions are private; a distributed
// configuration drops to the local topology when its connectivity
// probe fails.
//
// Observers read state through lib/status: [Manager.WatchState] and
// [Manager.WatchStatus] deliver the latest value, while
// [Manager.SubscribeFailures], [Roster.Subscribe], and
// [Manager.SubscribePromotions] deliver every event.
package session
