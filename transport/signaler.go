// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
)

// Signaler abstracts the mechanism for exchanging WebRTC session
// descriptions between a participant and a relay host. The directory
// client implements it against the directory service; tests use
// [MemorySignaler].
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round-trip (offer, then answer).
type Signaler interface {
	// PublishOffer publishes a complete SDP offer from localpart
	// directed at targetLocalpart.
	PublishOffer(ctx context.Context, localpart, targetLocalpart, sdp string) error

	// PublishAnswer publishes a complete SDP answer in response to a
	// previously received offer from offererLocalpart.
	PublishAnswer(ctx context.Context, offererLocalpart, localpart, sdp string) error

	// PollOffers returns offers directed at localpart that it has not
	// seen yet.
	PollOffers(ctx context.Context, localpart string) ([]SignalMessage, error)

	// PollAnswers returns answers to offers originated by localpart
	// that it has not seen yet.
	PollAnswers(ctx context.Context, localpart string) ([]SignalMessage, error)
}

// SignalMessage represents a signaling message (offer or answer).
type SignalMessage struct {
	// PeerLocalpart is the other party. For received offers, this is
	// the offerer. For received answers, this is the answerer.
	PeerLocalpart string `cbor:"peer"`

	// SDP is the complete Session Description Protocol string with all
	// ICE candidates embedded.
	SDP string `cbor:"sdp"`

	// Timestamp is the RFC 3339 creation time of the signal.
	Timestamp string `cbor:"timestamp"`
}

// signalingSeparator joins the offerer and target localparts into a
// signal key. Localparts never contain it.
const signalingSeparator = "|"

// signalKeyMatcher reports whether a signal key concerns localpart
// and, if so, which peer it names.
type signalKeyMatcher func(key, localpart string) (peer string, ok bool)

// matchOfferKey matches "<offerer>|<localpart>" and returns the offerer.
func matchOfferKey(key, localpart string) (string, bool) {
	offerer, found := strings.CutSuffix(key, signalingSeparator+localpart)
	if !found || offerer == "" {
		return "", false
	}
	return offerer, true
}

// matchAnswerKey matches "<localpart>|<target>" and returns the target.
func matchAnswerKey(key, localpart string) (string, bool) {
	target, found := strings.CutPrefix(key, localpart+signalingSeparator)
	if !found || target == "" {
		return "", false
	}
	return target, true
}
