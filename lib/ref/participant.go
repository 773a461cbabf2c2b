// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strconv"
)

// ParticipantID identifies one participant for the lifetime of a
// session. IDs are assigned by the session host in join order starting
// at 1. The zero value means "no participant".
type ParticipantID uint64

// NoParticipant is the zero ParticipantID.
const NoParticipant ParticipantID = 0

// ParseParticipantID parses the decimal form produced by String.
func ParseParticipantID(raw string) (ParticipantID, error) {
	if raw == "" {
		return NoParticipant, fmt.Errorf("empty participant ID")
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return NoParticipant, fmt.Errorf("invalid participant ID %q: %w", raw, err)
	}
	return ParticipantID(value), nil
}

// String returns the decimal form.
func (p ParticipantID) String() string { return strconv.FormatUint(uint64(p), 10) }

// IsZero reports whether p is NoParticipant.
func (p ParticipantID) IsZero() bool { return p == NoParticipant }

// MarshalText implements encoding.TextMarshaler.
func (p ParticipantID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ParticipantID) UnmarshalText(data []byte) error {
	parsed, err := ParseParticipantID(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
