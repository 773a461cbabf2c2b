// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strconv"
	"strings"
)

const scenePrefix = "scene"

// ObjectID identifies a networked object. Objects created at runtime
// are named by their creator and a per-creator serial ("7/42"), so
// participants can name new objects without a round trip. Objects
// placed in the scene use "scene/<name>".
//
// The zero value is not valid; use IsZero to check.
type ObjectID struct {
	id string
}

// NewObjectID returns the ID of the serial'th object created by
// creator.
func NewObjectID(creator ParticipantID, serial uint64) ObjectID {
	return ObjectID{id: creator.String() + "/" + strconv.FormatUint(serial, 10)}
}

// SceneObjectID returns the ID of a scene-placed object.
func SceneObjectID(name string) (ObjectID, error) {
	if name == "" {
		return ObjectID{}, fmt.Errorf("empty scene object name")
	}
	if strings.ContainsRune(name, '/') {
		return ObjectID{}, fmt.Errorf("scene object name contains '/': %q", name)
	}
	return ObjectID{id: scenePrefix + "/" + name}, nil
}

// ParseObjectID validates the text form of an ObjectID.
func ParseObjectID(raw string) (ObjectID, error) {
	prefix, suffix, found := strings.Cut(raw, "/")
	if !found || prefix == "" || suffix == "" {
		return ObjectID{}, fmt.Errorf("object ID must be <creator>/<serial> or scene/<name>: %q", raw)
	}
	if prefix == scenePrefix {
		return SceneObjectID(suffix)
	}
	creator, err := ParseParticipantID(prefix)
	if err != nil {
		return ObjectID{}, fmt.Errorf("object ID %q: %w", raw, err)
	}
	serial, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return ObjectID{}, fmt.Errorf("object ID %q has invalid serial: %w", raw, err)
	}
	return NewObjectID(creator, serial), nil
}

// String returns the text form.
func (o ObjectID) String() string { return o.id }

// IsZero reports whether o is the zero value.
func (o ObjectID) IsZero() bool { return o.id == "" }

// IsScene reports whether o names a scene-placed object.
func (o ObjectID) IsScene() bool { return strings.HasPrefix(o.id, scenePrefix+"/") }

// MarshalText implements encoding.TextMarshaler. The zero value
// marshals as an empty string.
func (o ObjectID) MarshalText() ([]byte, error) {
	return []byte(o.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *ObjectID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*o = ObjectID{}
		return nil
	}
	parsed, err := ParseObjectID(string(data))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Creator returns the participant that minted a runtime object ID.
// Scene and zero IDs have no creator.
func (o ObjectID) Creator() (ParticipantID, bool) {
	if o.IsZero() || o.IsScene() {
		return NoParticipant, false
	}
	prefix, _, _ := strings.Cut(o.id, "/")
	creator, err := ParseParticipantID(prefix)
	if err != nil {
		return NoParticipant, false
	}
	return creator, true
}
