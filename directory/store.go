// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"cmp"
	"encoding/base32"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/netplay/session"
)

// codeLength is the number of characters in a room code.
const codeLength = 6

// maxCodeAttempts bounds rehashing when a derived code collides.
const maxCodeAttempts = 64

// Error codes returned to clients in addition to the session.Code*
// values.
const (
	CodeInvalid         = "invalid"
	CodeNotHost         = "not_host"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
)

// Error is a directory failure with a code the client can branch on.
// It implements service.Coder.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// ServiceCode returns the code sent to the client.
func (e *Error) ServiceCode() string { return e.Code }

func notFound() error {
	return &Error{Code: session.CodeNotFound, Message: "Lobby not found"}
}

// record is a stored session. members[0] is the host.
type record struct {
	descriptor session.Descriptor
	members    []string
	created    uint64
}

func (r *record) snapshot() session.Descriptor {
	descriptor := r.descriptor
	descriptor.AvailableSlots = descriptor.MaxPlayers - len(r.members)
	descriptor.Properties = maps.Clone(r.descriptor.Properties)
	return descriptor
}

func (r *record) hasMember(member string) bool {
	return slices.Contains(r.members, member)
}

// Store is the in-memory session table. Members are identified by the
// localpart their authentication token was issued for. Store is safe
// for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*record
	codes    map[string]string // code -> session ID
	sequence uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*record),
		codes:    make(map[string]string),
	}
}

// Query lists the public sessions in creation order.
func (s *Store) Query() []session.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*record, 0, len(s.sessions))
	for _, r := range s.sessions {
		if !r.descriptor.IsPrivate {
			records = append(records, r)
		}
	}
	slices.SortFunc(records, func(a, b *record) int { return cmp.Compare(a.created, b.created) })

	descriptors := make([]session.Descriptor, len(records))
	for i, r := range records {
		descriptors[i] = r.snapshot()
	}
	return descriptors
}

// CreateOrJoin creates the session described by options with member
// as host, or joins it when a session with options.ID exists. host
// reports whether member ended up host.
func (s *Store) CreateOrJoin(member string, options session.CreateOptions) (descriptor session.Descriptor, host bool, err error) {
	if err := validateCreate(options); err != nil {
		return session.Descriptor{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[options.ID]; ok {
		return s.joinLocked(member, existing)
	}

	code, err := s.deriveCodeLocked(options.ID)
	if err != nil {
		return session.Descriptor{}, false, err
	}
	s.sequence++
	created := &record{
		descriptor: session.Descriptor{
			ID:         options.ID,
			Name:       options.Name,
			Code:       code,
			MaxPlayers: options.MaxPlayers,
			IsPrivate:  options.IsPrivate,
			Properties: maps.Clone(options.Properties),
		},
		members: []string{member},
		created: s.sequence,
	}
	s.sessions[options.ID] = created
	s.codes[code] = options.ID
	return created.snapshot(), true, nil
}

func validateCreate(options session.CreateOptions) error {
	var errs []error
	if options.ID == "" {
		errs = append(errs, errors.New("session id is required"))
	}
	if options.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("max players must be positive, got %d", options.MaxPlayers))
	}
	if err := errors.Join(errs...); err != nil {
		return &Error{Code: CodeInvalid, Message: err.Error()}
	}
	return nil
}

// JoinByID joins a session by ID. Private sessions can be joined by ID
// only by participants that already know it.
func (s *Store) JoinByID(member, id string) (session.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		return session.Descriptor{}, false, notFound()
	}
	return s.joinLocked(member, existing)
}

// JoinByCode joins a session by its room code.
func (s *Store) JoinByCode(member, code string) (session.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return session.Descriptor{}, false, notFound()
	}
	return s.joinLocked(member, s.sessions[id])
}

// joinLocked adds member to r. Joining a session one is already in is
// a no-op that reports the current state.
func (s *Store) joinLocked(member string, r *record) (session.Descriptor, bool, error) {
	if r.hasMember(member) {
		return r.snapshot(), r.members[0] == member, nil
	}
	if len(r.members) >= r.descriptor.MaxPlayers {
		return session.Descriptor{}, false, &Error{Code: session.CodeFull, Message: "Lobby is full"}
	}
	r.members = append(r.members, member)
	return r.snapshot(), false, nil
}

// Describe returns the current descriptor of a session and whether
// member is its host.
func (s *Store) Describe(member, id string) (session.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return session.Descriptor{}, false, notFound()
	}
	return r.snapshot(), r.members[0] == member, nil
}

// Leave removes member from a session, handing the host role to the
// next member and removing the session when it empties.
func (s *Store) Leave(member, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return notFound()
	}
	index := slices.Index(r.members, member)
	if index < 0 {
		return &Error{Code: CodeForbidden, Message: "not a member of this session"}
	}
	r.members = slices.Delete(r.members, index, index+1)
	if len(r.members) == 0 {
		delete(s.sessions, id)
		delete(s.codes, r.descriptor.Code)
	}
	return nil
}

// LeaveAll removes member from every session it belongs to and returns
// the IDs it left.
func (s *Store) LeaveAll(member string) []string {
	s.mu.Lock()
	ids := make([]string, 0)
	for id, r := range s.sessions {
		if r.hasMember(member) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		s.Leave(member, id)
	}
	return ids
}

// SetName renames a session. Only the host may.
func (s *Store) SetName(member, id, name string) error {
	return s.hostUpdate(member, id, func(d *session.Descriptor) { d.Name = name })
}

// SetPrivate changes whether a session is listed. Only the host may.
func (s *Store) SetPrivate(member, id string, private bool) error {
	return s.hostUpdate(member, id, func(d *session.Descriptor) { d.IsPrivate = private })
}

func (s *Store) hostUpdate(member, id string, apply func(*session.Descriptor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return notFound()
	}
	if r.members[0] != member {
		return &Error{Code: CodeNotHost, Message: "only the host can change the session"}
	}
	apply(&r.descriptor)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// deriveCodeLocked hashes the session ID into a short code, rehashing
// with an attempt counter until the code is unused.
func (s *Store) deriveCodeLocked(id string) (string, error) {
	for attempt := range maxCodeAttempts {
		input := id
		if attempt > 0 {
			input = id + "#" + strconv.Itoa(attempt)
		}
		sum := blake3.Sum256([]byte(input))
		code := base32.StdEncoding.EncodeToString(sum[:])[:codeLength]
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code for session %q after %d attempts", id, maxCodeAttempts)
}
