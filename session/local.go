// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
)

// LocalRoomName names sessions started with HostLocal and JoinLocal.
const LocalRoomName = "Local Room"

// localSession is a directory-less session for direct local-network
// play. Its room code is the host's address.
type localSession struct {
	mu         sync.Mutex
	descriptor Descriptor
	host       bool
	watchers   map[int]func(Descriptor)
	nextWatch  int
}

func newLocalSession(id, code string, maxPlayers int, host bool) *localSession {
	return &localSession{
		descriptor: Descriptor{
			ID:             id,
			Name:           LocalRoomName,
			Code:           code,
			MaxPlayers:     maxPlayers,
			AvailableSlots: maxPlayers - 1,
			IsPrivate:      true,
			Properties:     map[string]string{PropertyJoinAddress: code},
		},
		host:     host,
		watchers: make(map[int]func(Descriptor)),
	}
}

func (s *localSession) Describe() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

func (s *localSession) IsHost() bool { return s.host }

func (s *localSession) Subscribe(fn func(Descriptor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

func (s *localSession) Leave(context.Context) error { return nil }

func (s *localSession) SetName(_ context.Context, name string) error {
	s.update(func(d *Descriptor) { d.Name = name })
	return nil
}

func (s *localSession) SetPrivate(context.Context, bool) error {
	// Local sessions are never listed.
	return nil
}

func (s *localSession) update(change func(*Descriptor)) {
	s.mu.Lock()
	change(&s.descriptor)
	descriptor := s.descriptor
	watchers := make([]func(Descriptor), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(descriptor)
	}
}
