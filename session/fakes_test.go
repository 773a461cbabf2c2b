// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/netplay/lib/ref"
)

// fakeDirectory is a scripted Directory. Listed sessions are joinable
// by ID; joinErrors and codeErrors override individual joins.
type fakeDirectory struct {
	mu         sync.Mutex
	listed     []Descriptor
	queryErr   error
	joinErrors map[string]error
	codeErrors map[string]error
	codes      map[string]Descriptor
	createErr  error

	joinAttempts []string
	created      []CreateOptions
	sessions     []*fakeSession
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		joinErrors: make(map[string]error),
		codeErrors: make(map[string]error),
		codes:      make(map[string]Descriptor),
	}
}

func (d *fakeDirectory) QuerySessions(ctx context.Context) ([]Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return append([]Descriptor(nil), d.listed...), nil
}

func (d *fakeDirectory) CreateOrJoin(ctx context.Context, options CreateOptions) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, options)
	if d.createErr != nil {
		return nil, d.createErr
	}
	created := newFakeSession(Descriptor{
		ID:             options.ID,
		Name:           options.Name,
		Code:           "CODE-" + options.ID,
		MaxPlayers:     options.MaxPlayers,
		AvailableSlots: options.MaxPlayers - 1,
		IsPrivate:      options.IsPrivate,
		Properties:     options.Properties,
	}, true)
	d.sessions = append(d.sessions, created)
	return created, nil
}

func (d *fakeDirectory) JoinByID(ctx context.Context, id string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joinAttempts = append(d.joinAttempts, id)
	if err := d.joinErrors[id]; err != nil {
		return nil, err
	}
	for _, descriptor := range d.listed {
		if descriptor.ID == id {
			joined := newFakeSession(descriptor, false)
			d.sessions = append(d.sessions, joined)
			return joined, nil
		}
	}
	return nil, &ServiceError{Code: CodeNotFound, Message: "session not found"}
}

func (d *fakeDirectory) JoinByCode(ctx context.Context, code string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.codeErrors[code]; err != nil {
		return nil, err
	}
	descriptor, ok := d.codes[code]
	if !ok {
		return nil, &ServiceError{Code: CodeNotFound, Message: "Lobby not found"}
	}
	joined := newFakeSession(descriptor, false)
	d.sessions = append(d.sessions, joined)
	return joined, nil
}

func (d *fakeDirectory) joined() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.joinAttempts...)
}

func (d *fakeDirectory) createdOptions() []CreateOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]CreateOptions(nil), d.created...)
}

type fakeSession struct {
	mu          sync.Mutex
	descriptor  Descriptor
	host        bool
	leaves      int
	subscribers map[int]func(Descriptor)
	next        int
	subscribes  int
}

func newFakeSession(descriptor Descriptor, host bool) *fakeSession {
	return &fakeSession{descriptor: descriptor, host: host, subscribers: make(map[int]func(Descriptor))}
}

func (s *fakeSession) Describe() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

func (s *fakeSession) IsHost() bool { return s.host }

func (s *fakeSession) Subscribe(fn func(Descriptor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subscribes++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *fakeSession) Leave(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSession) SetName(_ context.Context, name string) error {
	if !s.host {
		return errors.New("not host")
	}
	s.change(func(d *Descriptor) { d.Name = name })
	return nil
}

func (s *fakeSession) SetPrivate(_ context.Context, private bool) error {
	if !s.host {
		return errors.New("not host")
	}
	s.change(func(d *Descriptor) { d.IsPrivate = private })
	return nil
}

func (s *fakeSession) change(apply func(*Descriptor)) {
	s.mu.Lock()
	apply(&s.descriptor)
	descriptor := s.descriptor
	var subscribers []func(Descriptor)
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()
	for _, fn := range subscribers {
		fn(descriptor)
	}
}

func (s *fakeSession) stats() (leaves, subscribes, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves, s.subscribes, len(s.subscribers)
}

// fakeTransport hands out fakeLinks with increasing participant IDs.
// When gate is non-nil, Start blocks until it is closed or the
// context ends.
type fakeTransport struct {
	mu      sync.Mutex
	next    ref.ParticipantID
	err     error
	gate    chan struct{}
	started chan StartOptions
	links   []*fakeLink
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{next: 1, started: make(chan StartOptions, 16)}
}

func (t *fakeTransport) Start(ctx context.Context, options StartOptions) (Link, error) {
	t.started <- options
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	link := &fakeLink{id: t.next, events: make(chan LinkEvent, 16)}
	t.next++
	t.links = append(t.links, link)
	return link, nil
}

func (t *fakeTransport) lastLink() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

type fakeLink struct {
	id     ref.ParticipantID
	events chan LinkEvent
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (l *fakeLink) LocalID() ref.ParticipantID { return l.id }

func (l *fakeLink) Events() <-chan LinkEvent { return l.events }

func (l *fakeLink) Close(context.Context) error {
	l.end()
	return nil
}

func (l *fakeLink) emit(event LinkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.events <- event
	}
}

// end closes the link as if the remote side went away.
func (l *fakeLink) end() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeAuthenticator struct {
	mu            sync.Mutex
	err           error
	calls         int
	authenticated bool
}

func (a *fakeAuthenticator) Authenticate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	a.authenticated = true
	return nil
}

func (a *fakeAuthenticator) Authenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

// expire makes the authenticator report a lapsed login.
func (a *fakeAuthenticator) expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authenticated = false
}

func (a *fakeAuthenticator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func listed(id string, slots int) Descriptor {
	return Descriptor{
		ID:             id,
		Name:           fmt.Sprintf("Room %s", id),
		Code:           "C" + id,
		MaxPlayers:     4,
		AvailableSlots: slots,
		Properties:     map[string]string{PropertyBuild: "1.0.0"},
	}
}
