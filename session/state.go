// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/netplay/lib/status"
)

// State is the local participant's connection lifecycle state.
type State int

const (
	StateNone State = iota
	StateAuthenticating
	StateAuthenticated
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Trigger is an input to the StateMachine.
type Trigger int

const (
	TriggerBeginAuthentication Trigger = iota
	TriggerAuthenticationSucceeded
	TriggerAuthenticationFailed
	TriggerConnectRequested
	TriggerConnectSucceeded
	TriggerConnectFailed
	TriggerDisconnect
)

func (t Trigger) String() string {
	switch t {
	case TriggerBeginAuthentication:
		return "begin-authentication"
	case TriggerAuthenticationSucceeded:
		return "authentication-succeeded"
	case TriggerAuthenticationFailed:
		return "authentication-failed"
	case TriggerConnectRequested:
		return "connect-requested"
	case TriggerConnectSucceeded:
		return "connect-succeeded"
	case TriggerConnectFailed:
		return "connect-failed"
	case TriggerDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// ErrIllegalTransition is returned by Fire for a trigger that has no
// edge out of the current state.
var ErrIllegalTransition = errors.New("illegal connection state transition")

// StateMachine owns the connection state. It is the only place the
// state changes; everything else reads it through State or Watch.
type StateMachine struct {
	mu    sync.Mutex
	state State
	// authenticated reports whether authentication is currently valid.
	// It decides where failed and closed connections fall back to.
	authenticated func() bool
	value         *status.Value[State]
	logger        *slog.Logger
}

// NewStateMachine returns a machine in StateNone.
func NewStateMachine(authenticated func() bool, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		state:         StateNone,
		authenticated: authenticated,
		value:         status.NewValue(StateNone),
		logger:        logger,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch subscribes to state changes.
func (m *StateMachine) Watch() *status.Watch[State] {
	return m.value.Watch()
}

// Fire applies trigger and returns the resulting state. A connect
// request while already connecting fails with ErrAlreadyInProgress;
// any other trigger without an edge fails with ErrIllegalTransition.
// Neither changes the state.
func (m *StateMachine) Fire(trigger Trigger) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.next(trigger)
	if err != nil {
		return m.state, err
	}
	if next != m.state {
		m.logger.Debug("connection state changed",
			"from", m.state,
			"to", next,
			"trigger", trigger,
		)
		m.state = next
		m.value.Set(next)
	}
	return next, nil
}

func (m *StateMachine) next(trigger Trigger) (State, error) {
	switch {
	case m.state == StateNone && trigger == TriggerBeginAuthentication:
		return StateAuthenticating, nil
	case m.state == StateAuthenticating && trigger == TriggerAuthenticationSucceeded:
		return StateAuthenticated, nil
	case m.state == StateAuthenticating && trigger == TriggerAuthenticationFailed:
		return StateNone, nil
	case m.state == StateAuthenticated && trigger == TriggerConnectRequested:
		return StateConnecting, nil
	case m.state == StateConnecting && trigger == TriggerConnectRequested:
		return m.state, ErrAlreadyInProgress
	case m.state == StateConnecting && trigger == TriggerConnectSucceeded:
		return StateConnected, nil
	case m.state == StateConnecting && trigger == TriggerConnectFailed,
		m.state == StateConnected && trigger == TriggerDisconnect:
		return m.fallback(), nil
	}
	return m.state, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, trigger, m.state)
}

func (m *StateMachine) fallback() State {
	if m.authenticated() {
		return StateAuthenticated
	}
	return StateNone
}
