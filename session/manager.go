// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/config"
	"github.com/bureau-foundation/netplay/lib/ref"
	"github.com/bureau-foundation/netplay/lib/status"
)

// teardownTimeout bounds the leave performed when a link ends on its
// own.
const teardownTimeout = 5 * time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Session config.SessionConfig

	// ListenAddress and Port are used by local-topology hosts.
	ListenAddress string
	Port          int

	// Directory may be nil when only HostLocal and JoinLocal are used.
	Directory     Directory
	Transport     Transport
	Authenticator Authenticator

	BuildID string
	Clock   clock.Clock
	Logger  *slog.Logger

	// Probe reports whether the distributed topology's network is
	// reachable. Nil means always reachable.
	Probe func(ctx context.Context) error

	// LocalAddress returns this host's address on the local network.
	LocalAddress func() string

	// Resolve turns a host name or address typed by a user into an IP
	// address.
	Resolve func(ctx context.Context, host string) (string, error)
}

type authState struct {
	topology      Topology
	authenticator Authenticator
}

// Manager owns the local participant's session lifecycle: the
// connection state, the held session, the roster, and the running
// link. Connect operations are admitted one at a time.
type Manager struct {
	settings      config.SessionConfig
	listenAddress string
	port          int
	transport     Transport
	clock         clock.Clock
	logger        *slog.Logger
	probe         func(ctx context.Context) error
	localAddress  func() string
	resolve       func(ctx context.Context, host string) (string, error)
	distributed   Authenticator

	auth        atomic.Pointer[authState]
	machine     *StateMachine
	coordinator *Coordinator
	roster      *Roster
	status      *status.Value[string]
	announcer   *announcer
	failures    status.Feed[*Error]
	promotions  status.Feed[ref.ParticipantID]

	// busy admits one connect operation at a time, including the
	// hot-join grace period when the machine state alone would allow
	// a second one in.
	busy atomic.Bool

	mu            sync.Mutex
	link          Link
	cancelAttempt context.CancelFunc
	closed        bool
}

// NewManager returns a Manager in StateNone. Call Start to
// authenticate.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Transport == nil {
		return nil, errors.New("session: ManagerConfig.Transport is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		return nil, errors.New("session: ManagerConfig.Logger is required")
	}
	if config.Authenticator == nil {
		config.Authenticator = NoAuthentication{}
	}
	if config.LocalAddress == nil {
		config.LocalAddress = func() string { return "127.0.0.1" }
	}
	if config.Resolve == nil {
		config.Resolve = func(_ context.Context, host string) (string, error) { return host, nil }
	}

	m := &Manager{
		settings:      config.Session,
		listenAddress: config.ListenAddress,
		port:          config.Port,
		transport:     config.Transport,
		clock:         config.Clock,
		logger:        config.Logger,
		probe:         config.Probe,
		localAddress:  config.LocalAddress,
		resolve:       config.Resolve,
		distributed:   config.Authenticator,
		roster:        NewRoster(config.Logger),
		status:        status.NewValue(""),
	}
	topology := Topology(config.Session.Topology)
	if topology != TopologyLocal {
		topology = TopologyDistributed
	}
	m.setTopology(topology)
	m.machine = NewStateMachine(func() bool { return m.auth.Load().authenticator.Authenticated() }, config.Logger)
	m.announcer = &announcer{clock: config.Clock, status: m.status}
	m.coordinator = NewCoordinator(CoordinatorConfig{
		Directory:        config.Directory,
		Status:           m.status,
		Logger:           config.Logger,
		DefaultRoomName:  config.Session.RoomName(),
		MaxPlayers:       config.Session.MaxPlayers,
		BuildID:          config.BuildID,
		Scene:            config.Session.Scene,
		Region:           config.Session.Region,
		HideFromListings: config.Session.EditorBuild && config.Session.HideEditorSessions,
	})
	return m, nil
}

func (m *Manager) setTopology(topology Topology) {
	state := &authState{topology: topology, authenticator: m.distributed}
	if topology == TopologyLocal {
		state.authenticator = NoAuthentication{}
	}
	m.auth.Store(state)
}

// Start picks the topology and authenticates. A distributed
// configuration falls back to the local topology when the probe
// reports the network unreachable.
func (m *Manager) Start(ctx context.Context) error {
	if m.auth.Load().topology == TopologyDistributed && m.probe != nil {
		if err := m.probe(ctx); err != nil {
			m.logger.Warn("network unreachable, falling back to local topology", "error", err)
			m.setTopology(TopologyLocal)
		}
	}
	return m.authenticate(ctx)
}

func (m *Manager) authenticate(ctx context.Context) error {
	if _, err := m.machine.Fire(TriggerBeginAuthentication); err != nil {
		return err
	}
	if err := m.auth.Load().authenticator.Authenticate(ctx); err != nil {
		m.fire(TriggerAuthenticationFailed)
		failure := &Error{Kind: KindAuthenticationFailed, Message: MessageAuthenticationFailed, Err: err}
		m.logger.Error("authentication failed", "error", err)
		m.status.Set(failure.Message)
		m.failures.Publish(failure)
		return failure
	}
	m.fire(TriggerAuthenticationSucceeded)
	return nil
}

// Topology returns the topology chosen at Start.
func (m *Manager) Topology() Topology {
	return m.auth.Load().topology
}

// CurrentTopology re-checks reachability and reports the topology a
// new connection would use.
func (m *Manager) CurrentTopology(ctx context.Context) Topology {
	if m.Topology() == TopologyLocal {
		return TopologyLocal
	}
	if m.probe != nil {
		if err := m.probe(ctx); err != nil {
			m.logger.Debug("connectivity probe failed", "error", err)
			return TopologyLocal
		}
	}
	return TopologyDistributed
}

// attempt produces the session to join and how to start its link.
type attempt func(ctx context.Context, topology Topology) (Session, StartOptions, error)

// QuickJoin joins the first available listed session, or creates one.
func (m *Manager) QuickJoin(ctx context.Context) error {
	return m.connect(ctx, m.viaDirectory(func(ctx context.Context, request CreateRequest) (Session, error) {
		return m.coordinator.QuickJoin(ctx, request)
	}))
}

// JoinByCode joins the session with the given room code.
func (m *Manager) JoinByCode(ctx context.Context, code string) error {
	return m.connect(ctx, m.viaDirectory(func(ctx context.Context, _ CreateRequest) (Session, error) {
		return m.coordinator.JoinByCode(ctx, code)
	}))
}

// JoinSession joins a session picked from ListSessions.
func (m *Manager) JoinSession(ctx context.Context, descriptor Descriptor) error {
	return m.connect(ctx, m.viaDirectory(func(ctx context.Context, _ CreateRequest) (Session, error) {
		return m.coordinator.JoinSpecific(ctx, descriptor)
	}))
}

// Create creates and hosts a new session. Zero fields of request take
// configured defaults; Topology and JoinAddress are filled in.
func (m *Manager) Create(ctx context.Context, request CreateRequest) error {
	return m.connect(ctx, m.viaDirectory(func(ctx context.Context, filled CreateRequest) (Session, error) {
		request.Topology = filled.Topology
		request.JoinAddress = filled.JoinAddress
		return m.coordinator.Create(ctx, request)
	}))
}

// HostLocal hosts a directory-less session on the local network. Its
// room code is this host's local address.
func (m *Manager) HostLocal(ctx context.Context) error {
	return m.connect(ctx, func(ctx context.Context, _ Topology) (Session, StartOptions, error) {
		code := m.localAddress()
		hosted := newLocalSession(uuid.NewString(), code, m.settings.MaxPlayers, true)
		return hosted, StartOptions{
			Session:  hosted,
			Host:     true,
			Topology: TopologyLocal,
			Address:  net.JoinHostPort(m.listenAddress, strconv.Itoa(m.port)),
		}, nil
	})
}

// JoinLocal joins a HostLocal session at address, which may be a host
// name or IP with or without a port.
func (m *Manager) JoinLocal(ctx context.Context, address string) error {
	return m.connect(ctx, func(ctx context.Context, _ Topology) (Session, StartOptions, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			host, port = address, strconv.Itoa(m.port)
		}
		m.status.Set("Connecting To Room Code: " + host)
		resolved, err := m.resolve(ctx, host)
		if err != nil {
			return nil, StartOptions{}, &Error{
				Kind:    KindNotFound,
				Message: fmt.Sprintf("Could not resolve %s.", host),
				Err:     err,
			}
		}
		joined := newLocalSession(uuid.NewString(), resolved, m.settings.MaxPlayers, false)
		return joined, StartOptions{
			Session:  joined,
			Topology: TopologyLocal,
			Address:  net.JoinHostPort(resolved, port),
		}, nil
	})
}

// viaDirectory adapts a Coordinator operation into an attempt.
func (m *Manager) viaDirectory(join func(context.Context, CreateRequest) (Session, error)) attempt {
	return func(ctx context.Context, topology Topology) (Session, StartOptions, error) {
		request := CreateRequest{Topology: topology}
		if topology == TopologyLocal {
			request.JoinAddress = net.JoinHostPort(m.localAddress(), strconv.Itoa(m.port))
		}
		joined, err := join(ctx, request)
		if err != nil {
			return nil, StartOptions{}, err
		}

		options := StartOptions{Session: joined, Host: joined.IsHost(), Topology: topology}
		if topology == TopologyLocal {
			if options.Host {
				options.Address = net.JoinHostPort(m.listenAddress, strconv.Itoa(m.port))
			} else {
				options.Address = joined.Describe().Properties[PropertyJoinAddress]
				if options.Address == "" {
					_ = joined.Leave(context.WithoutCancel(ctx))
					return nil, StartOptions{}, &Error{
						Kind:    KindTransportUnavailable,
						Message: "Session has no direct join address.",
					}
				}
			}
		}
		return joined, options, nil
	}
}

func (m *Manager) connect(ctx context.Context, run attempt) error {
	if !m.busy.CompareAndSwap(false, true) {
		return m.reject(ErrAlreadyInProgress)
	}
	defer m.busy.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("session: manager is shut down")
	}
	m.cancelAttempt = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelAttempt = nil
		m.mu.Unlock()
	}()

	if err := m.admit(ctx); err != nil {
		return m.reject(err)
	}

	m.announcer.start(ctx)
	defer m.announcer.stop()

	topology := m.CurrentTopology(ctx)
	joined, options, err := run(ctx, topology)
	if err != nil {
		return m.fail(err)
	}

	link, err := m.transport.Start(ctx, options)
	if err != nil {
		m.abandon(ctx, joined, nil)
		if ctx.Err() != nil {
			return m.fail(ctx.Err())
		}
		return m.fail(&Error{Kind: KindTransportUnavailable, Message: MessageTransportUnavailable, Err: err})
	}
	return m.established(ctx, joined, link)
}

// admit moves the machine to Connecting. A connected manager leaves
// its session and waits out the hot-join grace period first. Leaving
// drops to None when authentication has lapsed, so the state is checked
// again afterwards and an unauthenticated manager authenticates.
func (m *Manager) admit(ctx context.Context) error {
	if m.machine.State() == StateConnected {
		m.logger.Info("leaving current session before connecting again")
		if err := m.teardown(ctx); err != nil {
			m.logger.Warn("leaving session for hot join", "error", err)
		}
		if err := clock.Wait(ctx, m.clock, m.settings.HotJoinGrace); err != nil {
			return err
		}
	}
	if m.machine.State() == StateNone {
		if err := m.authenticate(ctx); err != nil {
			return err
		}
	}
	_, err := m.machine.Fire(TriggerConnectRequested)
	if errors.Is(err, ErrIllegalTransition) {
		return &Error{Kind: KindUnknown, Message: "Not ready to connect.", Err: err}
	}
	return err
}

// reject reports a connect request that never reached Connecting.
// The state is left as it was.
func (m *Manager) reject(err error) error {
	failure := classify(err, MessageJoinFailed)
	if failure.Kind != KindAuthenticationFailed {
		// Authentication failures were already published.
		m.logger.Warn("connect request rejected", "reason", failure.Message, "error", err)
		m.failures.Publish(failure)
	}
	return failure
}

// fail reports a connect attempt that failed after Connecting.
func (m *Manager) fail(err error) error {
	m.announcer.stop()
	failure := classify(err, MessageJoinFailed)
	if failure.Kind == KindUnknown {
		m.logger.Error("connection failed", "reason", failure.Message, "error", err)
	} else {
		m.logger.Warn("connection failed", "kind", failure.Kind, "reason", failure.Message)
	}
	m.fire(TriggerConnectFailed)
	m.status.Set(failure.Message)
	m.failures.Publish(failure)
	return failure
}

func (m *Manager) abandon(ctx context.Context, joined Session, link Link) {
	ctx = context.WithoutCancel(ctx)
	if link != nil {
		if err := link.Close(ctx); err != nil {
			m.logger.Warn("closing abandoned link", "error", err)
		}
	}
	if err := joined.Leave(ctx); err != nil {
		m.logger.Warn("leaving abandoned session", "session", joined.Describe().ID, "error", err)
	}
}

func (m *Manager) established(ctx context.Context, joined Session, link Link) error {
	m.announcer.stop()
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		m.abandon(ctx, joined, link)
		return m.fail(ctx.Err())
	}
	m.link = link
	m.coordinator.Connected(joined)
	m.roster.Join(Participant{ID: link.LocalID(), Local: true})
	m.fire(TriggerConnectSucceeded)
	m.mu.Unlock()

	_, name := m.coordinator.Room()
	m.logger.Info("connected to session",
		"session", joined.Describe().ID,
		"name", name,
		"participant", link.LocalID(),
		"host", joined.IsHost(),
	)
	m.status.Set("Connected To " + name)
	go m.pump(link)
	return nil
}

// pump applies link events to the roster until the link ends.
func (m *Manager) pump(link Link) {
	for event := range link.Events() {
		if m.Link() != link {
			continue
		}
		switch event.Kind {
		case LinkParticipantJoined:
			m.roster.Join(Participant{ID: event.Participant, Local: event.Participant == link.LocalID()})
		case LinkParticipantLeft:
			m.roster.Leave(event.Participant)
		case LinkOwnerPromoted:
			m.logger.Info("session owner promoted", "participant", event.Participant)
			m.promotions.Publish(event.Participant)
		}
	}
	m.linkEnded(link)
}

// linkEnded handles a link that closed without a local Leave, such as
// the host going away.
func (m *Manager) linkEnded(link Link) {
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	held := m.coordinator.Current()
	m.link = nil
	m.roster.Clear()
	m.fire(TriggerDisconnect)
	m.mu.Unlock()

	m.logger.Warn("session link ended", "participant", link.LocalID())
	if held == nil {
		m.status.Set("Disconnected.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	stillHeld, err := m.coordinator.Release(ctx, held)
	if err != nil {
		m.logger.Warn("leaving session after link ended", "error", err)
	}
	if !stillHeld {
		// A newer connection owns the status line.
		return
	}
	m.status.Set("Disconnected.")
}

// teardown closes the link, leaves the held session, and clears the
// roster.
func (m *Manager) teardown(ctx context.Context) error {
	m.mu.Lock()
	link := m.link
	m.link = nil
	m.roster.Clear()
	if m.machine.State() == StateConnected {
		m.fire(TriggerDisconnect)
	}
	m.mu.Unlock()

	var errs []error
	if link != nil {
		if err := link.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing link: %w", err))
		}
	}
	if err := m.coordinator.Leave(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Leave disconnects from the current session.
func (m *Manager) Leave(ctx context.Context) error {
	err := m.teardown(ctx)
	m.status.Set("Disconnected.")
	return err
}

// CancelMatchmaking abandons an in-flight connect attempt, or leaves
// the current session.
func (m *Manager) CancelMatchmaking(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancelAttempt
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return m.Leave(ctx)
}

// Shutdown cancels any attempt and leaves the session. Later calls do
// nothing.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancelAttempt
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.announcer.stop()
	return m.teardown(ctx)
}

func (m *Manager) fire(trigger Trigger) {
	if _, err := m.machine.Fire(trigger); err != nil {
		m.logger.Debug("ignored state trigger", "trigger", trigger, "error", err)
	}
}

// State returns the connection state.
func (m *Manager) State() State { return m.machine.State() }

// WatchState subscribes to connection state changes.
func (m *Manager) WatchState() *status.Watch[State] { return m.machine.Watch() }

// WatchStatus subscribes to the status text.
func (m *Manager) WatchStatus() *status.Watch[string] { return m.status.Watch() }

// SubscribeFailures subscribes to connection failures.
func (m *Manager) SubscribeFailures(buffer int) *status.Subscription[*Error] {
	return m.failures.Subscribe(buffer)
}

// SubscribePromotions subscribes to session owner promotions.
func (m *Manager) SubscribePromotions(buffer int) *status.Subscription[ref.ParticipantID] {
	return m.promotions.Subscribe(buffer)
}

// Roster returns the participant roster.
func (m *Manager) Roster() *Roster { return m.roster }

// Link returns the running link, or nil.
func (m *Manager) Link() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// LocalID returns the local participant's ID, or NoParticipant when
// not connected.
func (m *Manager) LocalID() ref.ParticipantID {
	if link := m.Link(); link != nil {
		return link.LocalID()
	}
	return ref.NoParticipant
}

// Room returns the current room code and name.
func (m *Manager) Room() (code, name string) { return m.coordinator.Room() }

// ListSessions lists sessions for a session browser. The local
// topology has no listings.
func (m *Manager) ListSessions(ctx context.Context) ([]Listing, error) {
	if m.CurrentTopology(ctx) == TopologyLocal || m.State() < StateAuthenticated {
		return nil, nil
	}
	return m.coordinator.ListSessions(ctx)
}

// CanJoin reports whether descriptor differs from the held session.
func (m *Manager) CanJoin(descriptor Descriptor) bool { return m.coordinator.CanJoin(descriptor) }

// UpdateName renames the hosted session.
func (m *Manager) UpdateName(ctx context.Context, name string) { m.coordinator.UpdateName(ctx, name) }

// UpdatePrivacy changes whether the hosted session is listed.
func (m *Manager) UpdatePrivacy(ctx context.Context, private bool) {
	m.coordinator.UpdatePrivacy(ctx, private)
}
