// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/service"
	"github.com/bureau-foundation/netplay/session"
	"github.com/bureau-foundation/netplay/transport"
)

// Compile-time interface checks.
var (
	_ session.Directory     = (*Client)(nil)
	_ session.Authenticator = (*Client)(nil)
	_ transport.Signaler    = (*Client)(nil)
	_ session.Session       = (*clientSession)(nil)
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultWatchInterval  = 2 * time.Second
)

// ErrNotAuthenticated is returned by requests made before Authenticate.
var ErrNotAuthenticated = errors.New("directory: not authenticated")

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address is the directory service: "host:port", "unix:<path>",
	// or an absolute socket path.
	Address string

	// Participant is the localpart to authenticate as. Empty generates
	// "participant/<uuid>".
	Participant string

	// RequestTimeout bounds each request. Zero means 10s.
	RequestTimeout time.Duration

	// WatchInterval is how often a subscribed session is re-read to
	// detect changes. Zero means 2s.
	WatchInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client talks to a directory Server. It is the participant's
// session.Directory and session.Authenticator, and the transport.Signaler
// of its WebRTC transport. Client is safe for concurrent use.
type Client struct {
	service        *service.Client
	localpart      string
	requestTimeout time.Duration
	watchInterval  time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a client. No request is made until Authenticate.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Address == "" {
		return nil, errors.New("directory client requires an address")
	}
	address := ServiceAddress(config.Address)
	localpart := config.Participant
	if localpart == "" {
		localpart = ParticipantPrefix + uuid.NewString()
	}
	if !strings.HasPrefix(localpart, ParticipantPrefix) {
		return nil, fmt.Errorf("participant %q must start with %q", localpart, ParticipantPrefix)
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	watchInterval := config.WatchInterval
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		service:        service.NewClient(address),
		localpart:      localpart,
		requestTimeout: requestTimeout,
		watchInterval:  watchInterval,
		clock:          clk,
		logger:         logger,
	}, nil
}

// Localpart returns the identity this client authenticates as. The
// participant's WebRTC transport uses it as its own localpart.
func (c *Client) Localpart() string { return c.localpart }

// Authenticate registers the client's localpart and stores the token
// for later requests.
func (c *Client) Authenticate(ctx context.Context) error {
	var response authenticateResponse
	fields := map[string]any{"participant": c.localpart}
	if err := c.call(ctx, actionAuthenticate, "", fields, &response); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = response.Token
	c.mu.Unlock()
	c.logger.Info("authenticated with directory", "participant", c.localpart)
	return nil
}

// Authenticated reports whether Authenticate has succeeded.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Disconnect leaves every session, drops pending signals, and revokes
// the token.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.authenticatedCall(ctx, actionDisconnect, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

func (c *Client) QuerySessions(ctx context.Context) ([]session.Descriptor, error) {
	var descriptors []session.Descriptor
	if err := c.authenticatedCall(ctx, actionQuery, nil, &descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func (c *Client) CreateOrJoin(ctx context.Context, options session.CreateOptions) (session.Session, error) {
	return c.join(ctx, actionCreateOrJoin, map[string]any{"options": options})
}

func (c *Client) JoinByID(ctx context.Context, id string) (session.Session, error) {
	return c.join(ctx, actionJoinByID, map[string]any{"id": id})
}

func (c *Client) JoinByCode(ctx context.Context, code string) (session.Session, error) {
	return c.join(ctx, actionJoinByCode, map[string]any{"code": code})
}

func (c *Client) join(ctx context.Context, action string, fields map[string]any) (session.Session, error) {
	var response joinResponse
	if err := c.authenticatedCall(ctx, action, fields, &response); err != nil {
		return nil, err
	}
	return &clientSession{
		client:      c,
		descriptor:  response.Session,
		host:        response.Host,
		subscribers: make(map[int]func(session.Descriptor)),
	}, nil
}

func (c *Client) PublishOffer(ctx context.Context, localpart, targetLocalpart, sdp string) error {
	if localpart != c.localpart {
		return fmt.Errorf("cannot publish an offer as %q from %q", localpart, c.localpart)
	}
	return c.authenticatedCall(ctx, actionPublishOffer, map[string]any{"peer": targetLocalpart, "sdp": sdp}, nil)
}

func (c *Client) PublishAnswer(ctx context.Context, offererLocalpart, localpart, sdp string) error {
	if localpart != c.localpart {
		return fmt.Errorf("cannot publish an answer as %q from %q", localpart, c.localpart)
	}
	return c.authenticatedCall(ctx, actionPublishAnswer, map[string]any{"peer": offererLocalpart, "sdp": sdp}, nil)
}

func (c *Client) PollOffers(ctx context.Context, localpart string) ([]transport.SignalMessage, error) {
	return c.poll(ctx, actionPollOffers, localpart)
}

func (c *Client) PollAnswers(ctx context.Context, localpart string) ([]transport.SignalMessage, error) {
	return c.poll(ctx, actionPollAnswers, localpart)
}

func (c *Client) poll(ctx context.Context, action, localpart string) ([]transport.SignalMessage, error) {
	if localpart != c.localpart {
		return nil, fmt.Errorf("cannot poll signals for %q from %q", localpart, c.localpart)
	}
	var messages []transport.SignalMessage
	if err := c.authenticatedCall(ctx, action, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) authenticatedCall(ctx context.Context, action string, fields map[string]any, result any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return ErrNotAuthenticated
	}
	return c.call(ctx, action, token, fields, result)
}

// call performs one request. Failures reported by the server become
// *session.ServiceError so session code can classify them.
func (c *Client) call(ctx context.Context, action, token string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	if token != "" {
		request["token"] = token
	}

	err := c.service.Call(ctx, action, request, result)
	var serviceErr *service.ServiceError
	if errors.As(err, &serviceErr) {
		return &session.ServiceError{Code: serviceErr.Code, Message: serviceErr.Message}
	}
	return err
}

// clientSession is a session joined through a Client. Subscribers are
// notified by re-reading the session every WatchInterval.
type clientSession struct {
	client *Client

	mu          sync.Mutex
	descriptor  session.Descriptor
	host        bool
	subscribers map[int]func(session.Descriptor)
	next        int
	stopWatch   context.CancelFunc
}

func (s *clientSession) Describe() session.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

func (s *clientSession) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

func (s *clientSession) Subscribe(fn func(session.Descriptor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subscribers[id] = fn
	if s.stopWatch == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopWatch = cancel
		go s.watch(ctx)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
		if len(s.subscribers) == 0 && s.stopWatch != nil {
			s.stopWatch()
			s.stopWatch = nil
		}
	}
}

// watch re-reads the session until ctx ends.
func (s *clientSession) watch(ctx context.Context) {
	ticker := s.client.clock.NewTicker(s.client.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh fetches the current descriptor and notifies subscribers when
// anything they can observe changed.
func (s *clientSession) refresh(ctx context.Context) {
	id := s.Describe().ID
	var response joinResponse
	if err := s.client.authenticatedCall(ctx, actionDescribe, map[string]any{"id": id}, &response); err != nil {
		if ctx.Err() == nil {
			s.client.logger.Debug("refreshing session failed", "session", id, "error", err)
		}
		return
	}
	s.apply(response.Session, response.Host)
}

func (s *clientSession) apply(descriptor session.Descriptor, host bool) {
	s.mu.Lock()
	s.host = host
	if !changed(s.descriptor, descriptor) {
		s.descriptor = descriptor
		s.mu.Unlock()
		return
	}
	s.descriptor = descriptor
	subscribers := make([]func(session.Descriptor), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(descriptor)
	}
}

// changed reports whether a subscriber-visible field differs.
// AvailableSlots is not one of them.
func changed(before, after session.Descriptor) bool {
	return before.Name != after.Name ||
		before.Code != after.Code ||
		before.IsPrivate != after.IsPrivate ||
		!maps.Equal(before.Properties, after.Properties)
}

func (s *clientSession) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	clear(s.subscribers)
	id := s.descriptor.ID
	s.mu.Unlock()

	return s.client.authenticatedCall(ctx, actionLeave, map[string]any{"id": id}, nil)
}

func (s *clientSession) SetName(ctx context.Context, name string) error {
	return s.update(ctx, actionSetName, map[string]any{"name": name}, func(d *session.Descriptor) { d.Name = name })
}

func (s *clientSession) SetPrivate(ctx context.Context, private bool) error {
	return s.update(ctx, actionSetPrivate, map[string]any{"private": private}, func(d *session.Descriptor) { d.IsPrivate = private })
}

// update performs a host-only change and applies it locally once the
// server accepts it.
func (s *clientSession) update(ctx context.Context, action string, fields map[string]any, change func(*session.Descriptor)) error {
	s.mu.Lock()
	descriptor := s.descriptor
	host := s.host
	s.mu.Unlock()

	fields["id"] = descriptor.ID
	if err := s.client.authenticatedCall(ctx, action, fields, nil); err != nil {
		return err
	}
	descriptor.Properties = maps.Clone(descriptor.Properties)
	change(&descriptor)
	s.apply(descriptor, host)
	return nil
}
