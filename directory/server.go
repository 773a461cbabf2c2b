// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/service"
	"github.com/bureau-foundation/netplay/session"
	"github.com/bureau-foundation/netplay/transport"
)

// ParticipantPrefix starts every participant localpart. Other
// localparts, such as the relay's, cannot authenticate.
const ParticipantPrefix = "participant/"

// ServiceAddress maps a configured directory address to a lib/service
// address: absolute paths become Unix sockets, anything else is
// "host:port" or already "unix:<path>".
func ServiceAddress(address string) string {
	if filepath.IsAbs(address) {
		return "unix:" + address
	}
	return address
}

// Action names of the directory protocol.
const (
	actionAuthenticate  = "authenticate"
	actionDisconnect    = "disconnect"
	actionQuery         = "query"
	actionCreateOrJoin  = "create_or_join"
	actionJoinByID      = "join_by_id"
	actionJoinByCode    = "join_by_code"
	actionDescribe      = "describe"
	actionLeave         = "leave"
	actionSetName       = "set_name"
	actionSetPrivate    = "set_private"
	actionPublishOffer  = "publish_offer"
	actionPublishAnswer = "publish_answer"
	actionPollOffers    = "poll_offers"
	actionPollAnswers   = "poll_answers"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Store *Store

	// Signaler carries offers and answers between clients and the
	// relay. The relay's WebRTC transport reads and writes it
	// directly.
	Signaler *transport.MemorySignaler

	// RateLimit is the sustained session requests per second admitted
	// per client. Zero disables limiting.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Server serves a Store over the directory protocol.
type Server struct {
	store    *Store
	signaler *transport.MemorySignaler
	limit    rate.Limit
	burst    int
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client // token -> client
	tokens  map[string]string  // localpart -> token
}

type client struct {
	localpart string
	limiter   *rate.Limiter
}

// NewServer creates a Server. Call Register to attach it to a socket
// server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("directory server requires a store")
	}
	if config.Signaler == nil {
		return nil, errors.New("directory server requires a signaler")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := config.RateBurst
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	return &Server{
		store:    config.Store,
		signaler: config.Signaler,
		limit:    limit,
		burst:    burst,
		logger:   logger,
		clients:  make(map[string]*client),
		tokens:   make(map[string]string),
	}, nil
}

// Register adds the directory actions to socket.
func (s *Server) Register(socket *service.SocketServer) {
	socket.Handle(actionAuthenticate, s.handleAuthenticate)
	socket.Handle(actionDisconnect, s.authenticated(false, s.handleDisconnect))

	socket.Handle(actionQuery, s.authenticated(true, s.handleQuery))
	socket.Handle(actionCreateOrJoin, s.authenticated(true, s.handleCreateOrJoin))
	socket.Handle(actionJoinByID, s.authenticated(true, s.handleJoinByID))
	socket.Handle(actionJoinByCode, s.authenticated(true, s.handleJoinByCode))
	socket.Handle(actionDescribe, s.authenticated(true, s.handleDescribe))
	socket.Handle(actionLeave, s.authenticated(true, s.handleLeave))
	socket.Handle(actionSetName, s.authenticated(true, s.handleSetName))
	socket.Handle(actionSetPrivate, s.authenticated(true, s.handleSetPrivate))

	// Signaling is polled during connection setup and is not
	// rate limited.
	socket.Handle(actionPublishOffer, s.authenticated(false, s.handlePublishOffer))
	socket.Handle(actionPublishAnswer, s.authenticated(false, s.handlePublishAnswer))
	socket.Handle(actionPollOffers, s.authenticated(false, s.handlePollOffers))
	socket.Handle(actionPollAnswers, s.authenticated(false, s.handlePollAnswers))
}

// authenticateRequest registers a participant localpart.
type authenticateRequest struct {
	Participant string `cbor:"participant"`
}

// authenticateResponse carries the token for subsequent requests.
type authenticateResponse struct {
	Token string `cbor:"token"`
}

func (s *Server) handleAuthenticate(ctx context.Context, raw []byte) (any, error) {
	var request authenticateRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid authenticate request: %w", err)
	}
	name, ok := strings.CutPrefix(request.Participant, ParticipantPrefix)
	if !ok || name == "" || strings.ContainsAny(name, transportSeparators) {
		return nil, &Error{Code: CodeInvalid, Message: fmt.Sprintf("invalid participant %q", request.Participant)}
	}

	token := uuid.NewString()
	s.mu.Lock()
	if previous, ok := s.tokens[request.Participant]; ok {
		delete(s.clients, previous)
	}
	s.tokens[request.Participant] = token
	s.clients[token] = &client{
		localpart: request.Participant,
		limiter:   rate.NewLimiter(s.limit, s.burst),
	}
	s.mu.Unlock()

	s.logger.Info("participant authenticated", "participant", request.Participant)
	return authenticateResponse{Token: token}, nil
}

// transportSeparators may not appear in a localpart: they delimit
// signaling keys.
const transportSeparators = "|:"

// tokenHeader is decoded from every authenticated request.
type tokenHeader struct {
	Token string `cbor:"token"`
}

// authenticatedFunc handles a request from a known client.
type authenticatedFunc func(ctx context.Context, from *client, raw []byte) (any, error)

// authenticated resolves the request token to its client, applying
// the client's rate limit when limited is set.
func (s *Server) authenticated(limited bool, handler authenticatedFunc) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var header tokenHeader
		if err := codec.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		s.mu.Lock()
		from, ok := s.clients[header.Token]
		s.mu.Unlock()
		if !ok {
			return nil, &Error{Code: CodeUnauthenticated, Message: "not authenticated"}
		}
		if limited && !from.limiter.Allow() {
			s.logger.Debug("request rate limited", "participant", from.localpart)
			return nil, &Error{Code: session.CodeRateLimited, Message: "Rate limit exceeded"}
		}
		return handler(ctx, from, raw)
	}
}

func (s *Server) handleDisconnect(ctx context.Context, from *client, raw []byte) (any, error) {
	left := s.store.LeaveAll(from.localpart)
	s.signaler.Forget(from.localpart)

	s.mu.Lock()
	if token, ok := s.tokens[from.localpart]; ok {
		delete(s.clients, token)
		delete(s.tokens, from.localpart)
	}
	s.mu.Unlock()

	s.logger.Info("participant disconnected", "participant", from.localpart, "sessions_left", len(left))
	return nil, nil
}

func (s *Server) handleQuery(ctx context.Context, from *client, raw []byte) (any, error) {
	return s.store.Query(), nil
}

// joinResponse reports the joined session and the caller's role.
type joinResponse struct {
	Session session.Descriptor `cbor:"session"`
	Host    bool               `cbor:"host"`
}

type createRequest struct {
	Options session.CreateOptions `cbor:"options"`
}

func (s *Server) handleCreateOrJoin(ctx context.Context, from *client, raw []byte) (any, error) {
	var request createRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid create_or_join request: %w", err)
	}
	descriptor, host, err := s.store.CreateOrJoin(from.localpart, request.Options)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session joined",
		"session", descriptor.ID,
		"participant", from.localpart,
		"host", host,
	)
	return joinResponse{Session: descriptor, Host: host}, nil
}

// sessionRequest names a session by ID or code, with the optional
// fields of the host-only updates.
type sessionRequest struct {
	ID      string `cbor:"id"`
	Code    string `cbor:"code"`
	Name    string `cbor:"name"`
	Private bool   `cbor:"private"`
}

func decodeSessionRequest(raw []byte) (sessionRequest, error) {
	var request sessionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}

func (s *Server) handleJoinByID(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	descriptor, host, err := s.store.JoinByID(from.localpart, request.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session joined", "session", descriptor.ID, "participant", from.localpart)
	return joinResponse{Session: descriptor, Host: host}, nil
}

func (s *Server) handleJoinByCode(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	descriptor, host, err := s.store.JoinByCode(from.localpart, strings.ToUpper(strings.TrimSpace(request.Code)))
	if err != nil {
		return nil, err
	}
	s.logger.Info("session joined by code", "session", descriptor.ID, "participant", from.localpart)
	return joinResponse{Session: descriptor, Host: host}, nil
}

func (s *Server) handleDescribe(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	descriptor, host, err := s.store.Describe(from.localpart, request.ID)
	if err != nil {
		return nil, err
	}
	return joinResponse{Session: descriptor, Host: host}, nil
}

func (s *Server) handleLeave(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	if err := s.store.Leave(from.localpart, request.ID); err != nil {
		return nil, err
	}
	s.logger.Info("session left", "session", request.ID, "participant", from.localpart)
	return nil, nil
}

func (s *Server) handleSetName(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	return nil, s.store.SetName(from.localpart, request.ID, request.Name)
}

func (s *Server) handleSetPrivate(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSessionRequest(raw)
	if err != nil {
		return nil, err
	}
	return nil, s.store.SetPrivate(from.localpart, request.ID, request.Private)
}

// signalRequest carries one SDP. Peer is the target of an offer or the
// offerer an answer responds to.
type signalRequest struct {
	Peer string `cbor:"peer"`
	SDP  string `cbor:"sdp"`
}

func decodeSignalRequest(raw []byte) (signalRequest, error) {
	var request signalRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid signaling request: %w", err)
	}
	if request.Peer == "" || request.SDP == "" {
		return request, &Error{Code: CodeInvalid, Message: "signaling requires peer and sdp"}
	}
	return request, nil
}

func (s *Server) handlePublishOffer(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSignalRequest(raw)
	if err != nil {
		return nil, err
	}
	return nil, s.signaler.PublishOffer(ctx, from.localpart, request.Peer, request.SDP)
}

func (s *Server) handlePublishAnswer(ctx context.Context, from *client, raw []byte) (any, error) {
	request, err := decodeSignalRequest(raw)
	if err != nil {
		return nil, err
	}
	return nil, s.signaler.PublishAnswer(ctx, request.Peer, from.localpart, request.SDP)
}

func (s *Server) handlePollOffers(ctx context.Context, from *client, raw []byte) (any, error) {
	return s.signaler.PollOffers(ctx, from.localpart)
}

func (s *Server) handlePollAnswers(ctx context.Context, from *client, raw []byte) (any, error) {
	return s.signaler.PollAnswers(ctx, from.localpart)
}
