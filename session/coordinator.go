// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/netplay/lib/status"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Directory Directory
	Status    *status.Value[string]
	Logger    *slog.Logger

	// DefaultRoomName names sessions created without a name.
	DefaultRoomName string
	// MaxPlayers is the capacity used when a request leaves it zero.
	MaxPlayers int

	// BuildID, Scene, and Region are advertised as session
	// properties.
	BuildID string
	Scene   string
	Region  string

	// HideFromListings marks created sessions with the editor flag.
	HideFromListings bool

	// NewID generates session IDs. Defaults to random UUIDs.
	NewID func() string
}

// CreateRequest describes a session to create.
type CreateRequest struct {
	// Name defaults to the configured room name.
	Name       string
	IsPrivate  bool
	MaxPlayers int

	// Topology of the attempt. Local sessions are always private.
	Topology Topology
	// JoinAddress is advertised for direct local-network joins.
	JoinAddress string
}

// Listing is one entry of a session list.
type Listing struct {
	Descriptor Descriptor
	// Joinable is false for sessions from an incompatible build.
	Joinable bool
	// Reason explains why a listing is not joinable.
	Reason string
}

// Coordinator turns user intents (quick join, join by code, create)
// into directory calls, and tracks the session the local participant
// holds.
type Coordinator struct {
	directory        Directory
	status           *status.Value[string]
	logger           *slog.Logger
	defaultRoomName  string
	maxPlayers       int
	buildID          string
	scene            string
	region           string
	hideFromListings bool
	newID            func() string

	mu          sync.Mutex
	current     Session
	unsubscribe func()
	roomCode    string
	roomName    string
}

// NewCoordinator returns a Coordinator holding no session.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	newID := config.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	statusValue := config.Status
	if statusValue == nil {
		statusValue = status.NewValue("")
	}
	return &Coordinator{
		directory:        config.Directory,
		status:           statusValue,
		logger:           config.Logger,
		defaultRoomName:  config.DefaultRoomName,
		maxPlayers:       config.MaxPlayers,
		buildID:          config.BuildID,
		scene:            config.Scene,
		region:           config.Region,
		hideFromListings: config.HideFromListings,
		newID:            newID,
	}
}

var errNoDirectory = &Error{Kind: KindTransportUnavailable, Message: "No session directory available."}

// QuickJoin joins the first listed session with a free slot. Full
// sessions are skipped, and a candidate that fails to join is logged
// and passed over. If nothing can be joined, it creates a session from
// fallback.
func (c *Coordinator) QuickJoin(ctx context.Context, fallback CreateRequest) (Session, error) {
	if c.directory == nil {
		return nil, errNoDirectory
	}
	c.status.Set("Checking For Existing Lobbies.")

	candidates, err := c.directory.QuerySessions(ctx)
	if err != nil {
		return nil, classify(err, MessageJoinFailed)
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, classify(ctx.Err(), MessageJoinFailed)
		}
		if !c.compatible(candidate) {
			c.logger.Debug("skipping incompatible session", "session", candidate.ID, "build", candidate.Properties[PropertyBuild])
			continue
		}
		if candidate.AvailableSlots <= 0 {
			c.logger.Info("skipping full session", "session", candidate.ID, "name", candidate.Name)
			continue
		}
		joined, err := c.directory.JoinByID(ctx, candidate.ID)
		if err != nil {
			c.logger.Warn("quick join candidate failed", "session", candidate.ID, "error", err)
			continue
		}
		return joined, nil
	}

	c.status.Set("No Available Session. Creating New Session.")
	return c.Create(ctx, fallback)
}

// JoinByCode joins a session by room code.
func (c *Coordinator) JoinByCode(ctx context.Context, code string) (Session, error) {
	if c.directory == nil {
		return nil, errNoDirectory
	}
	c.status.Set("Connecting To Room Code: " + code)
	joined, err := c.directory.JoinByCode(ctx, code)
	if err != nil {
		return nil, classify(err, MessageJoinFailed)
	}
	return joined, nil
}

// JoinSpecific joins a listed session. A listing with no free slot
// fails with ErrFull without contacting the directory.
func (c *Coordinator) JoinSpecific(ctx context.Context, descriptor Descriptor) (Session, error) {
	if descriptor.AvailableSlots <= 0 {
		return nil, &Error{Kind: KindFull, Message: MessageFull}
	}
	if c.directory == nil {
		return nil, errNoDirectory
	}
	c.status.Set("Connecting To Room: " + descriptor.Name)
	joined, err := c.directory.JoinByID(ctx, descriptor.ID)
	if err != nil {
		return nil, classify(err, MessageJoinFailed)
	}
	return joined, nil
}

// Create creates a new session with a fresh ID.
func (c *Coordinator) Create(ctx context.Context, request CreateRequest) (Session, error) {
	if c.directory == nil {
		return nil, errNoDirectory
	}
	name := request.Name
	if name == "" {
		name = c.defaultRoomName
	}
	maxPlayers := request.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = c.maxPlayers
	}
	private := request.IsPrivate || request.Topology == TopologyLocal

	properties := map[string]string{
		PropertyBuild:  c.buildID,
		PropertyScene:  c.scene,
		PropertyEditor: strconv.FormatBool(c.hideFromListings),
	}
	if c.region != "" {
		properties[PropertyRegion] = c.region
	}
	if request.JoinAddress != "" {
		properties[PropertyJoinAddress] = request.JoinAddress
	}

	c.status.Set("Connecting To Room: " + name)
	created, err := c.directory.CreateOrJoin(ctx, CreateOptions{
		ID:         c.newID(),
		Name:       name,
		MaxPlayers: maxPlayers,
		IsPrivate:  private,
		Properties: properties,
	})
	if err != nil {
		failure := classify(err, fmt.Sprintf("Failed to connect to %s. Please try again.", name))
		c.status.Set("Failed to Create Lobby. Please try again.")
		return nil, failure
	}
	return created, nil
}

// Connected records joined as the held session once its transport is
// up. Calling it again for the same session does nothing.
func (c *Coordinator) Connected(joined Session) {
	descriptor := joined.Describe()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Describe().ID == descriptor.ID && c.unsubscribe != nil {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.current = joined
	c.roomCode = descriptor.Code
	c.roomName = descriptor.Name
	c.unsubscribe = joined.Subscribe(c.propertiesChanged)
}

func (c *Coordinator) propertiesChanged(descriptor Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.roomCode = descriptor.Code
	c.roomName = descriptor.Name
}

// Leave gives up the held session.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	held := c.current
	unsubscribe := c.unsubscribe
	c.current = nil
	c.unsubscribe = nil
	c.roomCode = ""
	c.roomName = ""
	c.mu.Unlock()

	if held == nil {
		c.logger.Debug("leave requested with no session held")
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := held.Leave(ctx); err != nil {
		return fmt.Errorf("leaving session %s: %w", held.Describe().ID, err)
	}
	return nil
}

// Release leaves expected without disturbing a session that has since
// replaced it. It reports whether expected was still the held session.
// Nothing happens when no session is held, since a Leave already ran.
func (c *Coordinator) Release(ctx context.Context, expected Session) (bool, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return false, nil
	}
	held := c.current == expected
	var unsubscribe func()
	if held {
		unsubscribe = c.unsubscribe
		c.current = nil
		c.unsubscribe = nil
		c.roomCode = ""
		c.roomName = ""
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if err := expected.Leave(ctx); err != nil {
		return held, fmt.Errorf("leaving session %s: %w", expected.Describe().ID, err)
	}
	return held, nil
}

// Current returns the held session, or nil.
func (c *Coordinator) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Room returns the held session's code and name as last reported.
func (c *Coordinator) Room() (code, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.roomName
}

// CanJoin reports whether descriptor is something other than the held
// session.
func (c *Coordinator) CanJoin(descriptor Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == nil || c.current.Describe().ID != descriptor.ID
}

// ListSessions returns joinable-looking public sessions for a session
// browser. Sessions flagged as hidden and the held session are left
// out; sessions from another build are listed as not joinable.
func (c *Coordinator) ListSessions(ctx context.Context) ([]Listing, error) {
	if c.directory == nil {
		return nil, errNoDirectory
	}
	descriptors, err := c.directory.QuerySessions(ctx)
	if err != nil {
		return nil, classify(err, "Failed to list lobbies.")
	}

	var listings []Listing
	for _, descriptor := range descriptors {
		if descriptor.Properties[PropertyEditor] == "true" {
			continue
		}
		if !c.compatible(descriptor) {
			listings = append(listings, Listing{Descriptor: descriptor, Reason: "Version Conflict"})
			continue
		}
		if !c.CanJoin(descriptor) {
			continue
		}
		listings = append(listings, Listing{Descriptor: descriptor, Joinable: true})
	}
	return listings, nil
}

// UpdateName renames the held session. Only the host may; failures
// are logged.
func (c *Coordinator) UpdateName(ctx context.Context, name string) {
	held := c.Current()
	if held == nil || !held.IsHost() {
		c.logger.Debug("ignoring rename: not hosting a session")
		return
	}
	if err := held.SetName(ctx, name); err != nil {
		c.logger.Error("renaming session failed", "session", held.Describe().ID, "error", err)
		return
	}
	c.mu.Lock()
	if c.current == held {
		c.roomName = name
	}
	c.mu.Unlock()
}

// UpdatePrivacy changes whether the held session is listed. Only the
// host may; failures are logged.
func (c *Coordinator) UpdatePrivacy(ctx context.Context, private bool) {
	held := c.Current()
	if held == nil || !held.IsHost() {
		c.logger.Debug("ignoring privacy change: not hosting a session")
		return
	}
	if err := held.SetPrivate(ctx, private); err != nil {
		c.logger.Error("changing session privacy failed", "session", held.Describe().ID, "error", err)
	}
}

// compatible reports whether descriptor was created by this build. A
// session that does not advertise a build is assumed compatible.
func (c *Coordinator) compatible(descriptor Descriptor) bool {
	build, ok := descriptor.Properties[PropertyBuild]
	return !ok || build == "" || c.buildID == "" || build == c.buildID
}
