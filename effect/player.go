// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effect

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/geom"
)

// PlaceFunc positions a checked-out handle, for example by moving a
// particle system in a renderer.
type PlaceFunc func(handle *Handle, at geom.Vec3) error

// PlayerConfig configures a Player.
type PlayerConfig struct {
	Pool     Provider
	Clock    clock.Clock
	Lifetime time.Duration

	// Place defaults to setting Handle.Position.
	Place PlaceFunc

	Logger *slog.Logger
}

// Player shows time-boxed effects from a pool.
type Player struct {
	pool     Provider
	clock    clock.Clock
	lifetime time.Duration
	place    PlaceFunc
	logger   *slog.Logger
}

// NewPlayer returns a Player.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.Pool == nil {
		return nil, errors.New("effect: PlayerConfig.Pool is required")
	}
	if config.Logger == nil {
		return nil, errors.New("effect: PlayerConfig.Logger is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Place == nil {
		config.Place = func(handle *Handle, at geom.Vec3) error {
			handle.Position = at
			return nil
		}
	}
	return &Player{
		pool:     config.Pool,
		clock:    config.Clock,
		lifetime: config.Lifetime,
		place:    config.Place,
		logger:   config.Logger,
	}, nil
}

// Play checks out a handle, positions it at at, and returns it to the
// pool after the lifetime. The handle goes back even if positioning
// fails. An exhausted pool skips the effect.
func (p *Player) Play(at geom.Vec3) {
	handle, err := p.pool.Checkout()
	if err != nil {
		p.logger.Debug("skipping effect", "position", at, "error", err)
		return
	}
	p.clock.AfterFunc(p.lifetime, func() { p.pool.Release(handle) })
	if err := p.place(handle, at); err != nil {
		p.logger.Warn("positioning effect failed", "handle", handle.ID, "error", err)
	}
}
