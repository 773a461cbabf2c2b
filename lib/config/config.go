// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "NETPLAY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Topology values for SessionConfig.Topology.
const (
	// TopologyDistributed uses the directory service and requires
	// authentication.
	TopologyDistributed = "distributed"
	// TopologyLocal connects directly over the local network and
	// never authenticates.
	TopologyLocal = "local"
)

// Config is the configuration for netplay binaries.
type Config struct {
	Environment Environment `yaml:"environment"`

	Session   SessionConfig   `yaml:"session"`
	Directory DirectoryConfig `yaml:"directory"`
	Transport TransportConfig `yaml:"transport"`
	Spawner   SpawnerConfig   `yaml:"spawner"`
	Effects   EffectsConfig   `yaml:"effects"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections an environment may override. Only
// non-zero fields replace base values.
type Overrides struct {
	Directory *DirectoryConfig `yaml:"directory,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// SessionConfig configures session establishment.
type SessionConfig struct {
	// Topology is "distributed" or "local". A distributed client
	// falls back to local when the connectivity probe fails.
	Topology string `yaml:"topology"`

	// PlayerName names the local participant. Default room names are
	// derived from it.
	PlayerName string `yaml:"player_name"`

	// DefaultRoomName overrides "<player name>'s Room".
	DefaultRoomName string `yaml:"default_room_name"`

	// MaxPlayers is the capacity of sessions this client creates.
	MaxPlayers int `yaml:"max_players"`

	// EditorBuild identifies a development build run from the editor.
	EditorBuild bool `yaml:"editor_build"`

	// HideEditorSessions marks sessions this build creates as hidden
	// from session listings. Ignored unless EditorBuild is set.
	HideEditorSessions bool `yaml:"hide_editor_sessions"`

	// Scene is advertised as the session's active scene.
	Scene string `yaml:"scene"`

	// Region is advertised informationally.
	Region string `yaml:"region"`

	// HotJoinGrace is the pause between leaving a connected session
	// and starting the next connection.
	HotJoinGrace time.Duration `yaml:"hot_join_grace"`
}

// DirectoryConfig configures the session directory service.
type DirectoryConfig struct {
	// Address is "host:port" for TCP or an absolute path (or
	// "unix:<path>") for a Unix socket.
	Address string `yaml:"address"`

	// RequestTimeout bounds one directory round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RateLimit is the sustained request rate per client the server
	// admits, in requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the number of requests admitted back to back.
	RateBurst int `yaml:"rate_burst"`
}

// TransportConfig configures participant links.
type TransportConfig struct {
	// ListenAddress is the host a local-topology host binds.
	ListenAddress string `yaml:"listen_address"`

	// Port is the TCP port of a local-topology host.
	Port int `yaml:"port"`

	// ICEServers lists STUN/TURN URLs for distributed links.
	ICEServers []string `yaml:"ice_servers"`

	// ICEUsername and ICECredential authenticate against the TURN
	// entries of ICEServers.
	ICEUsername   string `yaml:"ice_username"`
	ICECredential string `yaml:"ice_credential"`

	// ProbeAddress is dialled to decide whether the internet is
	// reachable.
	ProbeAddress string `yaml:"probe_address"`

	// ProbeTimeout bounds the connectivity probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// SignalPollInterval is how often a distributed host polls the
	// directory for connection offers.
	SignalPollInterval time.Duration `yaml:"signal_poll_interval"`
}

// SpawnerConfig configures spawn gates.
type SpawnerConfig struct {
	Cooldown        time.Duration `yaml:"cooldown"`
	ReleaseDistance float64       `yaml:"release_distance"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	FreezeOnSpawn   bool          `yaml:"freeze_on_spawn"`
}

// EffectsConfig configures pooled destroy effects.
type EffectsConfig struct {
	Lifetime time.Duration `yaml:"lifetime"`
	PoolSize int           `yaml:"pool_size"`
	YOffset  float64       `yaml:"y_offset"`
}

// LoggingConfig configures binary logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto, text, or json. Auto picks text on a terminal.
	Format string `yaml:"format"`
}

// Default returns the base configuration that a loaded file is merged
// into.
func Default() *Config {
	return &Config{
		Environment: Development,
		Session: SessionConfig{
			Topology:     TopologyDistributed,
			PlayerName:   "Player",
			MaxPlayers:   20,
			Scene:        "lobby",
			HotJoinGrace: 100 * time.Millisecond,
		},
		Directory: DirectoryConfig{
			Address:        "127.0.0.1:7700",
			RequestTimeout: 10 * time.Second,
			RateLimit:      5,
			RateBurst:      10,
		},
		Transport: TransportConfig{
			ListenAddress:      "0.0.0.0",
			Port:               7777,
			ProbeAddress:       "8.8.8.8:53",
			ProbeTimeout:       2 * time.Second,
			SignalPollInterval: 250 * time.Millisecond,
		},
		Spawner: SpawnerConfig{
			Cooldown:        500 * time.Millisecond,
			ReleaseDistance: 0.15,
			TickInterval:    50 * time.Millisecond,
			FreezeOnSpawn:   true,
		},
		Effects: EffectsConfig{
			Lifetime: time.Second,
			PoolSize: 8,
			YOffset:  0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by NETPLAY_CONFIG. There is no fallback
// location.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your netplay config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads a YAML file, or a JSONC file when the name ends in
// .jsonc or .json, over Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonc", ".json":
		data = jsonc.ToJSON(data)
	}
	return Parse(data)
}

// Parse decodes config data over Default and applies environment
// overrides and variable expansion.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Logging: &LoggingConfig{Format: "json"}}
		}
	}
	if overrides == nil {
		return
	}

	if directory := overrides.Directory; directory != nil {
		if directory.Address != "" {
			c.Directory.Address = directory.Address
		}
		if directory.RequestTimeout != 0 {
			c.Directory.RequestTimeout = directory.RequestTimeout
		}
		if directory.RateLimit != 0 {
			c.Directory.RateLimit = directory.RateLimit
		}
		if directory.RateBurst != 0 {
			c.Directory.RateBurst = directory.RateBurst
		}
	}

	if transport := overrides.Transport; transport != nil {
		if transport.ListenAddress != "" {
			c.Transport.ListenAddress = transport.ListenAddress
		}
		if transport.Port != 0 {
			c.Transport.Port = transport.Port
		}
		if len(transport.ICEServers) > 0 {
			c.Transport.ICEServers = transport.ICEServers
		}
		if transport.ProbeAddress != "" {
			c.Transport.ProbeAddress = transport.ProbeAddress
		}
		if transport.ProbeTimeout != 0 {
			c.Transport.ProbeTimeout = transport.ProbeTimeout
		}
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

func (c *Config) expandVariables() {
	c.Directory.Address = expandVars(c.Directory.Address)
	c.Transport.ListenAddress = expandVars(c.Transport.ListenAddress)
	c.Transport.ProbeAddress = expandVars(c.Transport.ProbeAddress)
	for i, server := range c.Transport.ICEServers {
		c.Transport.ICEServers[i] = expandVars(server)
	}
	c.Transport.ICEUsername = expandVars(c.Transport.ICEUsername)
	c.Transport.ICECredential = expandVars(c.Transport.ICECredential)
	c.Session.PlayerName = expandVars(c.Session.PlayerName)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Session.Topology != TopologyDistributed && c.Session.Topology != TopologyLocal {
		errs = append(errs, fmt.Errorf("session.topology must be %q or %q, got %q",
			TopologyDistributed, TopologyLocal, c.Session.Topology))
	}
	if c.Session.PlayerName == "" {
		errs = append(errs, errors.New("session.player_name is required"))
	}
	if c.Session.MaxPlayers < 1 {
		errs = append(errs, fmt.Errorf("session.max_players must be positive, got %d", c.Session.MaxPlayers))
	}
	if c.Session.HotJoinGrace < 0 {
		errs = append(errs, errors.New("session.hot_join_grace must not be negative"))
	}
	if c.Session.Topology == TopologyDistributed && c.Directory.Address == "" {
		errs = append(errs, errors.New("directory.address is required for the distributed topology"))
	}
	if c.Directory.RateLimit < 0 {
		errs = append(errs, errors.New("directory.rate_limit must not be negative"))
	}
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport.port out of range: %d", c.Transport.Port))
	}
	if c.Spawner.Cooldown < 0 {
		errs = append(errs, errors.New("spawner.cooldown must not be negative"))
	}
	if c.Spawner.ReleaseDistance <= 0 {
		errs = append(errs, errors.New("spawner.release_distance must be positive"))
	}
	if c.Spawner.TickInterval <= 0 {
		errs = append(errs, errors.New("spawner.tick_interval must be positive"))
	}
	if c.Effects.Lifetime <= 0 {
		errs = append(errs, errors.New("effects.lifetime must be positive"))
	}
	if c.Effects.PoolSize < 1 {
		errs = append(errs, errors.New("effects.pool_size must be positive"))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, text, or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// RoomName returns the configured default room name, or "<player
// name>'s Room".
func (s SessionConfig) RoomName() string {
	if s.DefaultRoomName != "" {
		return s.DefaultRoomName
	}
	return s.PlayerName + "'s Room"
}
