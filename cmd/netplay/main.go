// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/netplay/directory"
	"github.com/bureau-foundation/netplay/effect"
	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/config"
	"github.com/bureau-foundation/netplay/lib/geom"
	"github.com/bureau-foundation/netplay/lib/process"
	"github.com/bureau-foundation/netplay/lib/version"
	"github.com/bureau-foundation/netplay/peer"
	"github.com/bureau-foundation/netplay/session"
	"github.com/bureau-foundation/netplay/transport"
)

// shutdownTimeout bounds leaving the session on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	player      string
	topology    string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("netplay", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "config file (default: $"+config.EnvVar+", else built-in defaults)")
	flags.StringVar(&opts.player, "player", "", "player name, overriding session.player_name")
	flags.StringVar(&opts.topology, "topology", "", "distributed or local, overriding session.topology")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.player != "" {
		cfg.Session.PlayerName = opts.player
	}
	if opts.topology != "" {
		cfg.Session.Topology = opts.topology
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(args []string, input io.Reader, output io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(output, "netplay %s\n", version.Info())
		return nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level, _ := cfg.Logging.SlogLevel()
	logger, err := process.NewLogger(level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger = logger.With("player", cfg.Session.PlayerName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	participant, err := newParticipant(cfg, logger)
	if err != nil {
		return err
	}
	defer participant.close()

	if err := participant.manager.Start(ctx); err != nil {
		// A failed authentication leaves the local topology usable.
		logger.Warn("start failed", "error", err)
	}
	go participant.report(ctx, output)

	repl := &console{participant: participant, output: output}
	repl.run(ctx, input)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return participant.manager.Shutdown(shutdownCtx)
}

// participant holds the wired components of one running player.
type participant struct {
	config    *config.Config
	manager   *session.Manager
	directory *directory.Client
	relayed   *transport.WebRTCTransport
	world     *world
	clock     clock.Clock
	logger    *slog.Logger
}

func newParticipant(cfg *config.Config, logger *slog.Logger) (*participant, error) {
	clk := clock.Real()

	pool := effect.NewPool(cfg.Effects.PoolSize)
	player, err := effect.NewPlayer(effect.PlayerConfig{
		Pool:     pool,
		Clock:    clk,
		Lifetime: cfg.Effects.Lifetime,
		Place: func(handle *effect.Handle, at geom.Vec3) error {
			handle.Position = at
			logger.Info("effect", "handle", handle.ID, "position", at)
			return nil
		},
		Logger: logger.With("subsystem", "effects"),
	})
	if err != nil {
		return nil, err
	}

	p := &participant{config: cfg, clock: clk, logger: logger}

	var authenticator session.Authenticator
	var dir session.Directory
	var relayed transport.Dialer
	if cfg.Directory.Address != "" {
		client, err := directory.NewClient(directory.ClientConfig{
			Address:        cfg.Directory.Address,
			RequestTimeout: cfg.Directory.RequestTimeout,
			Clock:          clk,
			Logger:         logger.With("subsystem", "directory"),
		})
		if err != nil {
			return nil, err
		}
		ice, err := transport.ICEConfigFromURLs(cfg.Transport.ICEServers, cfg.Transport.ICEUsername, cfg.Transport.ICECredential)
		if err != nil {
			return nil, err
		}
		webrtc, err := transport.NewWebRTCTransport(transport.WebRTCConfig{
			Signaler:  client,
			Localpart: client.Localpart(),
			ICE:       ice,
			Logger:    logger.With("transport", "webrtc"),
		})
		if err != nil {
			return nil, err
		}
		p.directory = client
		p.relayed = webrtc
		authenticator, dir, relayed = client, client, webrtc
	}

	network, err := peer.NewNetwork(peer.Config{
		Build:   version.BuildID(),
		Relayed: relayed,
		Effects: player,
		Logger:  logger.With("subsystem", "network"),
	})
	if err != nil {
		return nil, err
	}

	probeAddress := cfg.Transport.ProbeAddress
	manager, err := session.NewManager(session.ManagerConfig{
		Session:       cfg.Session,
		ListenAddress: cfg.Transport.ListenAddress,
		Port:          cfg.Transport.Port,
		Directory:     dir,
		Transport:     network,
		Authenticator: authenticator,
		BuildID:       version.BuildID(),
		Clock:         clk,
		Logger:        logger.With("subsystem", "session"),
		Probe: func(ctx context.Context) error {
			if dir == nil {
				return fmt.Errorf("no directory configured")
			}
			return transport.Reachable(ctx, probeAddress, cfg.Transport.ProbeTimeout)
		},
		LocalAddress: func() string { return transport.LocalAddress(probeAddress) },
		Resolve:      transport.ResolveHost,
	})
	if err != nil {
		return nil, err
	}
	p.manager = manager

	p.world, err = newWorld(worldConfig{
		Spawner: cfg.Spawner,
		Effects: player,
		Offset:  geom.Vec3{Y: cfg.Effects.YOffset},
		Clock:   clk,
		Logger:  logger.With("subsystem", "world"),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// report prints roster, promotion, failure, and state events until ctx
// ends, and binds the world to each new link.
func (p *participant) report(ctx context.Context, output io.Writer) {
	players := p.manager.Roster().Subscribe(16)
	defer players.Close()
	promotions := p.manager.SubscribePromotions(4)
	defer promotions.Close()
	failures := p.manager.SubscribeFailures(4)
	defer failures.Close()
	states := p.manager.WatchState()
	defer states.Close()
	statusText := p.manager.WatchStatus()
	defer statusText.Close()

	for {
		select {
		case <-ctx.Done():
			p.world.detach()
			return
		case event := <-players.C:
			fmt.Fprintf(output, "* participant %s %s\n", event.Participant.ID, event.Kind)
		case owner := <-promotions.C:
			fmt.Fprintf(output, "* participant %s is now the session owner\n", owner)
		case failure := <-failures.C:
			fmt.Fprintf(output, "! %s\n", failure.Message)
		case text := <-statusText.C:
			if text != "" {
				fmt.Fprintf(output, "- %s\n", text)
			}
		case state := <-states.C:
			fmt.Fprintf(output, "* state: %s\n", state)
			if state == session.StateConnected {
				if link, ok := p.manager.Link().(*peer.Link); ok {
					if err := p.world.attach(ctx, link.Authority()); err != nil {
						p.logger.Error("binding scene to session failed", "error", err)
					}
				}
			} else {
				p.world.detach()
			}
		}
	}
}

func (p *participant) close() {
	p.world.detach()
	if p.relayed != nil {
		p.relayed.Close()
	}
	if p.directory != nil && p.directory.Authenticated() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := p.directory.Disconnect(ctx); err != nil {
			p.logger.Debug("directory disconnect failed", "error", err)
		}
	}
}
