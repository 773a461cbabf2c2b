// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/netplay/authority"
	"github.com/bureau-foundation/netplay/directory"
	"github.com/bureau-foundation/netplay/lib/config"
	"github.com/bureau-foundation/netplay/lib/process"
	"github.com/bureau-foundation/netplay/lib/service"
	"github.com/bureau-foundation/netplay/lib/version"
	"github.com/bureau-foundation/netplay/peer"
	"github.com/bureau-foundation/netplay/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	address     string
	noRelay     bool
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("netplay-directory", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "config file (default: $"+config.EnvVar+", else built-in defaults)")
	flags.StringVar(&opts.address, "address", "", "listen address, overriding directory.address")
	flags.BoolVar(&opts.noRelay, "no-relay", false, "serve the directory without the session relay")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// loadConfig reads the file named by --config or NETPLAY_CONFIG. The
// daemon runs on defaults when neither is set.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvVar) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("netplay-directory %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.address != "" {
		cfg.Directory.Address = opts.address
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, _ := cfg.Logging.SlogLevel()
	logger, err := process.NewLogger(level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger = logger.With("component", "netplay-directory")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signaler := transport.NewMemorySignaler()
	server, err := directory.NewServer(directory.ServerConfig{
		Store:     directory.NewStore(),
		Signaler:  signaler,
		RateLimit: cfg.Directory.RateLimit,
		RateBurst: cfg.Directory.RateBurst,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	socket := service.NewSocketServer(logger)
	server.Register(socket)

	listener, err := service.Listen(directory.ServiceAddress(cfg.Directory.Address))
	if err != nil {
		return err
	}

	var relayDone chan error
	if !opts.noRelay {
		relayDone, err = startRelay(ctx, cfg.Transport, signaler, logger)
		if err != nil {
			listener.Close()
			return err
		}
	}

	logger.Info("directory running",
		"version", version.Info(),
		"address", cfg.Directory.Address,
		"relay", !opts.noRelay,
		"rate_limit", cfg.Directory.RateLimit,
	)

	socketErr := socket.Serve(ctx, listener)
	logger.Info("shutting down")
	if relayDone != nil {
		if err := <-relayDone; err != nil {
			logger.Error("relay stopped with error", "error", err)
		}
	}
	return socketErr
}

// startRelay serves authority relay connections on a WebRTC transport
// that signals through the directory's own signaler.
func startRelay(ctx context.Context, cfg config.TransportConfig, signaler transport.Signaler, logger *slog.Logger) (chan error, error) {
	ice, err := transport.ICEConfigFromURLs(cfg.ICEServers, cfg.ICEUsername, cfg.ICECredential)
	if err != nil {
		return nil, err
	}
	webrtc, err := transport.NewWebRTCTransport(transport.WebRTCConfig{
		Signaler:           signaler,
		Localpart:          peer.DefaultRelayLocalpart,
		ICE:                ice,
		SignalPollInterval: cfg.SignalPollInterval,
		Logger:             logger.With("transport", "webrtc"),
	})
	if err != nil {
		return nil, err
	}
	relay := authority.NewRelay(ctx, version.BuildID(), logger.With("subsystem", "relay"))

	done := make(chan error, 1)
	go func() {
		defer webrtc.Close()
		done <- webrtc.Serve(ctx, relay.ServeConn)
	}()
	return done, nil
}
