// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/netplay/lib/config"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/netplay.yaml", "--address", "/run/netplay.sock", "--no-relay"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/etc/netplay.yaml" || opts.address != "/run/netplay.sock" || !opts.noRelay {
		t.Errorf("opts = %+v", opts)
	}

	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("parseFlags accepted a positional argument")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig without a file: %v", err)
	}
	if cfg.Directory.Address != config.Default().Directory.Address {
		t.Errorf("Directory.Address = %q, want the default", cfg.Directory.Address)
	}

	path := filepath.Join(t.TempDir(), "netplay.yaml")
	if err := os.WriteFile(path, []byte("directory:\n  address: 127.0.0.1:9900\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvVar, path)
	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig from %s: %v", config.EnvVar, err)
	}
	if cfg.Directory.Address != "127.0.0.1:9900" {
		t.Errorf("Directory.Address = %q, want 127.0.0.1:9900", cfg.Directory.Address)
	}
}
