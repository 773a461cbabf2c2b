// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger a binary writes to stderr.
// Format "auto" uses slog.TextHandler when stderr is a terminal and
// slog.JSONHandler when it is piped or redirected; "text" and "json"
// force one or the other.
//
// Callers scope it with component context via With():
//
//	logger := process.NewLogger(level, format).With("component", "directory")
func NewLogger(level slog.Level, format string) (*slog.Logger, error) {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level, format)
}

func newLogger(output io.Writer, terminal bool, level slog.Level, format string) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		terminal = true
	case "json":
		terminal = false
	case "auto", "":
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if terminal {
		return slog.New(slog.NewTextHandler(output, options)), nil
	}
	return slog.New(slog.NewJSONHandler(output, options)), nil
}
