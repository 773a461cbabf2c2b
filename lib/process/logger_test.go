// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	tests := []struct {
		name     string
		terminal bool
		format   string
		wantJSON bool
	}{
		{"auto on terminal", true, "auto", false},
		{"auto piped", false, "auto", true},
		{"forced text", false, "text", false},
		{"forced json", true, "json", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var output bytes.Buffer
			logger, err := newLogger(&output, test.terminal, slog.LevelInfo, test.format)
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			logger.Info("hello", "key", "value")
			isJSON := strings.HasPrefix(output.String(), "{")
			if isJSON != test.wantJSON {
				t.Errorf("output %q: JSON = %v, want %v", output.String(), isJSON, test.wantJSON)
			}
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var output bytes.Buffer
	logger, err := newLogger(&output, false, slog.LevelWarn, "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("dropped")
	if output.Len() != 0 {
		t.Errorf("info logged at warn level: %q", output.String())
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, false, slog.LevelInfo, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
