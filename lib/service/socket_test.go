// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

// startServer listens on a fresh Unix socket, serves server on it, and
// returns the service address. Serve is stopped when the test ends.
func startServer(t *testing.T, server *SocketServer) string {
	t.Helper()
	address := unixPrefix + filepath.Join(testutil.SocketDir(t), "service.sock")
	listener, err := Listen(address)
	if err != nil {
		t.Fatalf("Listen(%q): %v", address, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return")
	})
	return address
}

// sendRaw writes payload to the service and decodes the response
// envelope.
func sendRaw(t *testing.T, address string, payload []byte) Response {
	t.Helper()
	network, location := splitAddress(address)
	conn, err := net.DialTimeout(network, location, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v", address, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:realclock // kernel I/O deadline

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func sendRequest(t *testing.T, address string, request any) Response {
	t.Helper()
	payload, err := codec.Marshal(request)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return sendRaw(t, address, payload)
}

type codedError struct{ code string }

func (e *codedError) Error() string       { return "coded failure" }
func (e *codedError) ServiceCode() string { return e.code }

func TestSocketServerStatus(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"sessions": 3}, nil
	})
	address := startServer(t, server)

	response := sendRequest(t, address, map[string]string{"action": "status"})
	if !response.OK {
		t.Fatalf("expected ok=true, got error %q", response.Error)
	}
	var data map[string]any
	if err := codec.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data["sessions"] != uint64(3) {
		t.Errorf("sessions = %v (%T), want 3", data["sessions"], data["sessions"])
	}
}

func TestSocketServerErrors(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fmt.Errorf("something broke")
	})
	server.Handle("coded", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fmt.Errorf("wrapped: %w", &codedError{code: "full"})
	})
	address := startServer(t, server)

	tests := []struct {
		name      string
		request   any
		wantError string
		wantCode  string
	}{
		{"unknown action", map[string]string{"action": "nonexistent"}, `unknown action "nonexistent"`, ""},
		{"missing action", map[string]string{"foo": "bar"}, "missing required field: action", ""},
		{"handler error", map[string]string{"action": "fail"}, "something broke", ""},
		{"coded error", map[string]string{"action": "coded"}, "wrapped: coded failure", "full"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response := sendRequest(t, address, test.request)
			if response.OK {
				t.Fatal("expected ok=false")
			}
			if response.Error != test.wantError {
				t.Errorf("error = %q, want %q", response.Error, test.wantError)
			}
			if response.Code != test.wantCode {
				t.Errorf("code = %q, want %q", response.Code, test.wantCode)
			}
		})
	}
}

func TestSocketServerInvalidCBOR(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	address := startServer(t, server)

	response := sendRaw(t, address, []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb})
	if response.OK {
		t.Error("expected ok=false for invalid CBOR")
	}
}

func TestSocketServerNilResult(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
	address := startServer(t, server)

	response := sendRequest(t, address, map[string]string{"action": "noop"})
	if !response.OK {
		t.Errorf("expected ok=true, got false")
	}
	if len(response.Data) != 0 {
		t.Errorf("expected no data in response, got %d bytes", len(response.Data))
	}
}

func TestSocketServerTCP(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return "pong", nil
	})
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, listener)

	var reply string
	if err := NewClient(listener.Addr().String()).Call(ctx, "ping", nil, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q, want pong", reply)
	}
}

func TestSocketServerGracefulShutdown(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())

	handlerStarted := make(chan struct{})
	handlerRelease := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		close(handlerStarted)
		<-handlerRelease
		return map[string]any{"completed": true}, nil
	})

	socketPath := filepath.Join(testutil.SocketDir(t), "service.sock")
	listener, err := Listen(unixPrefix + socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx, listener) }()

	responses := make(chan Response, 1)
	go func() {
		responses <- sendRequest(t, unixPrefix+socketPath, map[string]string{"action": "slow"})
	}()

	testutil.RequireClosed(t, handlerStarted, 5*time.Second, "handler never started")
	cancel()
	close(handlerRelease)

	// The in-flight request still completes.
	response := testutil.RequireReceive(t, responses, 5*time.Second, "in-flight response")
	if !response.OK {
		t.Errorf("expected ok=true for in-flight request, got false")
	}

	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
	if _, err := os.Stat(socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("socket file not cleaned up after Serve returned")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "stale.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("creating stale file: %v", err)
	}
	listener, err := Listen(unixPrefix + socketPath)
	if err != nil {
		t.Fatalf("Listen over stale file: %v", err)
	}
	listener.Close()
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("foo", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate handler registration")
		}
	}()

	server.Handle("foo", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})
}
