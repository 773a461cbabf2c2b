// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/netplay/lib/codec"
	"github.com/bureau-foundation/netplay/lib/testutil"
)

func TestClientCall(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Action string `cbor:"action"`
			Value  int    `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"action": request.Action, "value": request.Value}, nil
	})
	client := NewClient(startServer(t, server))

	var result struct {
		Action string `cbor:"action"`
		Value  int    `cbor:"value"`
	}
	if err := client.Call(context.Background(), "echo", map[string]any{"value": 7}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Action != "echo" || result.Value != 7 {
		t.Errorf("result = %+v, want echo/7", result)
	}
}

func TestClientServiceError(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("join", func(ctx context.Context, raw []byte) (any, error) {
		return nil, &codedError{code: "not_found"}
	})
	client := NewClient(startServer(t, server))

	err := client.Call(context.Background(), "join", nil, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Call error = %v, want *ServiceError", err)
	}
	if serviceErr.Action != "join" || serviceErr.Code != "not_found" || serviceErr.Message != "coded failure" {
		t.Errorf("ServiceError = %+v", serviceErr)
	}
}

func TestClientConnectionError(t *testing.T) {
	client := NewClient(unixPrefix + filepath.Join(testutil.SocketDir(t), "missing.sock"))

	err := client.Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("expected error calling a missing socket")
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Errorf("connection failure reported as ServiceError: %v", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	release := make(chan struct{})
	server.Handle("hang", func(ctx context.Context, raw []byte) (any, error) {
		<-release
		return nil, nil
	})
	client := NewClient(startServer(t, server))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := client.Call(ctx, "hang", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call = %v, want deadline exceeded", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	server := NewSocketServer(testutil.DiscardLogger())
	server.Handle("double", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		codec.Unmarshal(raw, &request)
		return request.Value * 2, nil
	})
	client := NewClient(startServer(t, server))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var doubled int
			if err := client.Call(context.Background(), "double", map[string]any{"value": i}, &doubled); err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if doubled != 2*i {
				t.Errorf("call %d: got %d", i, doubled)
			}
		}()
	}
	wg.Wait()
}
