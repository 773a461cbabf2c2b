// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/netplay/lib/clock"
	"github.com/bureau-foundation/netplay/lib/status"
)

type announcement struct {
	after time.Duration
	text  string
}

// connectionMessages keep the status line moving while a join or
// create is waiting on the directory and transport.
var connectionMessages = []announcement{
	{2 * time.Second, "Systems functional."},
	{1 * time.Second, "Checklist protocol initiated."},
	{1 * time.Second, "Receiving transmission."},
	{1 * time.Second, "Hailing frequencies open."},
	{1 * time.Second, "Systems online."},
	{2 * time.Second, "Systems validating."},
	{3 * time.Second, "Signal unstable."},
}

// announcer plays connectionMessages onto a status value. Starting a
// new sequence stops the previous one.
type announcer struct {
	clock  clock.Clock
	status *status.Value[string]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *announcer) start(ctx context.Context) {
	a.stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		for _, message := range connectionMessages {
			if err := clock.Wait(ctx, a.clock, message.after); err != nil {
				return
			}
			a.status.Set(message.text)
		}
	}()
}

// stop ends the running sequence and waits for it to exit.
func (a *announcer) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
