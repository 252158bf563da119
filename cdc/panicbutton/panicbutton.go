// Copyright 2024 Couchbase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package panicbutton implements the connector's single fatal-error latch
// (spec §4.6, §4.7): any component that hits an unrecoverable error presses
// the button exactly once, every other goroutine blocked in AwaitFatalError
// wakes up, and the Supervisor drives shutdown. Grounded on the original
// connector's PanicButton/DefaultPanicButton, using sync.Once the way the
// teacher uses it for its own single-fire shutdown hooks (pkg/cmd/server).
package panicbutton

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Button is the fatal-error latch shared by every long-running goroutine in
// the connector.
type Button interface {
	// Panic latches the fatal error, if this is the first call, and runs
	// the registered pre-panic hooks before returning. Subsequent calls
	// are no-ops; only the first error is retained.
	Panic(err error)
	// AddPrePanicHook registers a function to run once, before the latch
	// is observed by AwaitFatalError, the first time Panic is called.
	// Hooks run in registration order.
	AddPrePanicHook(hook func())
	// AwaitFatalError blocks until Panic has been called, then returns
	// the latched error.
	AwaitFatalError() error
	// Done returns a channel closed the moment Panic is first called, for
	// use in select statements.
	Done() <-chan struct{}
	// HasFired reports whether Panic has already been called.
	HasFired() bool
}

// DefaultButton is the production Button implementation.
type DefaultButton struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	hooks []func()
	err   error
}

// NewDefaultButton constructs a ready-to-use DefaultButton.
func NewDefaultButton() *DefaultButton {
	return &DefaultButton{done: make(chan struct{})}
}

func (b *DefaultButton) Panic(err error) {
	b.once.Do(func() {
		b.mu.Lock()
		b.err = err
		hooks := b.hooks
		b.mu.Unlock()

		log.Error("panic button pressed; connector is shutting down", zap.Error(err))
		for _, hook := range hooks {
			hook()
		}
		close(b.done)
	})
}

func (b *DefaultButton) AddPrePanicHook(hook func()) {
	b.mu.Lock()
	if b.HasFired() {
		b.mu.Unlock()
		hook()
		return
	}
	b.hooks = append(b.hooks, hook)
	b.mu.Unlock()
}

func (b *DefaultButton) AwaitFatalError() error {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *DefaultButton) Done() <-chan struct{} {
	return b.done
}

func (b *DefaultButton) HasFired() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

var _ Button = (*DefaultButton)(nil)
