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

package panicbutton

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPanicLatchesFirstErrorOnly(t *testing.T) {
	t.Parallel()

	b := NewDefaultButton()
	first := errors.New("first")
	second := errors.New("second")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b.Panic(first) }()
	go func() { defer wg.Done(); b.Panic(second) }()
	wg.Wait()

	require.True(t, b.HasFired())
	got := b.AwaitFatalError()
	require.True(t, got == first || got == second)
}

func TestPrePanicHookRunsOnFirstPanic(t *testing.T) {
	t.Parallel()

	b := NewDefaultButton()
	ran := make(chan struct{}, 1)
	b.AddPrePanicHook(func() { ran <- struct{}{} })

	b.Panic(errors.New("boom"))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("hook did not run")
	}
}

func TestPrePanicHookAddedAfterFireRunsImmediately(t *testing.T) {
	t.Parallel()

	b := NewDefaultButton()
	b.Panic(errors.New("boom"))

	ran := make(chan struct{}, 1)
	b.AddPrePanicHook(func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("hook did not run")
	}
}

func TestAwaitFatalErrorBlocksUntilPanic(t *testing.T) {
	t.Parallel()

	b := NewDefaultButton()
	done := make(chan error, 1)
	go func() { done <- b.AwaitFatalError() }()

	select {
	case <-done:
		t.Fatal("AwaitFatalError returned before Panic was called")
	case <-time.After(50 * time.Millisecond):
	}

	sentinel := errors.New("fatal")
	b.Panic(sentinel)

	require.Equal(t, sentinel, <-done)
}
