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

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/pkg/config"
)

type fakeCheckpointStore struct {
	mu    sync.Mutex
	saved int
}

func (f *fakeCheckpointStore) Load(_ context.Context, _ []model.Partition) (map[model.Partition]model.Checkpoint, error) {
	return nil, nil
}

func (f *fakeCheckpointStore) Save(_ context.Context, _ map[model.Partition]model.Checkpoint) ([]model.Partition, error) {
	f.mu.Lock()
	f.saved++
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeCheckpointStore) Clear(_ context.Context, _ []model.Partition) error { return nil }

type fakePipeline struct {
	numPartitions int
	numPartErr    error
	initErr       error
	streamBlock   chan struct{}
	closed        int32
}

func (f *fakePipeline) NumPartitions(_ context.Context) (int, error) {
	return f.numPartitions, f.numPartErr
}

func (f *fakePipeline) InitSessionState(_ context.Context, _ []model.Partition) error {
	return f.initErr
}

func (f *fakePipeline) StartStreaming(ctx context.Context, _ []model.Partition) error {
	select {
	case <-f.streamBlock:
	case <-ctx.Done():
	}
	return nil
}

func (f *fakePipeline) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

type fakeWorker struct {
	closed  int32
	drained chan struct{}
}

func newFakeWorker() *fakeWorker { return &fakeWorker{drained: make(chan struct{})} }

func (f *fakeWorker) Run(ctx context.Context) { <-ctx.Done() }
func (f *fakeWorker) Close()                  { atomic.AddInt32(&f.closed, 1); close(f.drained) }
func (f *fakeWorker) AwaitDrained()           { <-f.drained }

func baseDeps(t *testing.T) (Dependencies, *fakePipeline, *fakeWorker, *fakeCheckpointStore) {
	store := &fakeCheckpointStore{}
	cpSvc := checkpoint.NewService(store)
	require.NoError(t, cpSvc.Init(context.Background(), []model.Partition{0}, map[model.Partition]model.BucketUUID{0: "u"}, map[model.Partition]model.SeqNo{0: 0}))

	pl := &fakePipeline{numPartitions: 2, streamBlock: make(chan struct{})}
	w := newFakeWorker()
	button := panicbutton.NewDefaultButton()

	deps := Dependencies{
		Config:                 &config.ConnectorConfig{Group: config.GroupConfig{Name: "g"}},
		Membership:             model.Membership{MemberNumber: 1, ClusterSize: 2},
		Pipeline:               pl,
		Worker:                 w,
		CheckpointSvc:          cpSvc,
		Button:                 button,
		CheckpointSaveInterval: 10 * time.Millisecond,
	}
	return deps, pl, w, store
}

func TestRunGracefulShutdownReturnsNilAndSavesCheckpoint(t *testing.T) {
	t.Parallel()

	deps, pl, w, store := baseDeps(t)
	sup := New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	close(pl.streamBlock)

	err := <-runDone
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&pl.closed))
	require.EqualValues(t, 1, atomic.LoadInt32(&w.closed))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Greater(t, store.saved, 0)
}

func TestRunFatalErrorReturnsErrorAfterShutdown(t *testing.T) {
	t.Parallel()

	deps, pl, _, store := baseDeps(t)
	// Long enough that the periodic ticker cannot fire before the panic
	// below, so the only thing store.saved can reflect is the final
	// post-shutdown save this test asserts must be skipped.
	deps.CheckpointSaveInterval = time.Hour
	sup := New(deps)

	ctx := context.Background()
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	deps.Button.Panic(errors.New("bulk index request failed"))
	close(pl.streamBlock)

	err := <-runDone
	require.Error(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, 0, store.saved)
}

func TestRunRejectsMoreWorkersThanPartitions(t *testing.T) {
	t.Parallel()

	deps, pl, _, _ := baseDeps(t)
	pl.numPartitions = 1
	deps.Membership = model.Membership{MemberNumber: 2, ClusterSize: 2}

	sup := New(deps)
	err := sup.Run(context.Background())
	require.Error(t, err)
}

func TestRunReturnsErrorOnPartitionDiscoveryFailure(t *testing.T) {
	t.Parallel()

	deps, pl, _, _ := baseDeps(t)
	pl.numPartErr = errors.New("connection refused")

	sup := New(deps)
	err := sup.Run(context.Background())
	require.Error(t, err)
}
