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

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/cdc/requestfactory"
)

type fakeDcpAgent struct {
	numVbuckets int
	vbuuid      model.BucketUUID
	highSeqNo   model.SeqNo

	mu        sync.Mutex
	observers map[model.Partition]streamObserver
	closed    bool
}

func newFakeDcpAgent(numVbuckets int) *fakeDcpAgent {
	return &fakeDcpAgent{numVbuckets: numVbuckets, vbuuid: "uuid-1", observers: make(map[model.Partition]streamObserver)}
}

func (f *fakeDcpAgent) NumVbuckets() (int, error) { return f.numVbuckets, nil }

func (f *fakeDcpAgent) VbucketUUID(_ context.Context, _ model.Partition) (model.BucketUUID, error) {
	return f.vbuuid, nil
}

func (f *fakeDcpAgent) HighSeqNo(_ context.Context, _ model.Partition) (model.SeqNo, error) {
	return f.highSeqNo, nil
}

func (f *fakeDcpAgent) OpenStream(_ context.Context, partition model.Partition, _ streamOptions, observer streamObserver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers[partition] = observer
	return nil
}

func (f *fakeDcpAgent) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDcpAgent) deliverMutation(partition model.Partition, key string, seqNo model.SeqNo, body []byte) {
	f.mu.Lock()
	obs := f.observers[partition]
	f.mu.Unlock()
	obs.Mutation(key, 1, 1, seqNo, body, nil)
}

func (f *fakeDcpAgent) deliverSnapshotMarker(partition model.Partition, start, end model.SeqNo) {
	f.mu.Lock()
	obs := f.observers[partition]
	f.mu.Unlock()
	obs.SnapshotMarker(start, end)
}

func (f *fakeDcpAgent) deliverRollback(partition model.Partition, seqNo model.SeqNo) {
	f.mu.Lock()
	obs := f.observers[partition]
	f.mu.Unlock()
	obs.Rollback(seqNo)
}

type fakeCheckpointStore struct {
	mu   sync.Mutex
	data map[model.Partition]model.Checkpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{data: make(map[model.Partition]model.Checkpoint)}
}

func (f *fakeCheckpointStore) Load(_ context.Context, _ []model.Partition) (map[model.Partition]model.Checkpoint, error) {
	return nil, nil
}

func (f *fakeCheckpointStore) Save(_ context.Context, checkpoints map[model.Partition]model.Checkpoint) ([]model.Partition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, cp := range checkpoints {
		f.data[p] = cp
	}
	return nil, nil
}

func (f *fakeCheckpointStore) Clear(_ context.Context, _ []model.Partition) error { return nil }

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []model.IndexRequest
}

func (s *recordingSubmitter) Submit(_ context.Context, req model.IndexRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *recordingSubmitter) all() []model.IndexRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.IndexRequest, len(s.reqs))
	copy(out, s.reqs)
	return out
}

func TestNumPartitionsReturnsAgentCount(t *testing.T) {
	t.Parallel()

	agent := newFakeDcpAgent(64)
	p := New(Config{}, agent, nil, nil, nil, nil, nil, model.Membership{})
	n, err := p.NumPartitions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 64, n)
}

func TestInitSessionStateSeedsCheckpointsFromLiveSource(t *testing.T) {
	t.Parallel()

	agent := newFakeDcpAgent(4)
	agent.vbuuid = "live-uuid"
	agent.highSeqNo = 42

	cpSvc := checkpoint.NewService(newFakeCheckpointStore())
	p := New(Config{}, agent, cpSvc, nil, nil, nil, nil, model.Membership{})

	owned := []model.Partition{0, 2}
	require.NoError(t, p.InitSessionState(context.Background(), owned))

	cp, ok := cpSvc.Get(0)
	require.True(t, ok)
	require.Equal(t, model.BucketUUID("live-uuid"), cp.VBUUID)
	require.Equal(t, model.SeqNo(0), cp.SeqNo)
	require.Equal(t, model.SeqNo(42), cp.SnapshotEndSeqNo)
}

func TestStartStreamingTranslatesMutationsInOrder(t *testing.T) {
	t.Parallel()

	agent := newFakeDcpAgent(4)
	cpSvc := checkpoint.NewService(newFakeCheckpointStore())
	require.NoError(t, cpSvc.Init(context.Background(),
		[]model.Partition{0},
		map[model.Partition]model.BucketUUID{0: "uuid-1"},
		map[model.Partition]model.SeqNo{0: 0},
	))

	factory := requestfactory.New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs"}}, nil)
	sub := &recordingSubmitter{}
	button := panicbutton.NewDefaultButton()

	p := New(Config{}, agent, cpSvc, factory, sub, nil, button, model.Membership{MemberNumber: 1, ClusterSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	streamingDone := make(chan error, 1)
	go func() {
		streamingDone <- p.StartStreaming(ctx, []model.Partition{0})
	}()

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		_, ok := agent.observers[0]
		return ok
	}, time.Second, time.Millisecond)

	agent.deliverMutation(0, "doc-1", 1, []byte(`{"a":1}`))
	agent.deliverMutation(0, "doc-2", 2, []byte(`{"a":2}`))

	require.Eventually(t, func() bool { return len(sub.all()) == 2 }, time.Second, time.Millisecond)

	reqs := sub.all()
	require.Equal(t, "doc-1", reqs[0].RequestDocID())
	require.Equal(t, "doc-2", reqs[1].RequestDocID())

	cancel()
	<-streamingDone
}

func TestSnapshotMarkerUpdatesCheckpointBoundsWithoutProducingARequest(t *testing.T) {
	t.Parallel()

	agent := newFakeDcpAgent(4)
	cpSvc := checkpoint.NewService(newFakeCheckpointStore())
	require.NoError(t, cpSvc.Init(context.Background(),
		[]model.Partition{0},
		map[model.Partition]model.BucketUUID{0: "uuid-1"},
		map[model.Partition]model.SeqNo{0: 0},
	))

	factory := requestfactory.New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs"}}, nil)
	sub := &recordingSubmitter{}
	button := panicbutton.NewDefaultButton()

	p := New(Config{}, agent, cpSvc, factory, sub, nil, button, model.Membership{MemberNumber: 1, ClusterSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go p.StartStreaming(ctx, []model.Partition{0})

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		_, ok := agent.observers[0]
		return ok
	}, time.Second, time.Millisecond)

	agent.deliverSnapshotMarker(0, 10, 20)

	require.Eventually(t, func() bool {
		cp, ok := cpSvc.Get(0)
		return ok && cp.SnapshotStartSeqNo == 10 && cp.SnapshotEndSeqNo == 20
	}, time.Second, time.Millisecond)

	require.Empty(t, sub.all())

	cancel()
}

func TestRollbackFiresPanicButton(t *testing.T) {
	t.Parallel()

	agent := newFakeDcpAgent(4)
	cpSvc := checkpoint.NewService(newFakeCheckpointStore())
	require.NoError(t, cpSvc.Init(context.Background(),
		[]model.Partition{0},
		map[model.Partition]model.BucketUUID{0: "uuid-1"},
		map[model.Partition]model.SeqNo{0: 0},
	))

	factory := requestfactory.New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs"}}, nil)
	sub := &recordingSubmitter{}
	button := panicbutton.NewDefaultButton()

	p := New(Config{}, agent, cpSvc, factory, sub, nil, button, model.Membership{MemberNumber: 1, ClusterSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.StartStreaming(ctx, []model.Partition{0})

	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		_, ok := agent.observers[0]
		return ok
	}, time.Second, time.Millisecond)

	agent.deliverRollback(0, 0)

	err := button.AwaitFatalError()
	require.Error(t, err)
}
