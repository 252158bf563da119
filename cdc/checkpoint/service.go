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

package checkpoint

import (
	"context"
	"sync"

	"github.com/pingcap/errors"

	"github.com/couchbase/cbes/cdc/model"
	cdcerrors "github.com/couchbase/cbes/pkg/errors"
)

// Service is the in-memory authority for each owned partition's replication
// position (spec §4.3): WorkerGroup updates it as batches become durable,
// and DcpPipeline/Supervisor read it back to flush and to resume a stream.
// All mutation goes through a single mutex, matching the single-writer
// discipline spec §5 requires; Save drops the lock before performing any
// I/O.
type Service struct {
	store Store

	mu          sync.Mutex
	checkpoints map[model.Partition]model.Checkpoint
}

// NewService constructs an empty Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, checkpoints: make(map[model.Partition]model.Checkpoint)}
}

// Init loads the stored checkpoint for each partition this member owns,
// substituting model.ZeroCheckpoint anchored at the partition's current live
// high-seqno for any partition with nothing stored (spec §4.3). A stored
// checkpoint whose VBUUID disagrees with current is discarded and replaced
// with a zero checkpoint too (spec §3, B3), since it belongs to a bucket
// instance that no longer exists.
func (s *Service) Init(ctx context.Context, partitions []model.Partition, current map[model.Partition]model.BucketUUID, highSeqNo map[model.Partition]model.SeqNo) error {
	loaded, err := s.store.Load(ctx, partitions)
	if err != nil {
		return errors.Annotatef(err, "load checkpoints for partitions %v", partitions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range partitions {
		cp, ok := loaded[p]
		if ok && cp.VBUUID != current[p] {
			ok = false
		}
		if !ok {
			cp = model.ZeroCheckpoint(p, current[p], highSeqNo[p])
		}
		s.checkpoints[p] = cp
	}
	return nil
}

// Set advances a partition's checkpointed seqno, as a no-op if cp.SeqNo is
// lower than the seqno already held for that partition (monotonicity, spec
// §4.3, B1/B2). Only
// SeqNo is taken from cp: VBUUID and the snapshot bounds seeded by Init (or
// last recorded by SetSnapshotBounds) are preserved rather than overwritten,
// since a caller advancing the seqno after a batch completes never has those
// fields to hand — replacing the whole record here would wipe them back to
// the zero value and make the next restart's B3 staleness check always
// discard the checkpoint.
func (s *Service) Set(cp model.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.checkpoints[cp.Partition]
	if !ok {
		s.checkpoints[cp.Partition] = cp
		return
	}
	if cp.SeqNo < existing.SeqNo {
		return
	}
	existing.SeqNo = cp.SeqNo
	s.checkpoints[cp.Partition] = existing
}

// SetSnapshotBounds records the bounds of the snapshot currently enclosing a
// partition's stream, called when DcpPipeline observes a SnapshotMarker
// (spec §3, §6 checkpoint layout, GLOSSARY: "checkpoints must record the
// enclosing marker to resume correctly"). SeqNo and VBUUID are left
// untouched. A partition with no seeded checkpoint is ignored: InitSessionState
// always runs before any stream is opened, so this should not happen outside
// of a test driving the listener directly.
func (s *Service) SetSnapshotBounds(p model.Partition, start, end model.SeqNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.checkpoints[p]
	if !ok {
		return
	}
	existing.SnapshotStartSeqNo = start
	existing.SnapshotEndSeqNo = end
	s.checkpoints[p] = existing
}

// Get returns the current in-memory checkpoint for a partition.
func (s *Service) Get(p model.Partition) (model.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[p]
	return cp, ok
}

// Snapshot returns a copy of every owned partition's current checkpoint, for
// metrics reporting and flush decisions.
func (s *Service) Snapshot() map[model.Partition]model.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Partition]model.Checkpoint, len(s.checkpoints))
	for p, cp := range s.checkpoints {
		out[p] = cp
	}
	return out
}

// Save takes a snapshot under the lock, releases it, then persists the
// snapshot via the Store — no network I/O is ever performed while the lock
// is held (spec §5).
func (s *Service) Save(ctx context.Context) error {
	snapshot := s.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	failed, err := s.store.Save(ctx, snapshot)
	if err != nil {
		return cdcerrors.ErrCheckpointSaveFailed.Wrap(err).GenWithStackByArgs(failed)
	}
	return nil
}

// Clear discards the in-memory and durable checkpoint for the given
// partitions, used when a bucket UUID change is detected (spec §4.2, B3).
func (s *Service) Clear(ctx context.Context, partitions []model.Partition) error {
	s.mu.Lock()
	for _, p := range partitions {
		delete(s.checkpoints, p)
	}
	s.mu.Unlock()
	return s.store.Clear(ctx, partitions)
}
