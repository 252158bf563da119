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
	"encoding/json"
	stderrors "errors"

	"github.com/couchbase/gocbcore/v10"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/model"
)

// kvAgent is the narrow slice of *gocbcore.Agent's callback-based key-value
// API CouchbaseStore needs. Isolating it behind an interface keeps the rest
// of the connector free of gocbcore's async/callback style and gives tests
// something to fake, grounded on the callback-to-channel bridging pattern
// used throughout couchbase-stellar-gateway's legacybridge package.
type kvAgent interface {
	Get(opts gocbcore.GetOptions, cb gocbcore.GetCallback) (gocbcore.PendingOp, error)
	Set(opts gocbcore.SetOptions, cb gocbcore.StoreCallback) (gocbcore.PendingOp, error)
	Delete(opts gocbcore.DeleteOptions, cb gocbcore.DeleteCallback) (gocbcore.PendingOp, error)
}

// CouchbaseStore persists checkpoints as documents in the source's metadata
// collection, one per partition, keyed by model.CheckpointDocID. Grounded on
// the original connector's CouchbaseCheckpointDao.
type CouchbaseStore struct {
	Agent          kvAgent
	Group          string
	ScopeName      string
	CollectionName string
}

type checkpointDoc struct {
	VBUUID             model.BucketUUID `json:"vbuuid"`
	SeqNo              model.SeqNo      `json:"seqno"`
	SnapshotStartSeqNo model.SeqNo      `json:"snapshotStartSeqno"`
	SnapshotEndSeqNo   model.SeqNo      `json:"snapshotEndSeqno"`
}

// Load implements Store.
func (s *CouchbaseStore) Load(ctx context.Context, partitions []model.Partition) (map[model.Partition]model.Checkpoint, error) {
	out := make(map[model.Partition]model.Checkpoint, len(partitions))
	for _, p := range partitions {
		cp, ok, err := s.loadOne(ctx, p)
		if err != nil {
			return nil, errors.Annotatef(err, "load checkpoint for partition %d", p)
		}
		if ok {
			out[p] = cp
		}
	}
	return out, nil
}

func (s *CouchbaseStore) loadOne(ctx context.Context, p model.Partition) (model.Checkpoint, bool, error) {
	type result struct {
		value []byte
		err   error
	}
	resultCh := make(chan result, 1)

	_, err := s.Agent.Get(gocbcore.GetOptions{
		Key:            []byte(model.CheckpointDocID(s.Group, p)),
		ScopeName:      s.ScopeName,
		CollectionName: s.CollectionName,
	}, func(res *gocbcore.GetResult, err error) {
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{value: res.Value}
	})
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	select {
	case <-ctx.Done():
		return model.Checkpoint{}, false, ctx.Err()
	case r := <-resultCh:
		if stderrors.Is(r.err, gocbcore.ErrDocumentNotFound) {
			return model.Checkpoint{}, false, nil
		}
		if r.err != nil {
			return model.Checkpoint{}, false, r.err
		}
		var doc checkpointDoc
		if err := json.Unmarshal(r.value, &doc); err != nil {
			return model.Checkpoint{}, false, errors.Annotate(err, "decode checkpoint document")
		}
		return model.Checkpoint{
			Partition:          p,
			VBUUID:             doc.VBUUID,
			SeqNo:              doc.SeqNo,
			SnapshotStartSeqNo: doc.SnapshotStartSeqNo,
			SnapshotEndSeqNo:   doc.SnapshotEndSeqNo,
		}, true, nil
	}
}

// Save implements Store. It writes every checkpoint independently; a
// failure on one partition does not prevent the others from being saved.
func (s *CouchbaseStore) Save(ctx context.Context, checkpoints map[model.Partition]model.Checkpoint) ([]model.Partition, error) {
	var failed []model.Partition
	var firstErr error

	for p, cp := range checkpoints {
		if err := s.saveOne(ctx, p, cp); err != nil {
			log.Warn("failed to save checkpoint", zap.Uint16("partition", uint16(p)), zap.Error(err))
			failed = append(failed, p)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

func (s *CouchbaseStore) saveOne(ctx context.Context, p model.Partition, cp model.Checkpoint) error {
	body, err := json.Marshal(checkpointDoc{
		VBUUID:             cp.VBUUID,
		SeqNo:              cp.SeqNo,
		SnapshotStartSeqNo: cp.SnapshotStartSeqNo,
		SnapshotEndSeqNo:   cp.SnapshotEndSeqNo,
	})
	if err != nil {
		return errors.Annotate(err, "encode checkpoint document")
	}

	errCh := make(chan error, 1)
	_, err = s.Agent.Set(gocbcore.SetOptions{
		Key:            []byte(model.CheckpointDocID(s.Group, p)),
		Value:          body,
		ScopeName:      s.ScopeName,
		CollectionName: s.CollectionName,
	}, func(_ *gocbcore.StoreResult, err error) {
		errCh <- err
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Clear implements Store.
func (s *CouchbaseStore) Clear(ctx context.Context, partitions []model.Partition) error {
	for _, p := range partitions {
		errCh := make(chan error, 1)
		_, err := s.Agent.Delete(gocbcore.DeleteOptions{
			Key:            []byte(model.CheckpointDocID(s.Group, p)),
			ScopeName:      s.ScopeName,
			CollectionName: s.CollectionName,
		}, func(_ *gocbcore.DeleteResult, err error) {
			errCh <- err
		})
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !stderrors.Is(err, gocbcore.ErrDocumentNotFound) {
				return errors.Annotatef(err, "clear checkpoint for partition %d", p)
			}
		}
	}
	return nil
}

var _ Store = (*CouchbaseStore)(nil)
