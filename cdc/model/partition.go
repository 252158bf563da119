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

// Package model holds the data types shared across the connector: partition
// and sequence-number identities, checkpoints, replication events, type
// rules and index requests (spec §3). It mirrors the teacher's cdc/model
// package (plain structs, no behavior beyond small helpers).
package model

import "fmt"

// Partition is the integer id of a source hash partition (vbucket), in
// [0, NumPartitions).
type Partition uint16

// SeqNo is a 64-bit monotonic per-partition sequence number.
type SeqNo uint64

// BucketUUID identifies a particular instance of the source dataset. A
// stored checkpoint whose BucketUUID disagrees with the live source's
// current uuid is stale and must be discarded (spec §3, B3).
type BucketUUID string

// Checkpoint is the durable per-partition replication position (spec §3).
type Checkpoint struct {
	Partition          Partition
	VBUUID             BucketUUID
	SeqNo              SeqNo
	SnapshotStartSeqNo SeqNo
	SnapshotEndSeqNo   SeqNo
}

// String renders the checkpoint for logging.
func (c Checkpoint) String() string {
	return fmt.Sprintf("partition=%d uuid=%s seqno=%d snapshot=[%d,%d]",
		c.Partition, c.VBUUID, c.SeqNo, c.SnapshotStartSeqNo, c.SnapshotEndSeqNo)
}

// ZeroCheckpoint builds a checkpoint anchored at the given live snapshot
// bounds, used by CheckpointService.Init when no persisted checkpoint exists
// for a partition (spec §4.3).
func ZeroCheckpoint(partition Partition, uuid BucketUUID, currentSeqNo SeqNo) Checkpoint {
	return Checkpoint{
		Partition:          partition,
		VBUUID:             uuid,
		SeqNo:              0,
		SnapshotStartSeqNo: 0,
		SnapshotEndSeqNo:   currentSeqNo,
	}
}

// CheckpointDocID renders the metadata-collection document key for a
// partition's checkpoint, spec §6: "<group-name>::checkpoint::<partition>".
func CheckpointDocID(group string, partition Partition) string {
	return fmt.Sprintf("%s::checkpoint::%d", group, partition)
}
