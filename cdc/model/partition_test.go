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

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroCheckpoint(t *testing.T) {
	t.Parallel()

	cp := ZeroCheckpoint(3, "uuid-1", 42)
	require.Equal(t, Checkpoint{
		Partition:          3,
		VBUUID:             "uuid-1",
		SeqNo:              0,
		SnapshotStartSeqNo: 0,
		SnapshotEndSeqNo:   42,
	}, cp)
}

func TestCheckpointDocID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "my-group::checkpoint::7", CheckpointDocID("my-group", 7))
}

func TestCheckpointString(t *testing.T) {
	t.Parallel()

	cp := Checkpoint{Partition: 1, VBUUID: "u", SeqNo: 5, SnapshotStartSeqNo: 0, SnapshotEndSeqNo: 10}
	require.Equal(t, "partition=1 uuid=u seqno=5 snapshot=[0,10]", cp.String())
}
