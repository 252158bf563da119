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

// Package checkpoint implements CheckpointStore (C2) and CheckpointService
// (C3): the durable record of how far each partition has been replicated,
// and the in-memory authority WorkerGroup reads and updates while running
// (spec §4.2, §4.3).
package checkpoint

import (
	"context"

	"github.com/couchbase/cbes/cdc/model"
)

// Store persists checkpoints to the source's metadata collection. It is the
// only component that performs checkpoint I/O; CheckpointService is the sole
// caller.
type Store interface {
	// Load fetches the current checkpoint for each of the given
	// partitions. Partitions with no stored checkpoint are simply absent
	// from the returned map; that is not an error.
	Load(ctx context.Context, partitions []model.Partition) (map[model.Partition]model.Checkpoint, error)

	// Save durably writes the given checkpoints. Partitions that could
	// not be written are returned in failed, alongside a non-nil err;
	// partitions not mentioned in failed were saved successfully even
	// when err is non-nil for others.
	Save(ctx context.Context, checkpoints map[model.Partition]model.Checkpoint) (failed []model.Partition, err error)

	// Clear removes any stored checkpoint for the given partitions, used
	// when a bucket UUID change invalidates them (spec §4.2, B3).
	Clear(ctx context.Context, partitions []model.Partition) error
}
