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

// Package membership computes the static, deterministic partition
// assignment for a single replication group member (spec §4.1, component
// C1). It is a small, pure, independently-testable package in the style of
// the teacher's scheduler helpers, with no goroutines or I/O of its own.
package membership

import (
	"strconv"

	"github.com/couchbase/cbes/cdc/model"
	cdcerrors "github.com/couchbase/cbes/pkg/errors"
)

// MaxClusterSize is the largest group size the connector will accept.
const MaxClusterSize = 1024

// Validate checks a (member, clusterSize, numPartitions) triple against the
// invariants spec §4.1 requires: 1 <= clusterSize <= MaxClusterSize, 1 <=
// member <= clusterSize, and numPartitions >= clusterSize.
func Validate(member, clusterSize, numPartitions int) error {
	if clusterSize < 1 || clusterSize > MaxClusterSize {
		return cdcerrors.ErrInvalidMembership.GenWithStackByArgs(
			"clusterSize must be in [1, 1024], got " + strconv.Itoa(clusterSize))
	}
	if member < 1 || member > clusterSize {
		return cdcerrors.ErrInvalidMembership.GenWithStackByArgs(
			"memberNumber must be in [1, clusterSize], got " + strconv.Itoa(member))
	}
	if numPartitions < clusterSize {
		// More workers than partitions means some member would always own
		// none; surface the dedicated B2 error here rather than the
		// generic invalid-membership one, since Of's own len(owned)==0
		// check below can never observe this case once Validate passes.
		return cdcerrors.ErrMoreWorkersThanPartitions.GenWithStackByArgs()
	}
	return nil
}

// PartitionsOf returns the partitions owned by the given member, in
// ascending order: { p : p mod clusterSize == member-1 }. An empty result
// is valid at this layer; the Supervisor decides whether "no partitions
// owned" is fatal (spec §4.6 step 3).
func PartitionsOf(member, clusterSize, numPartitions int) ([]model.Partition, error) {
	if err := Validate(member, clusterSize, numPartitions); err != nil {
		return nil, err
	}

	var owned []model.Partition
	for p := 0; p < numPartitions; p++ {
		if p%clusterSize == member-1 {
			owned = append(owned, model.Partition(p))
		}
	}
	return owned, nil
}

// Of builds a model.Membership after validating it against numPartitions,
// returning ErrMoreWorkersThanPartitions if this member would own no
// partitions at all.
func Of(member, clusterSize, numPartitions int) (model.Membership, error) {
	owned, err := PartitionsOf(member, clusterSize, numPartitions)
	if err != nil {
		return model.Membership{}, err
	}
	if len(owned) == 0 {
		return model.Membership{}, cdcerrors.ErrMoreWorkersThanPartitions.GenWithStackByArgs()
	}
	return model.Membership{MemberNumber: member, ClusterSize: clusterSize}, nil
}
