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

package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/cbes/cdc/model"
)

func TestPartitionsOfPartitionsTheSpace(t *testing.T) {
	t.Parallel()

	const numPartitions = 1024
	const clusterSize = 3

	seen := make(map[model.Partition]int)
	for member := 1; member <= clusterSize; member++ {
		owned, err := PartitionsOf(member, clusterSize, numPartitions)
		require.NoError(t, err)
		for _, p := range owned {
			seen[p]++
		}
	}

	require.Len(t, seen, numPartitions)
	for p, count := range seen {
		require.Equal(t, 1, count, "partition %d owned by %d members", p, count)
	}
}

func TestPartitionsOfRejectsOversizedCluster(t *testing.T) {
	t.Parallel()

	_, err := PartitionsOf(1, 1025, 2048)
	require.Error(t, err)
}

func TestPartitionsOfRejectsOutOfRangeMember(t *testing.T) {
	t.Parallel()

	_, err := PartitionsOf(0, 4, 1024)
	require.Error(t, err)

	_, err = PartitionsOf(5, 4, 1024)
	require.Error(t, err)
}

func TestPartitionsOfRejectsFewerPartitionsThanMembers(t *testing.T) {
	t.Parallel()

	_, err := PartitionsOf(1, 10, 4)
	require.Error(t, err)
}

func TestOfReturnsErrorWhenMemberOwnsNothing(t *testing.T) {
	t.Parallel()

	_, err := Of(5, 5, 3)
	require.Error(t, err)
}

func TestOfReturnsMembershipWhenOwningAtLeastOnePartition(t *testing.T) {
	t.Parallel()

	m, err := Of(1, 2, 4)
	require.NoError(t, err)
	require.Equal(t, model.Membership{MemberNumber: 1, ClusterSize: 2}, m)
}
