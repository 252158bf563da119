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

func TestMembershipOwns(t *testing.T) {
	t.Parallel()

	m := Membership{MemberNumber: 2, ClusterSize: 3}
	owned := []Partition{}
	for p := Partition(0); p < 9; p++ {
		if m.Owns(p) {
			owned = append(owned, p)
		}
	}
	require.Equal(t, []Partition{1, 4, 7}, owned)
}

func TestMembershipString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2/3", Membership{MemberNumber: 2, ClusterSize: 3}.String())
}
