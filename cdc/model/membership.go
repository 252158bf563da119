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

import "fmt"

// Membership is this process's static position within the replication group
// (spec §3, §4.1): a 1-based member number out of a fixed cluster size. A
// partition p belongs to the member for which p mod ClusterSize ==
// MemberNumber-1.
type Membership struct {
	MemberNumber int
	ClusterSize  int
}

// String renders the membership for logging.
func (m Membership) String() string {
	return fmt.Sprintf("%d/%d", m.MemberNumber, m.ClusterSize)
}

// Owns reports whether this member is responsible for partition p.
func (m Membership) Owns(p Partition) bool {
	return int(p)%m.ClusterSize == m.MemberNumber-1
}
