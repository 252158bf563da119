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
	"github.com/couchbase/cbes/cdc/k8s"
)

// ResolveMemberNumber derives this process's 1-based group member number
// from its Kubernetes pod hostname (ordinal + 1). pkg/cmd/server calls it
// when [group].staticMembership.memberNumber is 0; no environment variable
// selects this mode.
func ResolveMemberNumber() (int, error) {
	info, err := k8s.FromEnvHostname()
	if err != nil {
		return 0, err
	}
	return info.MemberNumber(), nil
}
