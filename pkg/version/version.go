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

// Package version stamps build-time version information, set via -ldflags
// the way the teacher's pkg/version does.
package version

import (
	"fmt"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Populated via -ldflags "-X ...=..." at build time.
var (
	ReleaseVersion = "None"
	GitHash        = "None"
	GitBranch      = "None"
	BuildTime      = "None"
)

// String renders the version info as a single line.
func String() string {
	return fmt.Sprintf("Couchbase Elasticsearch Connector %s, git hash %s, branch %s, built %s",
		ReleaseVersion, GitHash, GitBranch, BuildTime)
}

// LogInfo logs the version info at startup.
func LogInfo() {
	log.Info("connector version",
		zap.String("release", ReleaseVersion),
		zap.String("gitHash", GitHash),
		zap.String("gitBranch", GitBranch),
		zap.String("buildTime", BuildTime),
	)
}
