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

// Package cmd assembles the connector's cobra command tree, the same
// top-level shape as the teacher's pkg/cmd, trimmed to this connector's
// single long-running server mode (no owner/capture/processor cluster to
// administer interactively).
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchbase/cbes/pkg/cmd/server"
	"github.com/couchbase/cbes/pkg/cmd/util"
	"github.com/couchbase/cbes/pkg/version"
)

// NewCmdCbes builds the root `cbes` command.
func NewCmdCbes() *cobra.Command {
	cmds := &cobra.Command{
		Use:           "cbes",
		Short:         "Couchbase Elasticsearch Connector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmds.AddCommand(server.NewCmdServer())
	cmds.AddCommand(newCmdVersion())

	return cmds
}

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the connector's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

// Run executes the root command, matching the teacher's
// cmd/cdc/main.go -> pkg/cmd.Run entrypoint. util.CheckErr exits the
// process on a non-nil, printable error.
func Run() {
	util.CheckErr(NewCmdCbes().Execute())
}
