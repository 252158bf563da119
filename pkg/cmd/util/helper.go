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

// Package util holds small helpers shared by the connector's cobra
// commands, grounded on the teacher's pkg/cmd/util.
package util

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cdcerrors "github.com/couchbase/cbes/pkg/errors"
	"github.com/couchbase/cbes/pkg/logutil"
)

// InitCmd initializes the process logger and returns a context whose cancel
// function stops the connector.
func InitCmd(cmd *cobra.Command, logCfg *logutil.Config) (context.Context, context.CancelFunc) {
	if err := logutil.InitLogger(logCfg); err != nil {
		cmd.PrintErrf("init logger error %v\n", err)
		os.Exit(1)
	}
	log.Info("init log", zap.String("file", logCfg.File), zap.String("level", logCfg.Level))

	return context.WithCancel(context.Background())
}

// shutdownNotify is a callback to notify the caller that the connector is
// about to shut down. It returns a channel that receives an empty struct
// when shutdown is complete. It must be non-blocking.
type shutdownNotify func() <-chan struct{}

// InitSignalHandling wires SIGINT/SIGTERM/SIGHUP/SIGQUIT to a graceful
// shutdown on first receipt and a forced one on the second, matching the
// teacher's pkg/cmd/util.InitSignalHandling (systemd and Kubernetes both
// send the termination signal, then a second one if shutdown hangs).
func InitSignalHandling(shutdown shutdownNotify, cancel context.CancelFunc) {
	sc := make(chan os.Signal, 2)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sc
		log.Info("got signal, prepare to shutdown", zap.Stringer("signal", sig))
		done := shutdown()
		select {
		case <-done:
			log.Info("shutdown complete")
		case sig = <-sc:
			log.Info("got signal, force shutdown", zap.Stringer("signal", sig))
		}
		cancel()
	}()
}

// StrictDecodeFile decodes the TOML file at path strictly: any key in the
// file that is not mapped into cfg is a fatal configuration error
// (spec §6, ambient config validation), matching the teacher's
// pkg/cmd/util.StrictDecodeFile. ignoreCheckItems names top-level keys whose
// whole subtree is exempt from the unknown-key check, used for the
// deprecated [truststore] block (spec §6).
func StrictDecodeFile(path, component string, cfg interface{}, ignoreCheckItems ...string) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Trace(err)
	}

	hasIgnoreItem := func(item []string) bool {
		for _, ignored := range ignoreCheckItems {
			if item[0] == ignored {
				return true
			}
		}
		return false
	}

	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var b strings.Builder
		unknown := 0
		for _, item := range undecoded {
			if hasIgnoreItem(item) {
				continue
			}
			if unknown > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
			unknown++
		}
		if unknown > 0 {
			return errors.Errorf("component %s's config file %s contained unknown configuration options: %s",
				component, path, b.String())
		}
	}
	return nil
}

// CheckErr prints a non-nil err and exits the process, matching the teacher's
// pkg/cmd/util.CheckErr.
func CheckErr(err error) {
	if cdcerrors.IsCliUnprintableError(err) {
		err = nil
	}
	cobra.CheckErr(err)
}
