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

// Package supervisor implements Supervisor (C7, spec §4.7): the connector's
// top-level startup and shutdown sequence, wiring every other package's
// component together in the exact order required for correctness. Grounded
// on ElasticsearchConnector.run() in the original Java implementation
// (_examples/original_source), with the Go idiom of a signal-driven
// context.CancelFunc taken from the teacher's pkg/cmd/server/server.go.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/membership"
	"github.com/couchbase/cbes/cdc/metrics"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/pkg/config"
	cdcerrors "github.com/couchbase/cbes/pkg/errors"
)

// dcpPipeline is the slice of *pipeline.DcpPipeline the supervisor drives.
// Kept as an interface so tests don't need a live gocbcore DCP agent.
type dcpPipeline interface {
	NumPartitions(ctx context.Context) (int, error)
	InitSessionState(ctx context.Context, owned []model.Partition) error
	StartStreaming(ctx context.Context, owned []model.Partition) error
	Close() error
}

// workerGroup is the slice of *worker.Group the supervisor drives.
type workerGroup interface {
	Run(ctx context.Context)
	Close()
	AwaitDrained()
}

// Dependencies bundles every already-constructed component Supervisor.Run
// wires together. Building these (opening the gocbcore agent, waiting for
// Elasticsearch, etc.) is the caller's responsibility — spec §4.7 steps 1–6
// — so Supervisor itself stays unit-testable with fakes.
type Dependencies struct {
	Config          *config.ConnectorConfig
	Membership      model.Membership
	Pipeline        dcpPipeline
	Worker          workerGroup
	CheckpointSvc   *checkpoint.Service
	Button          panicbutton.Button
	MetricsRegistry *metrics.Registry
	LogReporter     *metrics.LogReporter

	// CheckpointSaveInterval defaults to 10s, matching the original
	// connector's scheduleWithFixedDelay(checkpointService::save, 10, 10,
	// SECONDS).
	CheckpointSaveInterval time.Duration

	// StartMetricsHTTPServer is called once streaming has started,
	// mirroring the original's "start HTTP server after other setup is
	// complete, so the metrics endpoint can be used as a startup probe".
	StartMetricsHTTPServer func()
}

// Supervisor drives one full run of the connector: startup, steady-state
// operation until a fatal error or graceful shutdown request, then
// shutdown.
type Supervisor struct {
	deps Dependencies
}

// New builds a Supervisor.
func New(deps Dependencies) *Supervisor {
	if deps.CheckpointSaveInterval <= 0 {
		deps.CheckpointSaveInterval = 10 * time.Second
	}
	return &Supervisor{deps: deps}
}

// Run executes the 14-step startup sequence, blocks until ctx is cancelled
// (graceful shutdown request) or the panic button fires (fatal error), then
// runs the shutdown sequence and returns the fatal error, or nil on graceful
// shutdown (spec §4.7).
func (s *Supervisor) Run(ctx context.Context) error {
	d := s.deps

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	log.Info("connector starting", zap.String("group", d.Config.Group.Name), zap.String("membership", d.Membership.String()))

	// Step: connect to the source and discover partitions within the
	// configured timeout; a timeout here is fatal (original: "Failed to
	// establish initial DCP connection within <timeout>").
	connectTimeout := time.Duration(d.Config.Couchbase.DCPConnectTimeoutMS) * time.Millisecond
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancelConnect := context.WithTimeout(runCtx, connectTimeout)
	numPartitions, err := d.Pipeline.NumPartitions(connectCtx)
	cancelConnect()
	if err != nil {
		return cdcerrors.ErrDcpConnectTimeout.Wrap(err).GenWithStackByArgs(connectTimeout)
	}
	log.Info("bucket partition count discovered", zap.Int("numPartitions", numPartitions), zap.String("membership", d.Membership.String()))

	owned, err := membership.PartitionsOf(d.Membership.MemberNumber, d.Membership.ClusterSize, numPartitions)
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		// Starting streaming with an empty partition list would make the
		// DCP client open streams for every partition instead, so this
		// must be rejected explicitly rather than silently streaming
		// everything (original: "this worker doesn't have any work to do").
		return cdcerrors.ErrMoreWorkersThanPartitions.GenWithStackByArgs()
	}

	if err := d.Pipeline.InitSessionState(runCtx, owned); err != nil {
		return fmt.Errorf("initialize session state: %w", err)
	}

	if quiet := time.Duration(d.Config.Group.StartupQuietPeriodSeconds) * time.Second; quiet > 0 {
		log.Info("entering startup quiet period so peers can terminate in case of unsafe scaling", zap.Duration("duration", quiet))
		select {
		case <-time.After(quiet):
		case <-runCtx.Done():
			return nil
		}
		log.Info("startup quiet period complete")
	}

	checkpointTicker := time.NewTicker(d.CheckpointSaveInterval)
	defer checkpointTicker.Stop()
	checkpointTickerDone := make(chan struct{})
	go func() {
		defer close(checkpointTickerDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-checkpointTicker.C:
				if err := d.CheckpointSvc.Save(runCtx); err != nil {
					log.Warn("periodic checkpoint save failed", zap.Error(err))
				}
			}
		}
	}()

	go d.Worker.Run(runCtx)

	streamingDone := make(chan error, 1)
	go func() {
		streamingDone <- d.Pipeline.StartStreaming(runCtx, owned)
	}()

	if d.LogReporter != nil {
		go d.LogReporter.Run(runCtx)
	}

	// Start the HTTP server last: the metrics endpoint doubles as a
	// "successful startup complete" readiness probe (original comment,
	// preserved in spirit).
	if d.StartMetricsHTTPServer != nil {
		d.StartMetricsHTTPServer()
	}
	log.Info("connector startup complete")

	var fatalErr error
	select {
	case <-ctx.Done():
		log.Info("graceful shutdown requested")
	case <-d.Button.Done():
		fatalErr = d.Button.AwaitFatalError()
		log.Error("terminating due to fatal error", zap.Error(fatalErr))
	}

	s.shutdown(runCtx, cancelRun, checkpointTickerDone, fatalErr == nil)

	if fatalErr != nil {
		// Give stdout a moment to quiet down so a stack trace logged to
		// stderr doesn't interleave with the last of the stdout log lines
		// (original: "give stdout a chance to quiet down").
		time.Sleep(500 * time.Millisecond)
	}
	return fatalErr
}

// shutdown runs the common teardown sequence for both the graceful and the
// fatal path, but only performs the final checkpoint save when graceful is
// true. A save after a panic could persist state derived from whatever the
// connector was doing when it failed, so spec §4.3/§4.7/§9 require the save
// to be skipped entirely on the fatal path rather than attempted best-effort
// (scenario S5: "no final checkpoint save" on panic).
func (s *Supervisor) shutdown(runCtx context.Context, cancelRun context.CancelFunc, checkpointTickerDone <-chan struct{}, graceful bool) {
	d := s.deps

	cancelRun()
	<-checkpointTickerDone

	if err := d.Pipeline.Close(); err != nil {
		log.Warn("error closing dcp pipeline", zap.Error(err))
	}

	// Must close the worker group after the pipeline stops feeding it
	// events, to avoid leaking buffered events (original: "to avoid
	// buffer leak, must close *after* dcp client stops feeding it events").
	d.Worker.Close()
	d.Worker.AwaitDrained()

	if !graceful {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.CheckpointSvc.Save(saveCtx); err != nil {
		log.Warn("final checkpoint save failed", zap.Error(err))
	}
}
