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

// Package pipeline implements DcpPipeline (C6, spec §4.6): it connects to
// the source bucket, discovers the partition count, derives this member's
// owned partitions, seeds each owned partition's stream from
// CheckpointService, and turns the resulting stream of DCP events into
// WorkerGroup submissions while preserving per-partition event order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/metrics"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/cdc/requestfactory"
)

// submitter is the slice of worker.Group the pipeline depends on, kept
// narrow so tests don't need a real esclient/checkpoint-backed Group.
type submitter interface {
	Submit(ctx context.Context, req model.IndexRequest) error
}

// Config bounds connection and partition-discovery behaviour (spec §4.6,
// §6 [couchbase].dcpConnectTimeoutMillis).
type Config struct {
	ConnectTimeout time.Duration
}

// DcpPipeline owns the DCP agent connection and the per-partition stream
// listeners that feed WorkerGroup.
type DcpPipeline struct {
	cfg        Config
	agent      dcpAgent
	checkpoint *checkpoint.Service
	factory    *requestfactory.Factory
	worker     submitter
	metrics    *metrics.Registry
	button     panicbutton.Button
	membership model.Membership
}

// New builds a DcpPipeline. InitSessionState must be called before
// StartStreaming.
// reg may be nil, in which case observed-seqno reporting is skipped.
func New(cfg Config, agent dcpAgent, checkpointSvc *checkpoint.Service, factory *requestfactory.Factory, worker submitter, reg *metrics.Registry, button panicbutton.Button, membership model.Membership) *DcpPipeline {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &DcpPipeline{
		cfg:        cfg,
		agent:      agent,
		checkpoint: checkpointSvc,
		factory:    factory,
		worker:     worker,
		metrics:    reg,
		button:     button,
		membership: membership,
	}
}

// NumPartitions discovers the source bucket's partition count and rejects a
// non-positive count. It does not check numPartitions >= clusterSize; the
// caller does that (Supervisor.Run, through membership.PartitionsOf) before
// any stream is opened. It is expected to complete within cfg.ConnectTimeout;
// callers are responsible for wrapping the call in that deadline and
// treating a timeout as fatal (spec §4.6 step 2, "Connect").
func (p *DcpPipeline) NumPartitions(ctx context.Context) (int, error) {
	n, err := p.agent.NumVbuckets()
	if err != nil {
		return 0, fmt.Errorf("discover partition count: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("source bucket reported %d partitions", n)
	}
	return n, nil
}

// InitSessionState seeds the CheckpointService's view of every owned
// partition by comparing the stored checkpoint's VBUUID against the live
// source's current one, discarding stale checkpoints (spec §3 B3, §4.3).
func (p *DcpPipeline) InitSessionState(ctx context.Context, owned []model.Partition) error {
	current := make(map[model.Partition]model.BucketUUID, len(owned))
	highSeqNo := make(map[model.Partition]model.SeqNo, len(owned))
	for _, part := range owned {
		uuid, err := p.agent.VbucketUUID(ctx, part)
		if err != nil {
			return fmt.Errorf("fetch vbucket uuid for partition %d: %w", part, err)
		}
		seqNo, err := p.agent.HighSeqNo(ctx, part)
		if err != nil {
			return fmt.Errorf("fetch high seqno for partition %d: %w", part, err)
		}
		current[part] = uuid
		highSeqNo[part] = seqNo
	}
	return p.checkpoint.Init(ctx, owned, current, highSeqNo)
}

// StartStreaming opens a DCP stream per owned partition and blocks until ctx
// is cancelled. Each partition's events are translated and submitted to
// WorkerGroup from a single per-partition goroutine, so ordering within a
// partition is exactly the order DCP delivered events in (spec §4.6, P-ORD
// analogue of the worker's per-docId ordering invariant).
func (p *DcpPipeline) StartStreaming(ctx context.Context, owned []model.Partition) error {
	for _, part := range owned {
		cp, ok := p.checkpoint.Get(part)
		if !ok {
			return fmt.Errorf("no checkpoint seeded for owned partition %d", part)
		}

		listener := newPartitionListener(part, p.factory, p.worker, p.checkpoint, p.metrics, p.button)
		opts := streamOptions{
			VBUUID:             cp.VBUUID,
			StartSeqNo:         cp.SeqNo,
			EndSeqNo:           model.SeqNo(^uint64(0)),
			SnapshotStartSeqNo: cp.SnapshotStartSeqNo,
			SnapshotEndSeqNo:   cp.SnapshotEndSeqNo,
		}

		if err := p.agent.OpenStream(ctx, part, opts, listener.observer()); err != nil {
			return fmt.Errorf("open dcp stream for partition %d: %w", part, err)
		}
		log.Info("opened dcp stream", zap.Uint16("partition", uint16(part)), zap.Uint64("startSeqNo", uint64(cp.SeqNo)))
	}

	<-ctx.Done()
	return nil
}

// Close releases the underlying DCP agent connection.
func (p *DcpPipeline) Close() error {
	return p.agent.Close()
}
