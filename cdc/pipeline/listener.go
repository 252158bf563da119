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

package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/metrics"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/cdc/requestfactory"
)

// partitionListener translates one partition's DCP events into
// RequestFactory output and submits them to WorkerGroup. gocbcore invokes a
// single stream's callbacks from one goroutine at a time, so a listener
// does not need its own internal queue to preserve event order — it only
// needs to call Submit synchronously, before returning from each callback,
// so back-pressure from WorkerGroup's bounded queue is honored in order.
type partitionListener struct {
	partition  model.Partition
	factory    *requestfactory.Factory
	worker     submitter
	checkpoint *checkpoint.Service
	metrics    *metrics.Registry
	button     panicbutton.Button
	ctx        context.Context
	cancel     context.CancelFunc
}

func newPartitionListener(partition model.Partition, factory *requestfactory.Factory, worker submitter, checkpointSvc *checkpoint.Service, reg *metrics.Registry, button panicbutton.Button) *partitionListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &partitionListener{partition: partition, factory: factory, worker: worker, checkpoint: checkpointSvc, metrics: reg, button: button, ctx: ctx, cancel: cancel}
}

// observeSeqNo records the highest seqno seen from the replication stream
// for this partition, regardless of whether the event ends up producing an
// index request (spec §6 observed.seqno gauge).
func (l *partitionListener) observeSeqNo(seqNo model.SeqNo) {
	if l.metrics != nil {
		l.metrics.SetObservedSeqNo(strconv.Itoa(int(l.partition)), uint64(seqNo))
	}
}

func (l *partitionListener) observer() streamObserver {
	return streamObserver{
		SnapshotMarker: l.onSnapshotMarker,
		Mutation:       l.onMutation,
		Deletion:       l.onDeletion,
		Rollback:       l.onRollback,
		End:            l.onStreamEnd,
	}
}

func (l *partitionListener) submit(ev model.ReplicationEvent) {
	req, ok := l.factory.Make(ev)
	if !ok {
		return
	}
	if err := l.worker.Submit(l.ctx, req); err != nil {
		// Submit only fails when the worker group is draining/closed or
		// the listener's own context was cancelled; neither is a
		// protocol fault, so it is not routed through the panic button.
		log.Warn("dropped index request: worker group not accepting", zap.Uint16("partition", uint16(l.partition)), zap.Error(err))
	}
}

// onSnapshotMarker records the enclosing snapshot's bounds directly on
// CheckpointService rather than routing through RequestFactory/WorkerGroup:
// a SnapshotMarker never produces an index request, and waiting for it to
// flow through the submission queue would let the worker's checkpoint
// writes race ahead of the bounds they are meant to accompany.
func (l *partitionListener) onSnapshotMarker(start, end model.SeqNo) {
	l.observeSeqNo(end)
	l.checkpoint.SetSnapshotBounds(l.partition, start, end)
}

func (l *partitionListener) onMutation(key string, cas uint64, revSeqNo uint64, seqNo model.SeqNo, value []byte, xattrs map[string][]byte) {
	l.observeSeqNo(seqNo)
	l.submit(model.Mutation{
		Key:       key,
		Cas:       cas,
		RevSeqNo:  revSeqNo,
		Partition: l.partition,
		SeqNo:     seqNo,
		Body:      value,
		Xattrs:    xattrs,
	})
}

func (l *partitionListener) onDeletion(key string, cas uint64, revSeqNo uint64, seqNo model.SeqNo) {
	l.observeSeqNo(seqNo)
	l.submit(model.Deletion{
		Key:       key,
		Cas:       cas,
		RevSeqNo:  revSeqNo,
		Partition: l.partition,
		SeqNo:     seqNo,
	})
}

// onRollback fires when the source asks the stream to rewind past data
// already acknowledged to Elasticsearch. The connector treats this as
// unrecoverable rather than attempting to re-derive a consistent position:
// it presses the panic button, the supervisor shuts the connector down, and
// the next run resumes from the last persisted checkpoints (spec §4.6, §7
// class 7).
func (l *partitionListener) onRollback(rollbackSeqNo model.SeqNo) {
	l.cancel()
	l.button.Panic(fmt.Errorf("dcp stream for partition %d rolled back to seqno %d", l.partition, rollbackSeqNo))
}

// onStreamEnd fires when the source closes the stream outside of a
// connector-initiated Close, e.g. the vbucket moved to another node without
// a corresponding topology-aware reconnect. Treated as fatal (spec §4.6).
func (l *partitionListener) onStreamEnd(err error) {
	l.cancel()
	if err == nil {
		err = fmt.Errorf("dcp stream for partition %d closed unexpectedly", l.partition)
	}
	l.button.Panic(err)
}
