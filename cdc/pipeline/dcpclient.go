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
	"strconv"

	"github.com/couchbase/gocbcore/v10"

	"github.com/couchbase/cbes/cdc/model"
)

// dcpAgent is the narrow slice of gocbcore's DCP agent surface DcpPipeline
// needs. Isolating it here means the one place that has to track gocbcore's
// exact DCP method signatures is this file, the way the teacher isolates
// MySQL-specific SQL string building behind the Sink interface in
// cdc/sink/base.go.
type dcpAgent interface {
	NumVbuckets() (int, error)
	VbucketUUID(ctx context.Context, partition model.Partition) (model.BucketUUID, error)
	HighSeqNo(ctx context.Context, partition model.Partition) (model.SeqNo, error)
	OpenStream(ctx context.Context, partition model.Partition, opts streamOptions, observer streamObserver) error
	Close() error
}

// streamOptions seeds one partition's DCP stream, translated from a
// CheckpointService checkpoint (spec §4.3, §4.6).
type streamOptions struct {
	VBUUID             model.BucketUUID
	StartSeqNo         model.SeqNo
	EndSeqNo           model.SeqNo
	SnapshotStartSeqNo model.SeqNo
	SnapshotEndSeqNo   model.SeqNo
}

// streamObserver receives DCP events for one partition's stream, mirroring
// gocbcore's StreamObserver callback shape (one method per DCP event kind),
// grounded on the events enumerated in gocbcorex's DcpEvent hierarchy.
type streamObserver struct {
	SnapshotMarker func(start, end model.SeqNo)
	Mutation       func(key string, cas uint64, revSeqNo uint64, seqNo model.SeqNo, value []byte, xattrs map[string][]byte)
	Deletion       func(key string, cas uint64, revSeqNo uint64, seqNo model.SeqNo)
	Rollback       func(rollbackSeqNo model.SeqNo)
	End            func(err error)
}

// gocbcoreDcpAgent adapts a live *gocbcore.Agent to dcpAgent. It is the sole
// file that touches gocbcore's DCP-specific wire types directly.
type gocbcoreDcpAgent struct {
	agent *gocbcore.Agent
	scope string
	coll  string
}

// NewGocbcoreDcpAgent adapts a live *gocbcore.Agent into the dcpAgent this
// package's DcpPipeline depends on. Exported so pkg/cmd/server can wire a
// freshly connected agent into a pipeline without reaching into this
// package's unexported DCP plumbing.
func NewGocbcoreDcpAgent(agent *gocbcore.Agent, scope, coll string) *gocbcoreDcpAgent {
	return &gocbcoreDcpAgent{agent: agent, scope: scope, coll: coll}
}

func (a *gocbcoreDcpAgent) NumVbuckets() (int, error) {
	snapshot, err := a.agent.ConfigSnapshot()
	if err != nil {
		return 0, err
	}
	n, err := snapshot.NumVbuckets()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (a *gocbcoreDcpAgent) VbucketUUID(ctx context.Context, partition model.Partition) (model.BucketUUID, error) {
	type result struct {
		uuid gocbcore.VbUUID
		err  error
	}
	ch := make(chan result, 1)
	_, err := a.agent.GetVbucketSeqnos(0, gocbcore.VbucketStateActive, gocbcore.GetVbucketSeqnosOptions{},
		func(entries []gocbcore.VbSeqNoEntry, err error) {
			if err != nil {
				ch <- result{err: err}
				return
			}
			for _, e := range entries {
				if uint16(e.VbID) == uint16(partition) {
					ch <- result{uuid: e.VbUUID}
					return
				}
			}
			ch <- result{err: errPartitionNotFound}
		})
	if err != nil {
		return "", err
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return model.BucketUUID(formatUUID(uint64(r.uuid))), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *gocbcoreDcpAgent) HighSeqNo(ctx context.Context, partition model.Partition) (model.SeqNo, error) {
	type result struct {
		seqNo gocbcore.SeqNo
		err   error
	}
	ch := make(chan result, 1)
	_, err := a.agent.GetVbucketSeqnos(0, gocbcore.VbucketStateActive, gocbcore.GetVbucketSeqnosOptions{},
		func(entries []gocbcore.VbSeqNoEntry, err error) {
			if err != nil {
				ch <- result{err: err}
				return
			}
			for _, e := range entries {
				if uint16(e.VbID) == uint16(partition) {
					ch <- result{seqNo: e.SeqNo}
					return
				}
			}
			ch <- result{err: errPartitionNotFound}
		})
	if err != nil {
		return 0, err
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		return model.SeqNo(r.seqNo), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (a *gocbcoreDcpAgent) OpenStream(ctx context.Context, partition model.Partition, opts streamOptions, observer streamObserver) error {
	done := make(chan error, 1)
	_, err := a.agent.OpenStream(
		uint16(partition),
		gocbcore.DcpStreamAddFlagActiveOnly,
		gocbcore.VbUUID(parseUUID(string(opts.VBUUID))),
		gocbcore.SeqNo(opts.StartSeqNo),
		gocbcore.SeqNo(opts.EndSeqNo),
		gocbcore.SeqNo(opts.SnapshotStartSeqNo),
		gocbcore.SeqNo(opts.SnapshotEndSeqNo),
		&adaptingStreamObserver{obs: observer},
		gocbcore.OpenStreamOptions{},
		func(entries []gocbcore.FailoverEntry, err error) {
			done <- err
		},
	)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *gocbcoreDcpAgent) Close() error {
	return a.agent.Close()
}

// adaptingStreamObserver implements gocbcore.StreamObserver by forwarding
// into the domain-shaped streamObserver callbacks.
type adaptingStreamObserver struct {
	obs streamObserver
}

func (o *adaptingStreamObserver) SnapshotMarker(m gocbcore.DcpSnapshotMarker) {
	if o.obs.SnapshotMarker != nil {
		o.obs.SnapshotMarker(model.SeqNo(m.StartSeqNo), model.SeqNo(m.EndSeqNo))
	}
}

func (o *adaptingStreamObserver) Mutation(m gocbcore.DcpMutation) {
	if o.obs.Mutation != nil {
		o.obs.Mutation(string(m.Key), m.Cas, m.RevNo, model.SeqNo(m.SeqNo), m.Value, nil)
	}
}

func (o *adaptingStreamObserver) Deletion(m gocbcore.DcpDeletion) {
	if o.obs.Deletion != nil {
		o.obs.Deletion(string(m.Key), m.Cas, m.RevNo, model.SeqNo(m.SeqNo))
	}
}

func (o *adaptingStreamObserver) Expiration(m gocbcore.DcpExpiration) {
	if o.obs.Deletion != nil {
		o.obs.Deletion(string(m.Key), m.Cas, m.RevNo, model.SeqNo(m.SeqNo))
	}
}

func (o *adaptingStreamObserver) End(m gocbcore.DcpStreamEnd, err error) {
	if o.obs.End != nil {
		o.obs.End(err)
	}
}

func (o *adaptingStreamObserver) CreateCollection(m gocbcore.DcpCollectionCreation)     {}
func (o *adaptingStreamObserver) DeleteCollection(m gocbcore.DcpCollectionDeletion)     {}
func (o *adaptingStreamObserver) FlushCollection(m gocbcore.DcpCollectionFlush)         {}
func (o *adaptingStreamObserver) CreateScope(m gocbcore.DcpScopeCreation)               {}
func (o *adaptingStreamObserver) DeleteScope(m gocbcore.DcpScopeDeletion)               {}
func (o *adaptingStreamObserver) ModifyCollection(m gocbcore.DcpCollectionModification) {}
func (o *adaptingStreamObserver) OSOSnapshot(m gocbcore.DcpOSOSnapshot)                 {}
func (o *adaptingStreamObserver) SeqNoAdvanced(m gocbcore.DcpSeqNoAdvanced)             {}

type pipelineError string

func (e pipelineError) Error() string { return string(e) }

const errPartitionNotFound = pipelineError("partition not present in vbucket seqno listing")

// formatUUID/parseUUID round-trip a vbucket UUID between gocbcore's numeric
// form and the string form model.BucketUUID is stored and compared in.
func formatUUID(u uint64) string {
	return strconv.FormatUint(u, 10)
}

func parseUUID(s string) uint64 {
	u, _ := strconv.ParseUint(s, 10, 64)
	return u
}
