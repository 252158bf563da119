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

// Package worker implements WorkerGroup (C5), the heart of the connector
// (spec §4.5): it batches IndexRequests, dispatches them to Elasticsearch,
// retries transient failures with exponential backoff, and feeds completed
// (partition, seqno) pairs back to CheckpointService. Grounded on the
// teacher's cdc/sink/mysql.go batching-and-retry idiom, adapted from SQL
// DML execution to Elasticsearch bulk dispatch.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/metrics"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/cdc/rejectlog"
	"github.com/couchbase/cbes/cdc/worker/esclient"
	"github.com/couchbase/cbes/pkg/retry"
)

// State is WorkerGroup's lifecycle state (spec §4.5): Idle -> Running ->
// Draining -> Closed, or Running -> Closed directly on a fatal error.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateClosed
)

// Config bounds batching behaviour (spec §6, [elasticsearch].bulkRequest).
type Config struct {
	MaxDocs         int
	MaxBytes        int
	QueueCapacity   int
	FlushDeadline   time.Duration
	DispatchRate    rate.Limit
	DispatchBurst   int
	DispatchWorkers int
}

// Group is WorkerGroup: it owns the bounded submission queue, the batcher,
// and the per-docId in-flight ordering set.
type Group struct {
	cfg        Config
	client     *esclient.Client
	checkpoint *checkpoint.Service
	button     panicbutton.Button
	metrics    *metrics.Registry
	rejectLog  *rejectlog.Logger
	limiter    *rate.Limiter

	queue chan model.IndexRequest

	mu       sync.Mutex
	state    State
	inFlight map[string]bool
	deferred []model.IndexRequest

	jobs    chan []model.IndexRequest
	pool    *errgroup.Group
	drained chan struct{}
}

// NewGroup constructs a Group ready to have Run called on it.
func NewGroup(cfg Config, client *esclient.Client, checkpointSvc *checkpoint.Service, button panicbutton.Button, reg *metrics.Registry, rejectLog *rejectlog.Logger) *Group {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	if cfg.FlushDeadline <= 0 {
		cfg.FlushDeadline = 200 * time.Millisecond
	}
	if rejectLog == nil {
		rejectLog = rejectlog.NopLogger
	}
	limit := cfg.DispatchRate
	if limit == 0 {
		limit = rate.Inf
	}
	burst := cfg.DispatchBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 4
	}
	return &Group{
		cfg:        cfg,
		client:     client,
		checkpoint: checkpointSvc,
		button:     button,
		metrics:    reg,
		rejectLog:  rejectLog,
		limiter:    rate.NewLimiter(limit, burst),
		queue:      make(chan model.IndexRequest, cfg.QueueCapacity),
		inFlight:   make(map[string]bool),
		jobs:       make(chan []model.IndexRequest, cfg.DispatchWorkers),
		drained:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Submit enqueues a request for dispatch. It blocks while the queue is
// full, propagating back-pressure to DcpPipeline (spec §5, P5). It returns
// an error if the group is Draining or Closed.
func (g *Group) Submit(ctx context.Context, req model.IndexRequest) error {
	g.mu.Lock()
	state := g.state
	g.mu.Unlock()
	if state == StateDraining || state == StateClosed {
		return errWorkerNotAccepting
	}

	select {
	case g.queue <- req:
		if g.metrics != nil {
			g.metrics.SetWriteQueueSize(len(g.queue))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the batcher loop until ctx is cancelled or Close is called and
// the final flush completes. It transitions Idle -> Running on entry.
func (g *Group) Run(ctx context.Context) {
	g.mu.Lock()
	g.state = StateRunning
	g.mu.Unlock()

	pool, poolCtx := errgroup.WithContext(ctx)
	g.pool = pool
	for i := 0; i < g.cfg.DispatchWorkers; i++ {
		pool.Go(func() error {
			for batch := range g.jobs {
				g.dispatchAndRetry(poolCtx, batch)
				g.releaseInFlight(batch)
			}
			return nil
		})
	}

	var pending []model.IndexRequest
	var pendingBytes int
	var firstEnqueue time.Time

	flushTimer := time.NewTimer(g.cfg.FlushDeadline)
	defer flushTimer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		pendingBytes = 0
		g.dispatch(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			g.finishDraining()
			return

		case <-g.button.Done():
			g.mu.Lock()
			g.state = StateClosed
			g.mu.Unlock()
			g.finishDraining()
			return

		case req, ok := <-g.queue:
			if !ok {
				flush()
				g.finishDraining()
				return
			}
			if g.metrics != nil {
				g.metrics.SetWriteQueueSize(len(g.queue))
			}

			// isInFlight only reflects docIds belonging to an already-dispatched
			// batch; two requests for the same docId arriving before the current
			// pending batch flushes can still land in that one batch together,
			// rather than two separate dispatches as P3's "dispatched after
			// acknowledgement" wording literally implies. This is safe only
			// because the bulk request still carries both actions in their
			// arrival order and version_type:"external" makes the resulting
			// index state correct regardless of how many calls it took.
			if g.isInFlight(req.RequestDocID()) {
				g.deferRequest(req)
				continue
			}
			if len(pending) == 0 {
				firstEnqueue = time.Now()
			}
			pending = append(pending, req)
			pendingBytes += requestSize(req)

			if len(pending) >= g.maxDocs() || pendingBytes >= g.maxBytes() {
				flush()
			}

		case <-flushTimer.C:
			if len(pending) > 0 && len(g.queue) == 0 && time.Since(firstEnqueue) >= g.cfg.FlushDeadline {
				flush()
			}
			flushTimer.Reset(g.cfg.FlushDeadline)
		}
	}
}

// Close transitions Running -> Draining: no new submissions are accepted,
// and the pending batch is flushed before Run returns (spec §4.5).
func (g *Group) Close() {
	g.mu.Lock()
	if g.state == StateRunning {
		g.state = StateDraining
	}
	g.mu.Unlock()
	close(g.queue)
}

// AwaitDrained blocks until Run has finished flushing and every in-flight
// dispatch has completed.
func (g *Group) AwaitDrained() {
	<-g.drained
}

func (g *Group) finishDraining() {
	close(g.jobs)
	_ = g.pool.Wait()
	g.mu.Lock()
	if g.state != StateClosed {
		g.state = StateClosed
	}
	g.mu.Unlock()
	close(g.drained)
}

func (g *Group) maxDocs() int {
	if g.cfg.MaxDocs <= 0 {
		return 1000
	}
	return g.cfg.MaxDocs
}

func (g *Group) maxBytes() int {
	if g.cfg.MaxBytes <= 0 {
		return 10 * 1024 * 1024
	}
	return g.cfg.MaxBytes
}

func requestSize(r model.IndexRequest) int {
	if u, ok := r.(model.Upsert); ok {
		return len(u.Body) + len(u.DocID) + 64
	}
	return len(r.RequestDocID()) + 64
}

func (g *Group) isInFlight(docID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[docID]
}

func (g *Group) deferRequest(req model.IndexRequest) {
	g.mu.Lock()
	g.deferred = append(g.deferred, req)
	g.mu.Unlock()
}

// dispatch marks every request's docId in-flight and hands the batch to the
// bounded dispatch pool (golang.org/x/sync/errgroup, sized by
// cfg.DispatchWorkers); the batcher loop keeps accepting new,
// non-conflicting requests into the next batch while this one is dispatched
// and, if necessary, retried concurrently, the same fan-out-over-a-job-
// channel shape the teacher's mysqlSink.concurrentExec uses.
func (g *Group) dispatch(ctx context.Context, batch []model.IndexRequest) {
	g.mu.Lock()
	for _, r := range batch {
		g.inFlight[r.RequestDocID()] = true
	}
	g.mu.Unlock()

	select {
	case g.jobs <- batch:
	case <-ctx.Done():
	}
}

func (g *Group) releaseInFlight(batch []model.IndexRequest) {
	g.mu.Lock()
	for _, r := range batch {
		delete(g.inFlight, r.RequestDocID())
	}
	toRetry := g.deferred
	g.deferred = nil
	g.mu.Unlock()

	for _, r := range toRetry {
		select {
		case g.queue <- r:
		default:
			// Queue briefly full; re-offer in a goroutine rather than
			// blocking the dispatch-completion path.
			go func(r model.IndexRequest) { g.queue <- r }(r)
		}
	}
}

// dispatchAndRetry sends batch, retries retryable items with full-jitter
// exponential backoff (unbounded, spec §4.5), and performs checkpoint
// accounting once every item reaches a terminal state.
func (g *Group) dispatchAndRetry(ctx context.Context, batch []model.IndexRequest) {
	remaining := batch
	maxSeqNo := make(map[model.Partition]model.SeqNo)
	backOff := backoffPolicy.NewBackOff()

	for len(remaining) > 0 {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		results, err := g.client.Bulk(ctx, remaining)
		if g.metrics != nil {
			g.metrics.ObserveESWaitSeconds(time.Since(start).Seconds())
		}
		if err != nil {
			g.button.Panic(err)
			return
		}

		var retryBatch []model.IndexRequest
		for _, res := range results {
			switch res.Outcome {
			case esclient.OutcomeSuccess, esclient.OutcomeVersionConflict:
				p, s := res.Request.RequestPartition(), res.Request.RequestSeqNo()
				if s > maxSeqNo[p] {
					maxSeqNo[p] = s
				}
				if g.metrics != nil {
					g.metrics.RecordBulkOutcome("success", 1)
				}
			case esclient.OutcomeRejected:
				p, s := res.Request.RequestPartition(), res.Request.RequestSeqNo()
				if s > maxSeqNo[p] {
					maxSeqNo[p] = s
				}
				g.rejectLog.Reject(rejectlog.Entry{
					DocID:     res.Request.RequestDocID(),
					IndexName: res.Request.RequestIndexName(),
					Reason:    res.Reason,
				})
				if g.metrics != nil {
					g.metrics.RecordRejected()
					g.metrics.RecordBulkOutcome("rejected", 1)
				}
			case esclient.OutcomeRetryable:
				retryBatch = append(retryBatch, res.Request)
			}
		}

		if len(retryBatch) == 0 {
			for p, s := range maxSeqNo {
				g.checkpoint.Set(model.Checkpoint{Partition: p, SeqNo: s})
				if g.metrics != nil {
					g.metrics.SetCommittedSeqNo(strconv.Itoa(int(p)), uint64(s))
				}
			}
			return
		}

		log.Warn("retrying index requests", zap.Int("count", len(retryBatch)))
		if g.metrics != nil {
			g.metrics.RecordBulkOutcome("retry", len(retryBatch))
		}
		if err := g.waitBackoff(ctx, backOff); err != nil {
			return
		}
		remaining = retryBatch
	}
}

var backoffPolicy = retry.DefaultPolicy

func (g *Group) waitBackoff(ctx context.Context, b interface{ NextBackOff() time.Duration }) error {
	wait := b.NextBackOff()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type workerError string

func (e workerError) Error() string { return string(e) }

const errWorkerNotAccepting = workerError("worker group is draining or closed")
