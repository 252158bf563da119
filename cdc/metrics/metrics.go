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

// Package metrics exposes the connector's health/throughput measurements
// two ways: a Prometheus registry scraped over HTTP (grounded on the
// teacher's cdc/http_status.go), and a parallel rcrowley/go-metrics
// dropwizard registry exposed as pretty JSON plus a periodic log dump,
// mirroring the original connector's metrics.dropwizard reporters (spec
// §3.10, §6).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dropwizard "github.com/rcrowley/go-metrics"
)

// Registry bundles every measurement the connector reports, in both the
// Prometheus and dropwizard representations.
type Registry struct {
	WriteQueueSize prometheus.Gauge
	ESWaitSeconds  prometheus.Histogram
	BulkRequests   *prometheus.CounterVec
	BulkItemsTotal *prometheus.CounterVec
	RejectedTotal  prometheus.Counter
	CommittedSeqNo *prometheus.GaugeVec
	ObservedSeqNo  *prometheus.GaugeVec

	dw dropwizard.Registry

	dwWriteQueue dropwizard.Gauge
	dwESWaitMS   dropwizard.Histogram
	dwBulkOK     dropwizard.Counter
	dwBulkFailed dropwizard.Counter
	dwRejected   dropwizard.Counter
}

// NewRegistry builds and registers a fresh Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		WriteQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cbes",
			Name:      "write_queue_size",
			Help:      "Number of index requests buffered in WorkerGroup awaiting dispatch.",
		}),
		ESWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cbes",
			Name:      "es_wait_seconds",
			Help:      "Time spent waiting for Elasticsearch bulk responses.",
			Buckets:   prometheus.DefBuckets,
		}),
		BulkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbes",
			Name:      "bulk_requests_total",
			Help:      "Bulk outcomes recorded by the worker group (one per item, one per retry round), by outcome.",
		}, []string{"outcome"}),
		BulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbes",
			Name:      "bulk_items_total",
			Help:      "Individual index/delete actions, by outcome.",
		}, []string{"outcome"}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cbes",
			Name:      "rejected_total",
			Help:      "Documents routed to the reject log instead of being indexed.",
		}),
		CommittedSeqNo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbes",
			Name:      "committed_seqno",
			Help:      "Highest seqno acknowledged by Elasticsearch and recorded in the in-memory checkpoint, per partition; not tied to a persisted checkpoint save.",
		}, []string{"partition"}),
		ObservedSeqNo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbes",
			Name:      "observed_seqno",
			Help:      "Highest seqno observed from the replication stream, per partition.",
		}, []string{"partition"}),

		dw: dropwizard.NewRegistry(),
	}

	reg.MustRegister(r.WriteQueueSize, r.ESWaitSeconds, r.BulkRequests, r.BulkItemsTotal,
		r.RejectedTotal, r.CommittedSeqNo, r.ObservedSeqNo)

	r.dwWriteQueue = dropwizard.NewGauge()
	r.dwESWaitMS = dropwizard.NewHistogram(dropwizard.NewUniformSample(1028))
	r.dwBulkOK = dropwizard.NewCounter()
	r.dwBulkFailed = dropwizard.NewCounter()
	r.dwRejected = dropwizard.NewCounter()
	r.dw.Register("write.queue", r.dwWriteQueue)
	r.dw.Register("es.wait.ms", r.dwESWaitMS)
	r.dw.Register("es.bulk.ok", r.dwBulkOK)
	r.dw.Register("es.bulk.failed", r.dwBulkFailed)
	r.dw.Register("es.rejected", r.dwRejected)

	return r
}

// SetWriteQueueSize records the current depth of WorkerGroup's pending
// queue in both registries.
func (r *Registry) SetWriteQueueSize(n int) {
	r.WriteQueueSize.Set(float64(n))
	r.dwWriteQueue.Update(int64(n))
}

// ObserveESWaitSeconds records one bulk round-trip latency in both
// registries.
func (r *Registry) ObserveESWaitSeconds(seconds float64) {
	r.ESWaitSeconds.Observe(seconds)
	r.dwESWaitMS.Update(int64(seconds * 1000))
}

// RecordBulkOutcome records one outcome label and the number of items it
// covers: bulk_requests_total is incremented once per call and
// bulk_items_total by items. worker.Group records "success" and "rejected"
// once per item and "retry" once per retry round; every label other than
// "success" counts toward es.bulk.failed.
func (r *Registry) RecordBulkOutcome(outcome string, items int) {
	r.BulkRequests.WithLabelValues(outcome).Inc()
	r.BulkItemsTotal.WithLabelValues(outcome).Add(float64(items))
	if outcome == "success" {
		r.dwBulkOK.Inc(1)
	} else {
		r.dwBulkFailed.Inc(1)
	}
}

// RecordRejected increments the rejected-document counter.
func (r *Registry) RecordRejected() {
	r.RejectedTotal.Inc()
	r.dwRejected.Inc(1)
}

// SetCommittedSeqNo records, for a partition, the highest seqno that a
// completed bulk batch has written into the in-memory checkpoint. The value
// can be ahead of the last checkpoint persisted by CheckpointService.Save.
func (r *Registry) SetCommittedSeqNo(partition string, seqno uint64) {
	r.CommittedSeqNo.WithLabelValues(partition).Set(float64(seqno))
}

// SetObservedSeqNo records the highest seqno observed from the replication
// stream for a partition.
func (r *Registry) SetObservedSeqNo(partition string, seqno uint64) {
	r.ObservedSeqNo.WithLabelValues(partition).Set(float64(seqno))
}

// Dropwizard returns the parallel rcrowley/go-metrics registry, for the JSON
// exposition handler and the periodic log reporter.
func (r *Registry) Dropwizard() dropwizard.Registry {
	return r.dw
}
