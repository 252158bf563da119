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

package metrics

import (
	"context"
	"time"

	"github.com/pingcap/log"
	dropwizard "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// LogReporter periodically dumps the dropwizard registry to the process log
// at Info level, the Go equivalent of the original connector's
// newSlf4jReporter (spec §3.10, [metrics].logInterval).
type LogReporter struct {
	dw       dropwizard.Registry
	interval time.Duration
}

// NewLogReporter builds a LogReporter that reports every interval.
func NewLogReporter(dw dropwizard.Registry, interval time.Duration) *LogReporter {
	return &LogReporter{dw: dw, interval: interval}
}

// Run blocks, reporting every interval, until ctx is cancelled.
func (r *LogReporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportOnce()
		}
	}
}

func (r *LogReporter) reportOnce() {
	r.dw.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case dropwizard.Gauge:
			log.Info("metric", zap.String("name", name), zap.Int64("value", m.Value()))
		case dropwizard.Counter:
			log.Info("metric", zap.String("name", name), zap.Int64("count", m.Count()))
		case dropwizard.Histogram:
			s := m.Snapshot()
			log.Info("metric", zap.String("name", name),
				zap.Int64("count", s.Count()),
				zap.Float64("mean", s.Mean()),
				zap.Float64("p99", s.Percentile(0.99)))
		}
	})
}
