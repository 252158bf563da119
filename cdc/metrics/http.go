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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dropwizard "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// StartHTTPServer serves /metrics/prometheus (promhttp, grounded on the
// teacher's cdc/http_status.go) and /metrics/dropwizard (dropwizard JSON
// snapshot, indented when the query string contains "pretty") on addr. It returns immediately; the server
// runs until the process exits, matching the teacher's fire-and-forget
// status server goroutine.
func StartHTTPServer(addr string, gatherer prometheus.Gatherer, dw dropwizard.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/metrics/dropwizard", dropwizardHandler(dw))

	srv := &http.Server{Addr: addr, Handler: mux}
	log.Info("metrics http server is running", zap.String("addr", addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

func dropwizardHandler(dw dropwizard.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := make(map[string]interface{})
		dw.Each(func(name string, metric interface{}) {
			snapshot[name] = snapshotOf(metric)
		})

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		if r.URL.Query().Has("pretty") {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(snapshot); err != nil {
			http.Error(w, fmt.Sprintf("encode metrics: %s", err), http.StatusInternalServerError)
		}
	}
}

func snapshotOf(metric interface{}) interface{} {
	switch m := metric.(type) {
	case dropwizard.Gauge:
		return map[string]interface{}{"value": m.Value()}
	case dropwizard.Counter:
		return map[string]interface{}{"count": m.Count()}
	case dropwizard.Histogram:
		s := m.Snapshot()
		return map[string]interface{}{
			"count": s.Count(),
			"min":   s.Min(),
			"max":   s.Max(),
			"mean":  s.Mean(),
			"p99":   s.Percentile(0.99),
		}
	default:
		return nil
	}
}
