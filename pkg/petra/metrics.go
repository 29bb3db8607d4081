// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package petra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcome label values. Kept low-cardinality.
const (
	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

// Metrics holds the cache metrics.
type Metrics struct {
	// fetches counts fetch calls by outcome (hit/miss/error).
	fetches *prometheus.CounterVec

	// fetchDuration observes end-to-end fetch latency by outcome.
	fetchDuration *prometheus.HistogramVec

	// inflight tracks fetch calls currently executing or waiting on a key.
	inflight prometheus.Gauge

	// upstreamErrors counts failed fetches by numeric error code.
	upstreamErrors *prometheus.CounterVec

	// purges counts explicit purge calls.
	purges prometheus.Counter

	// purged counts files removed by the stale sweep.
	purged prometheus.Counter
}

// NewMetrics creates the cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petra_fetches_total",
				Help: "Total fetch calls by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "petra_fetch_duration_seconds",
				Help:    "End-to-end fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "petra_fetches_inflight",
				Help: "Number of fetch calls currently in flight",
			},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petra_upstream_errors_total",
				Help: "Total failed fetches by error code",
			},
			[]string{"code"},
		),
		purges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "petra_purges_total",
				Help: "Total explicit purge calls",
			},
		),
		purged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "petra_purged_files_total",
				Help: "Total files removed by the stale sweep",
			},
		),
	}
	reg.MustRegister(m.fetches, m.fetchDuration, m.inflight, m.upstreamErrors, m.purges, m.purged)
	return m
}
