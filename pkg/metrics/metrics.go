// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
)

const (
	namespace = "daq"
	subsystem = "core"
)

var (
	workerFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_faults_total",
			Help:      "Total number of faults raised by a worker",
		},
		[]string{"worker"},
	)

	stepDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_duration_seconds",
			Help:      "Time taken by one unit of work of a worker",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"worker"},
	)

	missedPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watchdog_missed_polls_total",
			Help:      "Total number of watchdog polls where at least one worker missed its heartbeat",
		},
	)

	sessionHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_healthy",
			Help:      "1 while the running session is healthy, 0 otherwise",
		},
	)

	sessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state",
			Help:      "Current supervisor state (0=idle, 1=running, 2=stopped, -1=unknown)",
		},
	)

	framesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_decoded_total",
			Help:      "Total number of instrument frames decoded",
		},
	)

	framesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_malformed_total",
			Help:      "Total number of instrument frames dropped by the header/trailer check",
		},
	)

	samplesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_published_total",
			Help:      "Total number of samples pushed to a stream",
		},
		[]string{"stream"},
	)

	rowsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_recorded_total",
			Help:      "Total number of rows persisted for a stream",
		},
		[]string{"stream"},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing /metrics.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// IncWorkerFault counts a fault raised by worker.
func IncWorkerFault(worker string) {
	workerFaults.WithLabelValues(worker).Inc()
}

// ObserveStep records the duration of one unit of work.
func ObserveStep(worker string, d time.Duration) {
	stepDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// IncMissedPoll counts a watchdog poll with at least one missing heartbeat.
func IncMissedPoll() {
	missedPolls.Inc()
}

// SetSessionHealthy exports the watchdog verdict.
func SetSessionHealthy(healthy bool) {
	if healthy {
		sessionHealthy.Set(1)
	} else {
		sessionHealthy.Set(0)
	}
}

// UpdateSessionState exports the supervisor lifecycle state.
func UpdateSessionState(state string) {
	sessionState.Set(stateValue(state))
}

func stateValue(state string) float64 {
	switch state {
	case "idle":
		return 0
	case "running":
		return 1
	case "stopped":
		return 2
	default:
		return -1
	}
}

// AddFramesDecoded counts successfully decoded frames.
func AddFramesDecoded(n int) {
	framesDecoded.Add(float64(n))
}

// IncFramesMalformed counts a frame rejected by the decoder.
func IncFramesMalformed() {
	framesMalformed.Inc()
}

// AddSamplesPublished counts samples pushed to stream.
func AddSamplesPublished(stream string, n int) {
	samplesPublished.WithLabelValues(stream).Add(float64(n))
}

// AddRowsRecorded counts rows persisted for stream.
func AddRowsRecorded(stream string, n int) {
	rowsRecorded.WithLabelValues(stream).Add(float64(n))
}
