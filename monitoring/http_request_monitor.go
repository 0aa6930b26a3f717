// Copyright 2017 Google LLC. All Rights Reserved.
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

package monitoring

import (
	"net/http"
	"strconv"

	"github.com/hostelcloud/hostel/util/clock"
)

// HTTPRequestMonitor records per-handler request counts, response statuses
// and latencies of an HTTP API.
type HTTPRequestMonitor struct {
	timeSource clock.TimeSource
	requests   Counter
	statuses   Counter
	latency    Histogram
}

// NewHTTPRequestMonitor creates an HTTPRequestMonitor whose metrics are named
// after prefix.
func NewHTTPRequestMonitor(timeSource clock.TimeSource, prefix string, mf MetricFactory) *HTTPRequestMonitor {
	if mf == nil {
		mf = InertMetricFactory{}
	}
	return &HTTPRequestMonitor{
		timeSource: timeSource,
		requests:   mf.NewCounter(prefixedName(prefix, "http_requests"), "Number of HTTP requests by handler", "handler"),
		statuses:   mf.NewCounter(prefixedName(prefix, "http_status"), "Number of HTTP responses by handler and status", "handler", "status"),
		latency:    mf.NewHistogramWithBuckets(prefixedName(prefix, "http_latency"), "Latency of HTTP requests in seconds", LatencyBuckets(), "handler"),
	}
}

// Wrap returns h instrumented under the given handler name.
func (m *HTTPRequestMonitor) Wrap(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Inc(name)
		start := m.timeSource.Now()
		sw := &statusWriter{ResponseWriter: w}

		ctx, spanEnd := StartSpan(r.Context(), traceSpanRoot+name)
		defer spanEnd()
		h.ServeHTTP(sw, r.WithContext(ctx))

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		m.statuses.Inc(name, strconv.Itoa(sw.status))
		m.latency.Observe(clock.SecondsSince(m.timeSource, start), name)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
