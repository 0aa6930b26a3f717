// Copyright 2017 Google Inc. All Rights Reserved.
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

package diskquota

import (
	"sync"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/monitoring"
)

var (
	// Metrics groups all disk quota metrics.
	Metrics     = &m{}
	metricsOnce = sync.Once{}
)

type m struct {
	Transitions      monitoring.Counter
	RejectedWrites   monitoring.Counter
	UsageBytes       monitoring.Gauge
	SourceErrors     monitoring.Counter
	EvaluationLength monitoring.Histogram
}

func (m *m) incTransition(database string, to hostel.AdmissionState) {
	if m.Transitions != nil {
		m.Transitions.Inc(database, to.String())
	}
}

func (m *m) incRejected(database string, kind WriteKind) {
	if m.RejectedWrites != nil {
		m.RejectedWrites.Inc(database, kind.String())
	}
}

func (m *m) setUsage(database string, bytes int64) {
	if m.UsageBytes != nil {
		m.UsageBytes.Set(float64(bytes), database)
	}
}

func (m *m) incSourceError(database string) {
	if m.SourceErrors != nil {
		m.SourceErrors.Inc(database)
	}
}

func (m *m) observeEvaluation(seconds float64) {
	if m.EvaluationLength != nil {
		m.EvaluationLength.Observe(seconds)
	}
}

// InitMetrics initializes Metrics using mf to create the monitoring objects.
// May be called multiple times. If so, the first call is the one that counts.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		Metrics.Transitions = mf.NewCounter("disk_quota_transitions", "Number of storage admission state changes", "database", "state")
		Metrics.RejectedWrites = mf.NewCounter("disk_quota_rejected_writes", "Number of writes rejected because the database is out of storage quota", "database", "kind")
		Metrics.UsageBytes = mf.NewGauge("disk_quota_usage_bytes", "Estimated storage usage in bytes", "database")
		Metrics.SourceErrors = mf.NewCounter("disk_quota_source_errors", "Number of failed usage measurements", "database")
		Metrics.EvaluationLength = mf.NewHistogramWithBuckets("disk_quota_evaluation_seconds", "Duration of an evaluation pass in seconds", monitoring.LatencyBuckets())
	})
}
