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

package quota

import (
	"sync"

	"github.com/hostelcloud/hostel/monitoring"
)

var (
	// Metrics groups all limiter-related metrics. They are updated by the
	// Limiter; Store implementations are encouraged to define their own
	// metrics to monitor their internal state.
	Metrics     = &m{}
	metricsOnce = sync.Once{}
)

type m struct {
	AdmittedOps  monitoring.Counter
	RejectedOps  monitoring.Counter
	CommittedOps monitoring.Counter
	ReleasedOps  monitoring.Counter
	StoreErrors  monitoring.Counter
}

// IncAdmitted increments the AdmittedOps metric.
func (m *m) IncAdmitted(database string) {
	inc(m.AdmittedOps, database)
}

// IncRejected increments the RejectedOps metric.
func (m *m) IncRejected(database string) {
	inc(m.RejectedOps, database)
}

// IncCommitted increments the CommittedOps metric.
func (m *m) IncCommitted(database string) {
	inc(m.CommittedOps, database)
}

// IncReleased increments the ReleasedOps metric.
func (m *m) IncReleased(database string) {
	inc(m.ReleasedOps, database)
}

// IncStoreError increments the StoreErrors metric.
func (m *m) IncStoreError(op string) {
	inc(m.StoreErrors, op)
}

func inc(c monitoring.Counter, label string) {
	if c == nil {
		return
	}
	c.Inc(label)
}

// InitMetrics initializes Metrics using mf to create the monitoring objects.
// May be called multiple times. If so, the first call is the one that counts.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		Metrics.AdmittedOps = mf.NewCounter("schema_ops_admitted", "Number of schema operations admitted by the limiter", "database")
		Metrics.RejectedOps = mf.NewCounter("schema_ops_rejected", "Number of schema operations rejected because a bucket was exhausted", "database")
		Metrics.CommittedOps = mf.NewCounter("schema_ops_committed", "Number of schema operation reservations committed", "database")
		Metrics.ReleasedOps = mf.NewCounter("schema_ops_released", "Number of schema operation reservations released before dispatch", "database")
		Metrics.StoreErrors = mf.NewCounter("schema_quota_store_errors", "Number of failed bucket store operations", "op")
	})
}
