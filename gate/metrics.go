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

package gate

import (
	"sync"

	"github.com/hostelcloud/hostel/monitoring"
)

const (
	schemaLabel = "schema"

	unknownDatabaseReason = "unknown_database"
	rateExceededReason    = "rate_exceeded"
	storageExceededReason = "storage_exceeded"
	badRequestReason      = "bad_request"
)

var (
	metricsOnce          sync.Once
	requestCounter       monitoring.Counter
	requestDeniedCounter monitoring.Counter
	dryRunCounter        monitoring.Counter
)

// InitMetrics initializes the metrics on the gate package. Only the first
// call has an effect.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		requestCounter = mf.NewCounter("gate_request_count", "Total number of gated operations", "kind")
		requestDeniedCounter = mf.NewCounter(
			"gate_request_denied_count",
			"Number of operations denied, labeled according to the reason for denial",
			"reason", "database")
		dryRunCounter = mf.NewCounter("gate_dry_run_count", "Number of operations that would have been denied outside dry run mode", "kind")
	})
}

func incRequests(kind string) {
	if requestCounter != nil {
		requestCounter.Inc(kind)
	}
}

func incDenied(reason, database string) {
	if requestDeniedCounter != nil {
		requestDeniedCounter.Inc(reason, database)
	}
}

func incDryRun(kind string) {
	if dryRunCounter != nil {
		dryRunCounter.Inc(kind)
	}
}
