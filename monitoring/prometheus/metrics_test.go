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

package prometheus

import (
	"testing"

	"github.com/hostelcloud/hostel/monitoring/testonly"
	"github.com/prometheus/client_golang/prometheus"
)

func TestCounter(t *testing.T) {
	testonly.TestCounter(t, MetricFactory{Registerer: prometheus.NewRegistry()})
}

func TestGauge(t *testing.T) {
	testonly.TestGauge(t, MetricFactory{Registerer: prometheus.NewRegistry()})
}

func TestHistogram(t *testing.T) {
	testonly.TestHistogram(t, MetricFactory{Registerer: prometheus.NewRegistry()})
}

func TestPrefix(t *testing.T) {
	reg := prometheus.NewRegistry()
	mf := MetricFactory{Prefix: "hostel_", Registerer: reg}
	mf.NewCounter("requests", "Test only", "kind").Inc("schema")
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned err = %v", err)
	}
	if len(mfs) != 1 || mfs[0].GetName() != "hostel_requests" {
		t.Errorf("Gather() = %v, want a single hostel_requests family", mfs)
	}
}
