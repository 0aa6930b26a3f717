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

package testonly

import (
	"testing"

	"github.com/hostelcloud/hostel/monitoring"
)

// labelCases cover metrics with no, one and two labels.
var labelCases = []struct {
	desc       string
	labelNames []string
	labelVals  []string
}{
	{desc: "noLabels"},
	{desc: "oneLabel", labelNames: []string{"database"}, labelVals: []string{"/Root/db"}},
	{desc: "twoLabels", labelNames: []string{"reason", "database"}, labelVals: []string{"rate", "/Root/db"}},
}

// TestCounter runs a test on a Counter produced from the provided MetricFactory.
func TestCounter(t *testing.T, factory monitoring.MetricFactory) {
	for _, test := range labelCases {
		t.Run(test.desc, func(t *testing.T) {
			counter := factory.NewCounter("counter_"+test.desc, "Test only", test.labelNames...)
			if got := counter.Value(test.labelVals...); got != 0 {
				t.Errorf("Value() = %v, want 0", got)
			}
			counter.Inc(test.labelVals...)
			counter.Add(2.5, test.labelVals...)
			if got, want := counter.Value(test.labelVals...), 3.5; got != want {
				t.Errorf("Value() = %v, want %v", got, want)
			}

			bogus := append(append([]string(nil), test.labelVals...), "bogus")
			counter.Inc(bogus...)
			if got := counter.Value(bogus...); got != 0 {
				t.Errorf("Value(%v) = %v, want 0", bogus, got)
			}
		})
	}
}

// TestGauge runs a test on a Gauge produced from the provided MetricFactory.
func TestGauge(t *testing.T, factory monitoring.MetricFactory) {
	for _, test := range labelCases {
		t.Run(test.desc, func(t *testing.T) {
			gauge := factory.NewGauge("gauge_"+test.desc, "Test only", test.labelNames...)
			if got := gauge.Value(test.labelVals...); got != 0 {
				t.Errorf("Value() = %v, want 0", got)
			}
			gauge.Inc(test.labelVals...)
			gauge.Inc(test.labelVals...)
			gauge.Dec(test.labelVals...)
			gauge.Add(-3, test.labelVals...)
			if got, want := gauge.Value(test.labelVals...), -2.0; got != want {
				t.Errorf("Value() = %v, want %v", got, want)
			}
			gauge.Set(42, test.labelVals...)
			if got, want := gauge.Value(test.labelVals...), 42.0; got != want {
				t.Errorf("Value() after Set = %v, want %v", got, want)
			}

			bogus := append(append([]string(nil), test.labelVals...), "bogus")
			gauge.Set(7, bogus...)
			if got := gauge.Value(bogus...); got != 0 {
				t.Errorf("Value(%v) = %v, want 0", bogus, got)
			}
		})
	}
}

// TestHistogram runs a test on a Histogram produced from the provided MetricFactory.
func TestHistogram(t *testing.T, factory monitoring.MetricFactory) {
	for _, test := range labelCases {
		t.Run(test.desc, func(t *testing.T) {
			histogram := factory.NewHistogramWithBuckets("histogram_"+test.desc, "Test only", monitoring.LatencyBuckets(), test.labelNames...)
			if count, sum := histogram.Info(test.labelVals...); count != 0 || sum != 0 {
				t.Errorf("Info() = %v, %v, want 0, 0", count, sum)
			}
			for _, v := range []float64{1, 2, 3} {
				histogram.Observe(v, test.labelVals...)
			}
			if count, sum := histogram.Info(test.labelVals...); count != 3 || sum != 6 {
				t.Errorf("Info() = %v, %v, want 3, 6", count, sum)
			}

			bogus := append(append([]string(nil), test.labelVals...), "bogus")
			histogram.Observe(100, bogus...)
			if count, sum := histogram.Info(bogus...); count != 0 || sum != 0 {
				t.Errorf("Info(%v) = %v, %v, want 0, 0", bogus, count, sum)
			}
		})
	}
}
