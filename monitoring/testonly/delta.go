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
	"fmt"
	"strings"
)

// Valuer is implemented by counters and gauges.
type Valuer interface {
	Value(labelVals ...string) float64
}

// CounterSnapshot remembers metric values so that tests can assert on how
// much they moved.
type CounterSnapshot struct {
	m      Valuer
	values map[string]float64
}

// NewCounterSnapshot returns a snapshot of m with nothing recorded.
func NewCounterSnapshot(m Valuer) CounterSnapshot {
	return CounterSnapshot{m: m, values: make(map[string]float64)}
}

// Record stores the current value for labels.
func (s CounterSnapshot) Record(labels ...string) {
	s.values[strings.Join(labels, "|")] = s.m.Value(labels...)
}

// Delta returns how much the value for labels changed since Record. It
// panics if Record was never called for labels.
func (s CounterSnapshot) Delta(labels ...string) float64 {
	old, ok := s.values[strings.Join(labels, "|")]
	if !ok {
		panic(fmt.Sprintf("no snapshot recorded for %v", labels))
	}
	return s.m.Value(labels...) - old
}
