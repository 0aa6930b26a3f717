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
	"context"

	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/util/clock"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DefaultParallelism is the default number of concurrent usage measurements.
const DefaultParallelism = 8

// Evaluator periodically refreshes usage estimates and evaluates the admission
// state of every tracked database. It is the only component that changes
// admission states, and it never blocks the write path.
type Evaluator struct {
	tracker     *Tracker
	source      UsageSource
	ts          clock.TimeSource
	parallelism int
	trigger     chan struct{}
}

// NewEvaluator returns an Evaluator for tracker. source may be nil, in which
// case usage only moves with recorded deltas. Evaluations run every
// tracker.Interval().
func NewEvaluator(tracker *Tracker, source UsageSource, ts clock.TimeSource, parallelism int) *Evaluator {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Evaluator{
		tracker:     tracker,
		source:      source,
		ts:          ts,
		parallelism: parallelism,
		trigger:     make(chan struct{}, 1),
	}
}

// Trigger requests an evaluation ahead of schedule. It never blocks;
// triggers arriving while one is pending are merged.
func (e *Evaluator) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run evaluates until ctx is done.
func (e *Evaluator) Run(ctx context.Context) error {
	klog.Infof("Disk quota evaluator started, interval %v", e.tracker.Interval())
	for {
		timer := e.ts.NewTimer(e.tracker.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			klog.Infof("Disk quota evaluator stopped: %v", ctx.Err())
			return ctx.Err()
		case <-timer.Chan():
		case <-e.trigger:
			timer.Stop()
		}
		e.RunOnce(ctx)
	}
}

// RunOnce refreshes usage from the source, if any, then evaluates all
// databases. A database whose measurement fails keeps its previous estimate.
func (e *Evaluator) RunOnce(ctx context.Context) {
	ctx, spanEnd := monitoring.StartSpan(ctx, "/hostel/diskquota/Evaluate")
	defer spanEnd()
	start := e.ts.Now()

	if e.source != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for _, db := range e.tracker.Databases() {
			g.Go(func() error {
				usage, err := e.source.Usage(gctx, db)
				if err != nil {
					Metrics.incSourceError(db)
					klog.Warningf("%s: failed to measure storage usage, keeping last estimate: %v", db, err)
					return nil
				}
				if err := e.tracker.SetUsage(db, usage); err != nil {
					klog.V(1).Infof("%s: dropped while measuring: %v", db, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	now := e.ts.Now()
	e.tracker.EvaluateAll(now)
	Metrics.observeEvaluation(now.Sub(start).Seconds())
}
