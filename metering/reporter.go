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

package metering

import (
	"context"
	"sync"
	"time"

	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

var (
	metricsOnce    sync.Once
	emittedRecords monitoring.Counter
	emitErrors     monitoring.Counter
)

// InitMetrics initializes the metering metrics using mf. Only the first call
// has an effect.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		emittedRecords = mf.NewCounter("metering_records_emitted", "Number of metering records emitted", "schema")
		emitErrors = mf.NewCounter("metering_emit_errors", "Number of failed metering emissions")
	})
}

// Reporter periodically emits a storage usage record for every database with
// storage billing enabled.
type Reporter struct {
	catalog  *catalog.Catalog
	tracker  *diskquota.Tracker
	emitter  Emitter
	ts       clock.TimeSource
	interval time.Duration
	trigger  chan struct{}

	mu sync.Mutex
	// last holds the finish time of the last record emitted per database.
	last map[string]time.Time
}

// NewReporter returns a Reporter emitting one record per billed database
// every interval.
func NewReporter(cat *catalog.Catalog, tracker *diskquota.Tracker, emitter Emitter, ts clock.TimeSource, interval time.Duration) *Reporter {
	return &Reporter{
		catalog:  cat,
		tracker:  tracker,
		emitter:  emitter,
		ts:       ts,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		last:     make(map[string]time.Time),
	}
}

// Trigger requests a report ahead of schedule. It never blocks.
func (r *Reporter) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run reports until ctx is done. Failed reports are logged and retried at
// the next tick.
func (r *Reporter) Run(ctx context.Context) error {
	klog.Infof("Metering reporter started, interval %v", r.interval)
	for {
		timer := r.ts.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		case <-r.trigger:
			timer.Stop()
		}
		if err := r.RunOnce(ctx); err != nil {
			klog.Warningf("Metering report failed: %v", err)
		}
	}
}

// RunOnce emits one storage record per billed database, covering the time
// since its previous record.
func (r *Reporter) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.ts.Now()
	billed := make(map[string]bool)
	var records []Record
	for _, db := range r.catalog.List("") {
		if !db.StorageBilling {
			continue
		}
		billed[db.Path] = true
		start, ok := r.last[db.Path]
		if !ok {
			start = now.Add(-r.interval)
		}
		var usage int64
		if u, err := r.tracker.Usage(db.Path); err == nil {
			usage = u.Bytes
		}
		records = append(records, NewStorageRecord(db, usage, start, now))
	}
	for path := range r.last {
		if !billed[path] {
			delete(r.last, path)
		}
	}
	if len(records) == 0 {
		return nil
	}

	if err := r.emitter.Emit(ctx, records...); err != nil {
		if emitErrors != nil {
			emitErrors.Inc()
		}
		return err
	}
	for _, rec := range records {
		r.last[rec.Database] = now
	}
	if emittedRecords != nil {
		emittedRecords.Add(float64(len(records)), StorageSchema)
	}
	klog.V(1).Infof("Emitted %d storage metering records", len(records))
	return nil
}
