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

// Package diskquota decides whether writes to a database are admitted given
// its storage usage.
//
// Every database with a storage quota is either Normal or Exceeded. The
// Tracker enters Exceeded as soon as an evaluation sees usage at or above the
// limit, and only returns to Normal once usage has stayed below the limit for
// a full evaluation interval. Transitions are computed by evaluations, never
// on the write path: TryAdmitWrite only reads the last published Snapshot.
package diskquota

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"k8s.io/klog/v2"
)

// WriteKind distinguishes the write paths guarded by the Tracker.
type WriteKind int

const (
	// DML is a transactional data write.
	DML WriteKind = iota
	// Bulk is a bulk upsert of rows.
	Bulk
)

func (k WriteKind) String() string {
	switch k {
	case DML:
		return "dml"
	case Bulk:
		return "bulk"
	}
	return fmt.Sprintf("WriteKind(%d)", int(k))
}

// ParseWriteKind parses the String form of a WriteKind.
func ParseWriteKind(s string) (WriteKind, error) {
	switch s {
	case "dml", "":
		return DML, nil
	case "bulk":
		return Bulk, nil
	}
	return DML, errors.Errorf(errors.ConfigurationInvalid, "unknown write kind %q (want dml or bulk)", s)
}

// TransitionFunc is called after a database changes state.
type TransitionFunc func(database string, from, to hostel.AdmissionState, usage, limit int64)

// Snapshot is an immutable view of the admission state of all databases.
type Snapshot struct {
	// Version increases with every publication.
	Version uint64
	// Exceeded holds the databases currently rejecting writes.
	Exceeded map[string]bool
}

// State returns the admission state of database in s.
func (s *Snapshot) State(database string) hostel.AdmissionState {
	if s.Exceeded[database] {
		return hostel.Exceeded
	}
	return hostel.Normal
}

// Usage is the storage accounting of one database.
type Usage struct {
	Bytes      int64
	LimitBytes int64 // zero means unlimited
	State      hostel.AdmissionState

	// PendingExitSince is when usage was first seen below the limit while
	// Exceeded. Zero if no exit is pending.
	PendingExitSince time.Time
}

type dbState struct {
	usage atomic.Int64
	limit atomic.Int64

	// Owned by the evaluating goroutine, guarded by Tracker.evalMu.
	state            hostel.AdmissionState
	pendingExitSince time.Time
}

// Tracker keeps storage usage estimates and admission states.
type Tracker struct {
	interval     time.Duration
	onTransition TransitionFunc

	dbs sync.Map // string -> *dbState

	// evalMu serializes evaluations, which are the only writers of
	// admission states and of the snapshot.
	evalMu   sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// NewTracker returns a Tracker whose exit debounce lasts interval.
// onTransition may be nil.
func NewTracker(interval time.Duration, onTransition TransitionFunc) *Tracker {
	t := &Tracker{interval: interval, onTransition: onTransition}
	t.snapshot.Store(&Snapshot{Exceeded: map[string]bool{}})
	return t
}

// Interval returns the exit debounce interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Register starts tracking database with the given limit; zero or less means
// unlimited. Registering a tracked database only updates its limit.
func (t *Tracker) Register(database string, limitBytes int64) {
	v, _ := t.dbs.LoadOrStore(database, &dbState{})
	v.(*dbState).limit.Store(max(limitBytes, 0))
}

// SetQuota changes the limit of database; zero or less removes it. The new
// limit takes effect at the next evaluation.
func (t *Tracker) SetQuota(database string, limitBytes int64) error {
	st, err := t.get(database)
	if err != nil {
		return err
	}
	st.limit.Store(max(limitBytes, 0))
	return nil
}

// Unregister discards all usage and admission state of database.
func (t *Tracker) Unregister(database string) {
	t.evalMu.Lock()
	defer t.evalMu.Unlock()
	if _, ok := t.dbs.LoadAndDelete(database); !ok {
		return
	}
	if t.snapshot.Load().Exceeded[database] {
		t.publishLocked(database, hostel.Normal)
	}
}

// Databases returns the tracked databases.
func (t *Tracker) Databases() []string {
	var r []string
	t.dbs.Range(func(k, _ interface{}) bool {
		r = append(r, k.(string))
		return true
	})
	return r
}

func (t *Tracker) get(database string) (*dbState, error) {
	v, ok := t.dbs.Load(database)
	if !ok {
		return nil, errors.NotFoundError(database)
	}
	return v.(*dbState), nil
}

// RecordUsageDelta adjusts the usage estimate of database by delta bytes.
// Usage never drops below zero.
func (t *Tracker) RecordUsageDelta(database string, delta int64) error {
	st, err := t.get(database)
	if err != nil {
		return err
	}
	for {
		old := st.usage.Load()
		next := max(old+delta, 0)
		if st.usage.CompareAndSwap(old, next) {
			Metrics.setUsage(database, next)
			return nil
		}
	}
}

// SetUsage replaces the usage estimate of database, e.g. with a measurement.
func (t *Tracker) SetUsage(database string, bytes int64) error {
	st, err := t.get(database)
	if err != nil {
		return err
	}
	bytes = max(bytes, 0)
	st.usage.Store(bytes)
	Metrics.setUsage(database, bytes)
	return nil
}

// Usage returns the storage accounting of database.
func (t *Tracker) Usage(database string) (Usage, error) {
	st, err := t.get(database)
	if err != nil {
		return Usage{}, err
	}
	t.evalMu.Lock()
	defer t.evalMu.Unlock()
	return Usage{
		Bytes:            st.usage.Load(),
		LimitBytes:       st.limit.Load(),
		State:            st.state,
		PendingExitSince: st.pendingExitSince,
	}, nil
}

// Snapshot returns the last published snapshot.
func (t *Tracker) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// CurrentState returns the published admission state of database. Untracked
// databases are Normal.
func (t *Tracker) CurrentState(database string) hostel.AdmissionState {
	return t.snapshot.Load().State(database)
}

// TryAdmitWrite rejects a write to database with a StorageExceeded error if
// the database is Exceeded, whatever the size of the write. It never blocks.
func (t *Tracker) TryAdmitWrite(database string, kind WriteKind, estimatedBytes int64) error {
	if t.snapshot.Load().State(database) == hostel.Exceeded {
		Metrics.incRejected(database, kind)
		return errors.StorageExceededError(database, kind == Bulk)
	}
	return nil
}

// Evaluate computes the admission state of database at now and publishes it
// if it changed. Evaluations that change nothing have no side effects.
func (t *Tracker) Evaluate(database string, now time.Time) (hostel.AdmissionState, error) {
	// Looked up under evalMu so that a concurrent Unregister cannot leave a
	// stale state behind to be published.
	t.evalMu.Lock()
	defer t.evalMu.Unlock()
	st, err := t.get(database)
	if err != nil {
		return hostel.Normal, err
	}
	return t.evaluateLocked(database, st, now), nil
}

// EvaluateAll evaluates every tracked database at now.
func (t *Tracker) EvaluateAll(now time.Time) {
	t.evalMu.Lock()
	defer t.evalMu.Unlock()
	t.dbs.Range(func(k, v interface{}) bool {
		t.evaluateLocked(k.(string), v.(*dbState), now)
		return true
	})
}

func (t *Tracker) evaluateLocked(database string, st *dbState, now time.Time) hostel.AdmissionState {
	usage, limit := st.usage.Load(), st.limit.Load()
	over := limit > 0 && usage >= limit

	from := st.state
	switch {
	case from == hostel.Normal && over:
		st.state = hostel.Exceeded
		st.pendingExitSince = time.Time{}
	case from == hostel.Exceeded && over:
		st.pendingExitSince = time.Time{}
	case from == hostel.Exceeded && limit == 0:
		// Quota removed.
		st.state = hostel.Normal
		st.pendingExitSince = time.Time{}
	case from == hostel.Exceeded && st.pendingExitSince.IsZero():
		st.pendingExitSince = now
	case from == hostel.Exceeded && now.Sub(st.pendingExitSince) >= t.interval:
		st.state = hostel.Normal
		st.pendingExitSince = time.Time{}
	}
	if st.state == from {
		return from
	}

	t.publishLocked(database, st.state)
	Metrics.incTransition(database, st.state)
	klog.Infof("%s: storage admission %v -> %v (usage %d bytes, limit %d bytes)", database, from, st.state, usage, limit)
	if t.onTransition != nil {
		t.onTransition(database, from, st.state, usage, limit)
	}
	return st.state
}

// publishLocked publishes a copy of the current snapshot with the state of
// database replaced.
func (t *Tracker) publishLocked(database string, state hostel.AdmissionState) {
	prev := t.snapshot.Load()
	next := &Snapshot{Version: prev.Version + 1, Exceeded: make(map[string]bool, len(prev.Exceeded)+1)}
	for db := range prev.Exceeded {
		next.Exceeded[db] = true
	}
	if state == hostel.Exceeded {
		next.Exceeded[database] = true
	} else {
		delete(next.Exceeded, database)
	}
	t.snapshot.Store(next)
}
