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
	"context"
	"sync"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

// MemoryStoreName is the name of the in-process Store.
const MemoryStoreName = "memory"

func init() {
	if err := RegisterStore(MemoryStoreName, func(ts clock.TimeSource) (Store, error) {
		return NewMemoryStore(ts), nil
	}); err != nil {
		klog.Fatalf("Failed to register quota store %v: %v", MemoryStoreName, err)
	}
}

// MemoryStore keeps bucket sets in process memory. Every database has its own
// lock; databases never contend with each other.
type MemoryStore struct {
	ts  clock.TimeSource
	dbs sync.Map // string -> *memoryEntry

	genMu   sync.Mutex
	lastGen int64
}

type memoryEntry struct {
	mu  sync.Mutex
	set BucketSet
}

// NewMemoryStore returns an empty MemoryStore using ts for bucket windows.
func NewMemoryStore(ts clock.TimeSource) *MemoryStore {
	return &MemoryStore{ts: ts}
}

func (m *MemoryStore) nextGeneration() int64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	m.lastGen = NextGeneration(m.lastGen, m.ts.Now())
	return m.lastGen
}

// Configure implements Store.
func (m *MemoryStore) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	v, _ := m.dbs.LoadOrStore(database, &memoryEntry{})
	e := v.(*memoryEntry)
	gen := m.nextGeneration()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = NewBucketSet(gen, quotas, m.ts.Now())
	return nil
}

// Reserve implements Store.
func (m *MemoryStore) Reserve(ctx context.Context, database string, cost int64) (Ticket, error) {
	v, ok := m.dbs.Load(database)
	if !ok {
		return Ticket{Database: database, Cost: cost}, nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	set, t, err := e.set.Take(database, m.ts.Now(), cost)
	if err != nil {
		return Ticket{}, err
	}
	e.set = set
	return t, nil
}

// Release implements Store.
func (m *MemoryStore) Release(ctx context.Context, t Ticket) error {
	v, ok := m.dbs.Load(t.Database)
	if !ok {
		return nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.set, _ = e.set.Return(t, m.ts.Now())
	return nil
}

// Peek implements Store.
func (m *MemoryStore) Peek(ctx context.Context, database string) (BucketSet, error) {
	v, ok := m.dbs.Load(database)
	if !ok {
		return BucketSet{}, nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.At(m.ts.Now()), nil
}

// Drop implements Store.
func (m *MemoryStore) Drop(ctx context.Context, database string) error {
	m.dbs.Delete(database)
	return nil
}
