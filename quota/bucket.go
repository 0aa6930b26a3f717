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
	"fmt"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
)

// Bucket is a fixed-window leaky bucket.
type Bucket struct {
	Capacity    int64         `json:"capacity"`
	Window      time.Duration `json:"window"`
	Consumed    int64         `json:"consumed"`
	WindowStart time.Time     `json:"window_start"`
}

// At returns b as seen at now: if the window has elapsed it restarts at now
// with nothing consumed.
func (b Bucket) At(now time.Time) Bucket {
	if now.Sub(b.WindowStart) >= b.Window {
		b.WindowStart = now
		b.Consumed = 0
	}
	return b
}

// Available returns the units left in b at now.
func (b Bucket) Available(now time.Time) int64 {
	b = b.At(now)
	return b.Capacity - b.Consumed
}

// Subject names the quota enforced by b.
func (b Bucket) Subject() string {
	return fmt.Sprintf("schema_operations/%d/%v", b.Capacity, b.Window)
}

func (b Bucket) String() string {
	return fmt.Sprintf("%d/%d per %v since %v", b.Consumed, b.Capacity, b.Window, b.WindowStart.Format(time.RFC3339))
}

// BucketSet is the bucket state of one database.
type BucketSet struct {
	// Generation changes every time the buckets are replaced.
	Generation int64    `json:"generation"`
	Buckets    []Bucket `json:"buckets"`
}

// NewBucketSet returns fresh buckets for quotas, with windows starting at now.
func NewBucketSet(generation int64, quotas []hostel.SchemaQuota, now time.Time) BucketSet {
	s := BucketSet{Generation: generation, Buckets: make([]Bucket, 0, len(quotas))}
	for _, q := range quotas {
		s.Buckets = append(s.Buckets, Bucket{Capacity: q.Capacity, Window: q.Window, WindowStart: now})
	}
	return s
}

// NextGeneration returns a generation number greater than prev, derived from
// now so that a database dropped and provisioned again does not reuse the
// generations of its previous life.
func NextGeneration(prev int64, now time.Time) int64 {
	if g := now.UnixNano(); g > prev {
		return g
	}
	return prev + 1
}

// At returns s with every bucket as seen at now.
func (s BucketSet) At(now time.Time) BucketSet {
	r := BucketSet{Generation: s.Generation, Buckets: make([]Bucket, len(s.Buckets))}
	for i, b := range s.Buckets {
		r.Buckets[i] = b.At(now)
	}
	return r
}

// Take consumes cost units from every bucket of s at now. All buckets are
// checked before any is charged, so a rejected operation consumes nothing. On
// rejection s is returned unchanged with a RateExceeded error for the first
// bucket without headroom.
func (s BucketSet) Take(database string, now time.Time, cost int64) (BucketSet, Ticket, error) {
	rolled := s.At(now)
	for _, b := range rolled.Buckets {
		if b.Consumed+cost > b.Capacity {
			retryAfter := b.WindowStart.Add(b.Window).Sub(now)
			return s, Ticket{}, errors.RateExceededError(database, b.Subject(), retryAfter)
		}
	}

	t := Ticket{
		Database:     database,
		Cost:         cost,
		Generation:   rolled.Generation,
		WindowStarts: make([]time.Time, len(rolled.Buckets)),
	}
	for i := range rolled.Buckets {
		rolled.Buckets[i].Consumed += cost
		t.WindowStarts[i] = rolled.Buckets[i].WindowStart
	}
	return rolled, t, nil
}

// Return gives the units held by t back to s. Nothing is returned if the
// buckets were replaced since t was issued. Otherwise each bucket still in the
// window t was taken in gets its share back; buckets whose window rolled over
// are left alone. It reports whether any units were returned.
func (s BucketSet) Return(t Ticket, now time.Time) (BucketSet, bool) {
	if t.Generation != s.Generation || len(t.WindowStarts) != len(s.Buckets) {
		return s, false
	}
	r := BucketSet{Generation: s.Generation, Buckets: append([]Bucket(nil), s.Buckets...)}
	returned := false
	for i, b := range r.Buckets {
		if !b.WindowStart.Equal(t.WindowStarts[i]) || now.Sub(b.WindowStart) >= b.Window {
			continue
		}
		b.Consumed -= t.Cost
		if b.Consumed < 0 {
			b.Consumed = 0
		}
		r.Buckets[i] = b
		returned = true
	}
	return r, returned
}
