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

// Package etcdqs stores schema operation buckets in etcd.
//
// The bucket set of a database is a JSON document under a single key. Every
// read-modify-write runs in a serializable STM transaction, which etcd retries
// on conflict, so concurrent gates never overspend a bucket.
package etcdqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// DefaultPrefix is the default prefix of the keys written by Store.
const DefaultPrefix = "hostel/quotas"

// Store is a quota.Store backed by etcd.
type Store struct {
	client *clientv3.Client
	prefix string
	ts     clock.TimeSource
}

var _ quota.Store = &Store{}

// New returns a Store keeping buckets under prefix.
func New(client *clientv3.Client, prefix string, ts clock.TimeSource) *Store {
	return &Store{client: client, prefix: prefix, ts: ts}
}

func (s *Store) key(database string) string {
	return s.prefix + database
}

// update runs fn on the bucket set of database inside a serializable
// transaction. fn returns the set to store, or nil to leave the key as is.
func (s *Store) update(ctx context.Context, database string, fn func(prev *quota.BucketSet) (*quota.BucketSet, error)) error {
	key := s.key(database)
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		prev, err := decode(stm.Get(key))
		if err != nil {
			return err
		}
		next, err := fn(prev)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		stm.Put(key, string(b))
		return nil
	}, concurrency.WithAbortContext(ctx), concurrency.WithIsolation(concurrency.Serializable))
	return err
}

func decode(raw string) (*quota.BucketSet, error) {
	if raw == "" {
		return nil, nil
	}
	var set quota.BucketSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("etcdqs: bad bucket set: %v", err)
	}
	return &set, nil
}

// Configure implements quota.Store.
func (s *Store) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	return s.update(ctx, database, func(prev *quota.BucketSet) (*quota.BucketSet, error) {
		var prevGen int64
		if prev != nil {
			prevGen = prev.Generation
		}
		now := s.ts.Now()
		set := quota.NewBucketSet(quota.NextGeneration(prevGen, now), quotas, now)
		return &set, nil
	})
}

// Reserve implements quota.Store.
func (s *Store) Reserve(ctx context.Context, database string, cost int64) (quota.Ticket, error) {
	t := quota.Ticket{Database: database, Cost: cost}
	err := s.update(ctx, database, func(prev *quota.BucketSet) (*quota.BucketSet, error) {
		if prev == nil {
			return nil, nil
		}
		next, ticket, err := prev.Take(database, s.ts.Now(), cost)
		if err != nil {
			return nil, err
		}
		t = ticket
		return &next, nil
	})
	if err != nil {
		return quota.Ticket{}, err
	}
	return t, nil
}

// Release implements quota.Store.
func (s *Store) Release(ctx context.Context, t quota.Ticket) error {
	return s.update(ctx, t.Database, func(prev *quota.BucketSet) (*quota.BucketSet, error) {
		if prev == nil {
			return nil, nil
		}
		next, _ := prev.Return(t, s.ts.Now())
		return &next, nil
	})
}

// Peek implements quota.Store.
func (s *Store) Peek(ctx context.Context, database string) (quota.BucketSet, error) {
	resp, err := s.client.Get(ctx, s.key(database))
	if err != nil {
		return quota.BucketSet{}, err
	}
	if len(resp.Kvs) == 0 {
		return quota.BucketSet{}, nil
	}
	set, err := decode(string(resp.Kvs[0].Value))
	if err != nil {
		return quota.BucketSet{}, err
	}
	return set.At(s.ts.Now()), nil
}

// Drop implements quota.Store.
func (s *Store) Drop(ctx context.Context, database string) error {
	_, err := s.client.Delete(ctx, s.key(database))
	return err
}
