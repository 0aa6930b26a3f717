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

// Package redisqs stores schema operation buckets in Redis.
//
// The bucket set of a database is kept as a JSON document under a single key
// and updated by Lua scripts, which Redis runs atomically. Keys carry a hash
// tag so that both keys of a database land on the same Redis Cluster slot.
package redisqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
)

// RedisClient is an interface that encompasses the various methods used by
// Store, and allows selecting among different Redis client implementations
// (e.g. regular Redis, Redis Cluster, sharded, etc.)
type RedisClient interface {
	// Required to load and execute scripts
	Eval(script string, keys []string, args ...interface{}) *redis.Cmd
	EvalSha(sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptExists(hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(script string) *redis.StringCmd

	Get(key string) *redis.StringCmd
	Del(keys ...string) *redis.IntCmd
}

// Store is a quota.Store backed by Redis.
type Store struct {
	c      RedisClient
	prefix string
	ts     clock.TimeSource
}

var _ quota.Store = &Store{}

// New returns a Store that uses the provided Redis client. All keys start
// with prefix, which allows sharing a Redis deployment.
func New(client RedisClient, prefix string, ts clock.TimeSource) *Store {
	return &Store{c: client, prefix: prefix, ts: ts}
}

// Load preloads the Lua scripts into Redis. Calling it is optional, but saves
// sending the full script bodies on first use.
func (s *Store) Load(ctx context.Context) error {
	client := withClientContext(ctx, s.c)
	for _, script := range []*redis.Script{configureScript, reserveScript, releaseScript} {
		if err := script.Load(client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// redisSet is the stored form of a quota.BucketSet. Times are Unix
// milliseconds; the generation is a string because Lua numbers are doubles.
type redisSet struct {
	Generation string        `json:"generation"`
	Buckets    []redisBucket `json:"buckets"`
}

type redisBucket struct {
	Capacity int64 `json:"capacity"`
	WindowMs int64 `json:"window_ms"`
	Consumed int64 `json:"consumed"`
	StartMs  int64 `json:"start_ms"`
}

func (r redisSet) toBucketSet() (quota.BucketSet, error) {
	gen, err := strconv.ParseInt(r.Generation, 10, 64)
	if err != nil {
		return quota.BucketSet{}, fmt.Errorf("redisqs: bad generation %q: %v", r.Generation, err)
	}
	set := quota.BucketSet{Generation: gen, Buckets: make([]quota.Bucket, 0, len(r.Buckets))}
	for _, b := range r.Buckets {
		set.Buckets = append(set.Buckets, quota.Bucket{
			Capacity:    b.Capacity,
			Window:      time.Duration(b.WindowMs) * time.Millisecond,
			Consumed:    b.Consumed,
			WindowStart: time.UnixMilli(b.StartMs).UTC(),
		})
	}
	return set, nil
}

// Configure implements quota.Store.
func (s *Store) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	client := withClientContext(ctx, s.c)
	now := s.ts.Now().UnixMilli()
	buckets := make([]redisBucket, 0, len(quotas))
	for _, q := range quotas {
		buckets = append(buckets, redisBucket{Capacity: q.Capacity, WindowMs: q.Window.Milliseconds(), StartMs: now})
	}
	raw := ""
	if len(buckets) > 0 {
		b, err := json.Marshal(buckets)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	return configureScript.Run(client, s.keys(database), raw).Err()
}

// Reserve implements quota.Store.
func (s *Store) Reserve(ctx context.Context, database string, cost int64) (quota.Ticket, error) {
	client := withClientContext(ctx, s.c)
	now := s.ts.Now()
	result, err := reserveScript.Run(client, s.keys(database), now.UnixMilli(), cost).Result()
	if err != nil {
		return quota.Ticket{}, err
	}

	// The script returns:
	//    allowed       1 if the units were taken, 0 otherwise
	//    generation    (allowed) generation of the set, "" if there are no buckets
	//                  (rejected) capacity of the exhausted bucket
	//    starts        (allowed) JSON array of window starts
	//                  (rejected) window of the exhausted bucket in ms
	//    retry         (rejected) ms until the exhausted bucket rolls over
	vals, ok := result.([]interface{})
	if !ok || len(vals) != 4 {
		return quota.Ticket{}, fmt.Errorf("redisqs: invalid reserve result %v", result)
	}
	if allowed, _ := vals[0].(int64); allowed != 1 {
		capacity, _ := vals[1].(int64)
		windowMs, _ := vals[2].(int64)
		retryMs, _ := vals[3].(int64)
		b := quota.Bucket{Capacity: capacity, Window: time.Duration(windowMs) * time.Millisecond}
		return quota.Ticket{}, errors.RateExceededError(database, b.Subject(), time.Duration(retryMs)*time.Millisecond)
	}

	t := quota.Ticket{Database: database, Cost: cost}
	gen, _ := vals[1].(string)
	if gen == "" {
		return t, nil
	}
	if t.Generation, err = strconv.ParseInt(gen, 10, 64); err != nil {
		return quota.Ticket{}, fmt.Errorf("redisqs: bad generation %q: %v", gen, err)
	}
	var starts []int64
	if raw, _ := vals[2].(string); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &starts); err != nil {
			return quota.Ticket{}, fmt.Errorf("redisqs: bad window starts %q: %v", raw, err)
		}
	}
	for _, ms := range starts {
		t.WindowStarts = append(t.WindowStarts, time.UnixMilli(ms).UTC())
	}
	return t, nil
}

// Release implements quota.Store.
func (s *Store) Release(ctx context.Context, t quota.Ticket) error {
	if len(t.WindowStarts) == 0 {
		return nil
	}
	client := withClientContext(ctx, s.c)
	starts := make([]int64, 0, len(t.WindowStarts))
	for _, ws := range t.WindowStarts {
		starts = append(starts, ws.UnixMilli())
	}
	raw, err := json.Marshal(starts)
	if err != nil {
		return err
	}
	gen := strconv.FormatInt(t.Generation, 10)
	return releaseScript.Run(client, s.keys(t.Database), gen, s.ts.Now().UnixMilli(), t.Cost, string(raw)).Err()
}

// Peek implements quota.Store.
func (s *Store) Peek(ctx context.Context, database string) (quota.BucketSet, error) {
	client := withClientContext(ctx, s.c)
	raw, err := client.Get(s.keys(database)[0]).Result()
	if err == redis.Nil {
		return quota.BucketSet{}, nil
	} else if err != nil {
		return quota.BucketSet{}, err
	}
	var rs redisSet
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return quota.BucketSet{}, fmt.Errorf("redisqs: bad bucket set for %s: %v", database, err)
	}
	set, err := rs.toBucketSet()
	if err != nil {
		return quota.BucketSet{}, err
	}
	return set.At(s.ts.Now()), nil
}

// Drop implements quota.Store. The generation counter survives, so tickets
// issued before the drop never match a later bucket set.
func (s *Store) Drop(ctx context.Context, database string) error {
	client := withClientContext(ctx, s.c)
	return client.Del(s.keys(database)[0]).Err()
}

// keys returns the bucket set key and generation counter key of database.
func (s *Store) keys(database string) []string {
	// Redis Cluster only hashes the part of a key inside "{}", so both keys
	// map to the same slot and can be used from one script.
	tag := fmt.Sprintf("{%s%s}", s.prefix, database)
	return []string{tag + ".buckets", tag + ".generation"}
}

// Because each Redis client type in the Go package has a `WithContext` method
// that returns a concrete type, we can't simply put that method in the
// RedisClient interface. This method performs type assertions to try and call
// the `WithContext` method on the appropriate concrete type.
func withClientContext(ctx context.Context, client RedisClient) RedisClient {
	type withContextable interface {
		WithContext(context.Context) RedisClient
	}

	switch c := client.(type) {
	case *redis.Client:
		return c.WithContext(ctx)
	case *redis.ClusterClient:
		return c.WithContext(ctx)
	case *redis.Ring:
		return c.WithContext(ctx)
	case withContextable:
		return c.WithContext(ctx)
	}
	return client
}
