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

package redisqs

import (
	"flag"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

// StoreName identifies the Redis bucket store.
const StoreName = "redis"

var (
	redisAddr   = flag.String("redis_quota_addr", "", "Address (host:port) of the Redis server keeping schema quota buckets")
	redisPrefix = flag.String("redis_quota_prefix", "hostel/quotas", "Prefix of the Redis keys keeping schema quota buckets")
)

func init() {
	if err := quota.RegisterStore(StoreName, newRedisStore); err != nil {
		klog.Fatalf("Failed to register quota store %v: %v", StoreName, err)
	}
}

func newRedisStore(ts clock.TimeSource) (quota.Store, error) {
	if *redisAddr == "" {
		return nil, fmt.Errorf("can't create redis quota store - redis_quota_addr flag is unset")
	}
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %v: %v", *redisAddr, err)
	}
	klog.Infof("Using Redis quota store at %v", *redisAddr)
	return New(client, *redisPrefix, ts), nil
}
