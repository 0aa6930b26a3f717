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

package etcdqs

import (
	"flag"
	"fmt"

	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	"github.com/hostelcloud/hostel/util/etcd"
	"k8s.io/klog/v2"
)

// StoreName identifies the etcd bucket store.
const StoreName = "etcd"

var prefix = flag.String("etcd_quota_prefix", DefaultPrefix, "Prefix of the etcd keys keeping schema quota buckets")

func init() {
	if err := quota.RegisterStore(StoreName, newEtcdStore); err != nil {
		klog.Fatalf("Failed to register quota store %v: %v", StoreName, err)
	}
}

func newEtcdStore(ts clock.TimeSource) (quota.Store, error) {
	client, err := etcd.SharedClient()
	if err != nil {
		return nil, fmt.Errorf("can't create etcd quota store: %v", err)
	}
	klog.Info("Using etcd quota store")
	return New(client, *prefix, ts), nil
}
