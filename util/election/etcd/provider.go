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

package etcd

import (
	"flag"
	"fmt"
	"os"

	"github.com/hostelcloud/hostel/util/election"
	"github.com/hostelcloud/hostel/util/etcd"
	"k8s.io/klog/v2"
)

// ElectionName identifies the etcd election implementation.
const ElectionName = "etcd"

var lockDir = flag.String("election_lock_dir", "hostel/election", "etcd key prefix of the election locks")

func init() {
	if err := election.RegisterProvider(ElectionName, newFactory); err != nil {
		klog.Fatalf("Failed to register election implementation %v: %v", ElectionName, err)
	}
}

func newFactory() (election.Factory, error) {
	client, err := etcd.SharedClient()
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	return NewFactory(fmt.Sprintf("%s.%d", hostname, os.Getpid()), client, *lockDir), nil
}
