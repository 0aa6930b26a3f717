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

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

// NoopStoreName is the name of the Store that enforces no limits.
const NoopStoreName = "noop"

type noopStore struct{}

func init() {
	if err := RegisterStore(NoopStoreName, func(clock.TimeSource) (Store, error) {
		return Noop(), nil
	}); err != nil {
		klog.Fatalf("Failed to register quota store %v: %v", NoopStoreName, err)
	}
}

// Noop returns a Store that admits every operation. Configured quotas are
// accepted and ignored.
func Noop() Store {
	return noopStore{}
}

func (noopStore) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	return nil
}

func (noopStore) Reserve(ctx context.Context, database string, cost int64) (Ticket, error) {
	return Ticket{Database: database, Cost: cost}, nil
}

func (noopStore) Release(ctx context.Context, t Ticket) error {
	return nil
}

func (noopStore) Peek(ctx context.Context, database string) (BucketSet, error) {
	return BucketSet{}, nil
}

func (noopStore) Drop(ctx context.Context, database string) error {
	return nil
}
