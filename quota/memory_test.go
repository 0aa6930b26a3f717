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

package quota_test

import (
	"testing"

	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/quota/storetest"
	"github.com/hostelcloud/hostel/util/clock"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T, ts clock.TimeSource) quota.Store {
		return quota.NewMemoryStore(ts)
	})
}

func TestRegisteredStores(t *testing.T) {
	for _, name := range []string{quota.MemoryStoreName, quota.NoopStoreName} {
		if _, err := quota.NewStore(name, clock.System); err != nil {
			t.Errorf("NewStore(%q) returned err = %v", name, err)
		}
	}
	if _, err := quota.NewStore("bogus", clock.System); err == nil {
		t.Errorf("NewStore(%q) returned err = nil, want non-nil", "bogus")
	}
}
