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
	"sort"
	"sync"

	"github.com/hostelcloud/hostel/util/clock"
)

// NewStoreFunc is the signature of a function which can be registered to
// provide instances of a bucket store. ts is the clock used for bucket
// windows.
type NewStoreFunc func(ts clock.TimeSource) (Store, error)

var (
	spMu     sync.RWMutex
	spByName map[string]NewStoreFunc
)

// RegisterStore registers a function that provides Store instances.
func RegisterStore(name string, sp NewStoreFunc) error {
	spMu.Lock()
	defer spMu.Unlock()

	if spByName == nil {
		spByName = make(map[string]NewStoreFunc)
	}

	if _, exists := spByName[name]; exists {
		return fmt.Errorf("quota store %v already registered", name)
	}
	spByName[name] = sp
	return nil
}

// Stores returns the sorted names of the registered stores.
func Stores() []string {
	spMu.RLock()
	defer spMu.RUnlock()

	r := make([]string, 0, len(spByName))
	for k := range spByName {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// NewStore returns the Store registered under name.
func NewStore(name string, ts clock.TimeSource) (Store, error) {
	spMu.RLock()
	f, exists := spByName[name]
	spMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown quota store: %q, registered: %v", name, Stores())
	}
	return f(ts)
}
