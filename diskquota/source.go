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

package diskquota

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// UsageSource measures the storage used by a database.
type UsageSource interface {
	// Usage returns the bytes currently stored by database.
	Usage(ctx context.Context, database string) (int64, error)
}

// NewSourceFunc is the signature of a function which can be registered to
// provide a UsageSource.
type NewSourceFunc func() (UsageSource, error)

// MemorySourceName names the absence of a measurement source: usage is then
// only driven by the deltas recorded after successful writes.
const MemorySourceName = "memory"

var (
	usMu     sync.RWMutex
	usByName = map[string]NewSourceFunc{
		MemorySourceName: func() (UsageSource, error) { return nil, nil },
	}
)

// RegisterSource registers a function that provides UsageSource instances.
func RegisterSource(name string, f NewSourceFunc) error {
	usMu.Lock()
	defer usMu.Unlock()
	if _, exists := usByName[name]; exists {
		return fmt.Errorf("usage source %v already registered", name)
	}
	usByName[name] = f
	return nil
}

// Sources returns the sorted names of the registered usage sources.
func Sources() []string {
	usMu.RLock()
	defer usMu.RUnlock()
	r := make([]string, 0, len(usByName))
	for k := range usByName {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// NewSource returns the UsageSource registered under name. The memory source
// is nil.
func NewSource(name string) (UsageSource, error) {
	usMu.RLock()
	f, ok := usByName[name]
	usMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown usage source: %q, registered: %v", name, Sources())
	}
	return f()
}

// StoreName maps a database path to the name its data is stored under in a
// SQL backend: "/Root/serverless-1" becomes "root_serverless_1".
func StoreName(database string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.Trim(database, "/")) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
