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

// Package flagsaver saves and restores flag values, so that tests can change
// package-level flags without leaking them into other tests.
//
// Example:
//
//	func TestFoo(t *testing.T) {
//		defer flagsaver.Save().MustRestore()
//		flag.Set("quota_store", "etcd")
//		...
//	}
package flagsaver

import (
	"flag"
	"strings"

	"k8s.io/klog/v2"
)

// Stash holds saved flag values.
type Stash struct {
	fs    *flag.FlagSet
	flags map[string]string
}

// Restore sets every saved flag back to the value it had when saved.
func (s *Stash) Restore() error {
	for name, value := range s.flags {
		if err := s.fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// MustRestore is like Restore but exits the process on failure.
func (s *Stash) MustRestore() {
	if err := s.Restore(); err != nil {
		klog.Fatalf("MustRestore(): failed to restore flags: %v", err)
	}
}

// Save stashes the current values of all flags of flag.CommandLine.
func Save() *Stash {
	return SaveSet(flag.CommandLine)
}

// SaveSet stashes the current values of all flags of fs.
func SaveSet(fs *flag.FlagSet) *Stash {
	s := &Stash{fs: fs, flags: make(map[string]string)}
	// Flags of the test runner are left alone. log_backtrace_at cannot be set
	// back to its empty value.
	fs.VisitAll(func(f *flag.Flag) {
		if !strings.HasPrefix(f.Name, "test.") && f.Name != "log_backtrace_at" {
			s.flags[f.Name] = f.Value.String()
		}
	})
	return s
}
