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

package cmd

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		desc       string
		contents   string
		env        map[string]string
		cliArgs    []string
		wantErr    string
		wantStore  string
		wantSource string
	}{
		{
			desc:       "twoFlagsPerLine",
			contents:   "--quota_store=etcd --usage_source=postgresql",
			wantStore:  "etcd",
			wantSource: "postgresql",
		},
		{
			desc:       "oneFlagPerLine",
			contents:   "--quota_store etcd\n--usage_source postgresql",
			wantStore:  "etcd",
			wantSource: "postgresql",
		},
		{
			desc:       "lineContinuation",
			contents:   "--quota_store etcd \\\n--usage_source postgresql",
			wantStore:  "etcd",
			wantSource: "postgresql",
		},
		{
			desc:       "commandLineOverrides",
			contents:   "--quota_store etcd\n--usage_source postgresql",
			cliArgs:    []string{"--usage_source", "mysql"},
			wantStore:  "etcd",
			wantSource: "mysql",
		},
		{
			desc:       "environment",
			contents:   `--quota_store "$TEST_QUOTA_STORE"`,
			env:        map[string]string{"TEST_QUOTA_STORE": "redis cluster"},
			wantStore:  "redis cluster",
			wantSource: "memory",
		},
		{
			desc:     "undefined",
			contents: "--quota_store etcd --topology k8s",
			wantErr:  "flag provided but not defined: -topology",
		},
		{
			desc:     "unbalancedQuotes",
			contents: `--quota_store "etcd`,
			wantErr:  "flag file has unbalanced quotes",
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			for k, v := range test.env {
				t.Setenv(k, v)
			}
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			store := fs.String("quota_store", "memory", "")
			source := fs.String("usage_source", "memory", "")

			err := parseFlags(fs, test.contents, test.cliArgs)
			if test.wantErr != "" {
				if err == nil || err.Error() != test.wantErr {
					t.Fatalf("parseFlags() returned err = %v, want %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() returned err = %v", err)
			}
			if *store != test.wantStore || *source != test.wantSource {
				t.Errorf("parseFlags() set quota_store=%q usage_source=%q, want %q and %q", *store, *source, test.wantStore, test.wantSource)
			}
		})
	}
}

func TestParseFlagFileMissing(t *testing.T) {
	if err := ParseFlagFile(filepath.Join(t.TempDir(), "missing.cfg")); !os.IsNotExist(err) {
		t.Errorf("ParseFlagFile(missing) returned err = %v, want not exist", err)
	}
}
