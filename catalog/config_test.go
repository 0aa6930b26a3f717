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

package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
)

const testConfig = `
databases:
- path: /Root/serverless-1
  hostel: /Root/hostel
  schema_quotas:
  - {capacity: 2, window_seconds: 60}
  - {capacity: 4, window_seconds: 600}
  storage_quota_bytes: 1024
  storage_billing: true
- path: /Root/hostel
  cluster: hostel-a
clusters:
  hostel-a:
  - {host: node-1, port: 2135}
  - host: node-2
    port: 2135
    metadata: {dc: vla}
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig() returned err = %v", err)
	}
	want := []*hostel.Database{
		{Path: "/Root/hostel", Cluster: "hostel-a"},
		{
			Path:   "/Root/serverless-1",
			Hostel: "/Root/hostel",
			SchemaQuotas: []hostel.SchemaQuota{
				{Capacity: 2, Window: time.Minute},
				{Capacity: 4, Window: 10 * time.Minute},
			},
			StorageQuota:   &hostel.StorageQuota{LimitBytes: 1024},
			StorageBilling: true,
		},
	}
	if diff := cmp.Diff(want, c.InOrder()); diff != "" {
		t.Errorf("InOrder() diff (-want +got):\n%s", diff)
	}
	wantEndpoints := []hostel.Endpoint{
		{Host: "node-1", Port: 2135},
		{Host: "node-2", Port: 2135, Metadata: map[string]string{"dc": "vla"}},
	}
	if diff := cmp.Diff(wantEndpoints, c.Clusters["hostel-a"]); diff != "" {
		t.Errorf("Clusters diff (-want +got):\n%s", diff)
	}

	// The ordered databases can be loaded into a catalog as they are.
	cat := New()
	for _, d := range c.InOrder() {
		if err := cat.Create(d); err != nil {
			t.Errorf("Create(%v) returned err = %v", d.Path, err)
		}
	}
}

func TestParseConfigErrors(t *testing.T) {
	for _, in := range []string{
		"databases: {path: 1}",
		"databases:\n- path: /x\n  bogus_field: 1\n",
		"databases:\n- path: /x\n  schema_quotas:\n  - {capacity: 0, window_seconds: 60}\n",
		"databases:\n- path: /x\n  schema_quotas:\n  - {capacity: 1, window_seconds: 36893488148}\n",
	} {
		if _, err := ParseConfig([]byte(in)); errors.KindOf(err) != errors.ConfigurationInvalid {
			t.Errorf("ParseConfig(%q) returned err = %v, want ConfigurationInvalid", in, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("WriteFile() returned err = %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned err = %v", err)
	}
	if got, want := len(c.Databases), 2; got != want {
		t.Errorf("len(Databases) = %v, want %v", got, want)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) returned err = nil, want non-nil")
	}
}
