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
	"fmt"
	"os"
	"sort"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"gopkg.in/yaml.v2"
)

// Config is the YAML form of a catalog and of the static cluster topology.
//
//	databases:
//	- path: /Root/hostel
//	  cluster: hostel-a
//	- path: /Root/serverless-1
//	  hostel: /Root/hostel
//	  schema_quotas:
//	  - {capacity: 2, window_seconds: 60}
//	  storage_quota_bytes: 1073741824
//	clusters:
//	  hostel-a:
//	  - {host: node-1, port: 2135}
type Config struct {
	Databases []DatabaseConfig             `yaml:"databases"`
	Clusters  map[string][]hostel.Endpoint `yaml:"clusters,omitempty"`
}

// DatabaseConfig describes one database.
type DatabaseConfig struct {
	Path              string              `yaml:"path"`
	Cluster           string              `yaml:"cluster,omitempty"`
	Hostel            string              `yaml:"hostel,omitempty"`
	SchemaQuotas      []SchemaQuotaConfig `yaml:"schema_quotas,omitempty"`
	StorageQuotaBytes int64               `yaml:"storage_quota_bytes,omitempty"`
	StorageBilling    bool                `yaml:"storage_billing,omitempty"`
}

// SchemaQuotaConfig describes one schema operation bucket.
type SchemaQuotaConfig struct {
	Capacity      int64 `yaml:"capacity"`
	WindowSeconds int64 `yaml:"window_seconds"`
}

// Database converts c.
func (c DatabaseConfig) Database() *hostel.Database {
	d := &hostel.Database{
		Path:           c.Path,
		Cluster:        c.Cluster,
		Hostel:         c.Hostel,
		StorageBilling: c.StorageBilling,
	}
	for _, q := range c.SchemaQuotas {
		d.SchemaQuotas = append(d.SchemaQuotas, hostel.NewSchemaQuota(q.Capacity, q.WindowSeconds))
	}
	if c.StorageQuotaBytes > 0 {
		d.StorageQuota = &hostel.StorageQuota{LimitBytes: c.StorageQuotaBytes}
	}
	return d
}

// ParseConfig parses YAML.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, errors.Wrap(errors.ConfigurationInvalid, err, "failed to parse catalog: %v", err)
	}
	for _, d := range c.Databases {
		for _, q := range d.SchemaQuotas {
			if _, err := hostel.ParseSchemaQuota(q.Capacity, q.WindowSeconds); err != nil {
				return nil, errors.Wrap(errors.ConfigurationInvalid, err, "%s: invalid schema quota: %v", d.Path, err)
			}
		}
	}
	return &c, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseConfig(data)
}

// InOrder returns the databases of c, hostel and dedicated databases first so
// that every serverless database follows its hostel.
func (c *Config) InOrder() []*hostel.Database {
	r := make([]*hostel.Database, 0, len(c.Databases))
	for _, dc := range c.Databases {
		r = append(r, dc.Database())
	}
	sort.SliceStable(r, func(i, j int) bool {
		return !r[i].Serverless() && r[j].Serverless()
	})
	return r
}
