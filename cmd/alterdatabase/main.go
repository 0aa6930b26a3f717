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

// Package main contains the implementation and entry point for the
// alterdatabase command.
//
// Example usage:
// $ ./alterdatabase --gate=http://host:port --database=/Root/serverless-1 --schema_quotas=2:60,4:600
//
// The output is minimal to allow for easy usage in automated scripts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/client"
	"github.com/hostelcloud/hostel/server"
	"k8s.io/klog/v2"
)

var (
	gateURL        = flag.String("gate", "", "Base URL of the HTTP API of a hostel gate (http://host:port)")
	rpcDeadline    = flag.Duration("rpc_deadline", time.Second*10, "Deadline for the whole command, retries included")
	database       = flag.String("database", "", "Path of the database to alter")
	schemaQuotas   = flag.String("schema_quotas", "", "If set, the schema operation quotas as capacity:window_seconds pairs, e.g. 2:60,4:600; \"none\" removes them")
	storageQuota   = flag.Int64("storage_quota_bytes", -1, "If >= 0, the storage quota in bytes; 0 removes it")
	storageBilling = flag.String("storage_billing", "", "If set, enables (true) or disables (false) storage billing")
	printStatus    = flag.Bool("print", false, "Print the resulting status of the database")
)

// parseQuotas parses capacity:window_seconds pairs.
func parseQuotas(s string) ([]hostel.SchemaQuota, error) {
	if s == "none" {
		return nil, nil
	}
	var r []hostel.SchemaQuota
	for _, pair := range strings.Split(s, ",") {
		c, w, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("invalid schema quota %q, want capacity:window_seconds", pair)
		}
		capacity, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity in %q: %v", pair, err)
		}
		window, err := strconv.ParseInt(w, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid window in %q: %v", pair, err)
		}
		q, err := hostel.ParseSchemaQuota(capacity, window)
		if err != nil {
			return nil, fmt.Errorf("invalid schema quota %q: %v", pair, err)
		}
		r = append(r, q)
	}
	return r, nil
}

type alterParams struct {
	database       string
	schemaQuotas   string
	storageQuota   int64
	storageBilling string
}

func paramsFromFlags() alterParams {
	return alterParams{
		database:       *database,
		schemaQuotas:   *schemaQuotas,
		storageQuota:   *storageQuota,
		storageBilling: *storageBilling,
	}
}

func alterDatabase(ctx context.Context, c *client.Client, p alterParams) (*server.Status, error) {
	if p.database == "" {
		return nil, errors.New("empty --database")
	}
	changed := false

	if p.schemaQuotas != "" {
		quotas, err := parseQuotas(p.schemaQuotas)
		if err != nil {
			return nil, err
		}
		if err := c.Retry(ctx, func(ctx context.Context) error {
			_, err := c.AlterSchemaQuotas(ctx, p.database, quotas)
			return err
		}); err != nil {
			return nil, fmt.Errorf("failed to alter schema quotas: %w", err)
		}
		changed = true
	}

	if p.storageQuota >= 0 {
		if err := c.Retry(ctx, func(ctx context.Context) error {
			_, err := c.SetStorageQuota(ctx, p.database, p.storageQuota)
			return err
		}); err != nil {
			return nil, fmt.Errorf("failed to set storage quota: %w", err)
		}
		changed = true
	}

	if p.storageBilling != "" {
		enabled, err := strconv.ParseBool(p.storageBilling)
		if err != nil {
			return nil, fmt.Errorf("invalid --storage_billing %q: %v", p.storageBilling, err)
		}
		if err := c.Retry(ctx, func(ctx context.Context) error {
			_, err := c.SetStorageBilling(ctx, p.database, enabled)
			return err
		}); err != nil {
			return nil, fmt.Errorf("failed to set storage billing: %w", err)
		}
		changed = true
	}

	if !changed {
		return nil, errors.New("nothing to change")
	}
	return c.Status(ctx, p.database)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *gateURL == "" {
		klog.Exitf("empty --gate, please provide the gate URL")
	}
	c, err := client.New(*gateURL, nil)
	if err != nil {
		klog.Exitf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *rpcDeadline)
	defer cancel()
	st, err := alterDatabase(ctx, c, paramsFromFlags())
	if err != nil {
		klog.Exitf("Failed to alter database: %v", err)
	}

	if *printStatus {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			klog.Exitf("Failed to print status: %v", err)
		}
		return
	}
	// DO NOT change the default output format, some scripts depend on it.
	fmt.Println(len(st.SchemaOperationQuotas.LeakyBucketQuotas), st.Storage.State)
}
