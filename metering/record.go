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

// Package metering emits usage records for billed databases.
//
// Records are consumed by an external billing pipeline, which deduplicates
// them by ID. Each record covers the interval [Start, Finish) and reports the
// storage used by one database during it.
package metering

import (
	"time"

	"github.com/google/uuid"
	"github.com/hostelcloud/hostel"
)

const (
	// StorageSchema identifies storage usage records.
	StorageSchema = "hostel.serverless.storage.v1"

	// BillingToggleSchema identifies records announcing that storage billing
	// was switched on or off for a database.
	BillingToggleSchema = "hostel.serverless.storage_billing.v1"

	recordVersion = "1"
	unitBytes     = "byte"
)

// Record is a single metering record.
type Record struct {
	ID       string            `json:"id"`
	Version  string            `json:"version"`
	Schema   string            `json:"schema"`
	Database string            `json:"database"`
	Hostel   string            `json:"hostel,omitempty"`
	Quantity int64             `json:"quantity"`
	Unit     string            `json:"unit"`
	Start    time.Time         `json:"start"`
	Finish   time.Time         `json:"finish"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// NewStorageRecord returns a record of usageBytes stored by db over
// [start, finish).
func NewStorageRecord(db *hostel.Database, usageBytes int64, start, finish time.Time) Record {
	return Record{
		ID:       uuid.NewString(),
		Version:  recordVersion,
		Schema:   StorageSchema,
		Database: db.Path,
		Hostel:   db.Hostel,
		Quantity: usageBytes,
		Unit:     unitBytes,
		Start:    start,
		Finish:   finish,
	}
}

// NewBillingToggleRecord returns a record of storage billing for db being
// switched to enabled at now, with the usage at that moment.
func NewBillingToggleRecord(db *hostel.Database, enabled bool, usageBytes int64, now time.Time) Record {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return Record{
		ID:       uuid.NewString(),
		Version:  recordVersion,
		Schema:   BillingToggleSchema,
		Database: db.Path,
		Hostel:   db.Hostel,
		Quantity: usageBytes,
		Unit:     unitBytes,
		Start:    now,
		Finish:   now,
		Labels:   map[string]string{"storage_billing": state},
	}
}
