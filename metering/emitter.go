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

package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Emitter delivers metering records.
type Emitter interface {
	Emit(ctx context.Context, records ...Record) error
}

// Writer is an Emitter writing one JSON record per line.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// OpenFile returns a Writer appending to the file at path, creating it if
// needed.
func OpenFile(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metering file: %w", err)
	}
	w := NewWriter(f)
	w.c = f
	return w, nil
}

// Emit implements Emitter. Records are written in order; on error the
// remaining records are not written.
func (w *Writer) Emit(ctx context.Context, records ...Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write metering record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Close closes the underlying file, if the Writer owns one.
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// Collector is an Emitter keeping records in memory.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// Emit implements Emitter.
func (c *Collector) Emit(ctx context.Context, records ...Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

// Records returns a copy of the records emitted so far.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}
