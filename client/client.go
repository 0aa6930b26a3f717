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

// Package client talks to the HTTP API of a hostel gate.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/client/backoff"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/server"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// DefaultBackoff is the retry policy of clients created without one.
var DefaultBackoff = backoff.Backoff{
	Min:      100 * time.Millisecond,
	Max:      10 * time.Second,
	Factor:   2,
	Jitter:   true,
	Attempts: 5,
}

// Client is a client of the gate HTTP API.
type Client struct {
	base *url.URL
	hc   *http.Client

	// Backoff is the retry policy of Retry.
	Backoff backoff.Backoff
}

// New returns a client of the gate listening at baseURL. hc may be nil.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gate URL %q: %w", baseURL, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc, Backoff: DefaultBackoff}, nil
}

// Retryable reports whether an operation failing with err may be retried,
// and the minimum pause before retrying. Stale sessions and exhausted schema
// operation quotas are retried; storage quota rejections never are.
func Retryable(err error) (bool, time.Duration) {
	switch errors.KindOf(err) {
	case errors.StaleSession:
		return true, 0
	case errors.RateExceeded:
		return true, errors.RetryDelayOf(err)
	}
	return false, 0
}

// Retry runs f until it succeeds or fails with an error that is not
// Retryable. Attempts are bounded by the client's Backoff.
func (c *Client) Retry(ctx context.Context, f func(ctx context.Context) error) error {
	b := c.Backoff
	return b.Retry(ctx, func(ctx context.Context) error {
		err := f(ctx)
		if err != nil {
			klog.V(1).Infof("Operation failed: %v", err)
		}
		return err
	}, Retryable)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(query.Get("database"), resp.StatusCode, b)
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// decodeError rebuilds the error reported by the gate, so that errors.KindOf
// and errors.Is work on the client side.
func decodeError(database string, httpStatus int, body []byte) error {
	var r server.ErrorResponse
	if err := json.Unmarshal(body, &r); err != nil || r.Code == "" {
		return fmt.Errorf("gate returned HTTP %d: %s", httpStatus, bytes.TrimSpace(body))
	}
	code := codes.Unknown
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if c.String() == r.Code {
			code = c
			break
		}
	}
	kind := errors.KindOf(status.Error(code, r.Message))
	if kind == errors.Unknown {
		return status.Error(code, r.Message)
	}
	return &errors.Error{
		Kind:       kind,
		Database:   database,
		Msg:        r.Message,
		RetryDelay: time.Duration(r.RetryAfterSeconds * float64(time.Second)),
	}
}

func dbQuery(database string) url.Values {
	return url.Values{"database": {database}}
}

// CreateDatabase provisions d.
func (c *Client) CreateDatabase(ctx context.Context, d server.Database) (*server.Database, error) {
	var r server.Database
	if err := c.do(ctx, http.MethodPost, "/v1/databases", nil, d, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteDatabase drops database.
func (c *Client) DeleteDatabase(ctx context.Context, database string) error {
	return c.do(ctx, http.MethodDelete, "/v1/databases", dbQuery(database), nil, nil)
}

// ListDatabases lists the databases whose path starts with prefix.
func (c *Client) ListDatabases(ctx context.Context, prefix string) ([]server.Database, error) {
	var r struct {
		Databases []server.Database `json:"databases"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/databases", url.Values{"prefix": {prefix}}, nil, &r); err != nil {
		return nil, err
	}
	return r.Databases, nil
}

// Status returns the admission state of database.
func (c *Client) Status(ctx context.Context, database string) (*server.Status, error) {
	var r server.Status
	if err := c.do(ctx, http.MethodGet, "/v1/databases/status", dbQuery(database), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AlterSchemaQuotas replaces the schema operation quotas of database.
func (c *Client) AlterSchemaQuotas(ctx context.Context, database string, quotas []hostel.SchemaQuota) (*server.Database, error) {
	req := struct {
		SchemaQuotas server.SchemaQuotas `json:"schema_quotas"`
	}{SchemaQuotas: quotas}
	var r server.Database
	if err := c.do(ctx, http.MethodPut, "/v1/databases/schema_quotas", dbQuery(database), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetStorageQuota sets the storage limit of database. Zero removes it.
func (c *Client) SetStorageQuota(ctx context.Context, database string, limitBytes int64) (*server.Database, error) {
	req := struct {
		LimitBytes int64 `json:"limit_bytes"`
	}{LimitBytes: limitBytes}
	var r server.Database
	if err := c.do(ctx, http.MethodPut, "/v1/databases/storage_quota", dbQuery(database), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetStorageBilling switches storage billing of database.
func (c *Client) SetStorageBilling(ctx context.Context, database string, enabled bool) (*server.Database, error) {
	req := struct {
		Enabled bool `json:"enabled"`
	}{Enabled: enabled}
	var r server.Database
	if err := c.do(ctx, http.MethodPut, "/v1/databases/storage_billing", dbQuery(database), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AdmitSchema asks for one schema operation of database to be admitted.
func (c *Client) AdmitSchema(ctx context.Context, database, op string) error {
	q := dbQuery(database)
	q.Set("operation", op)
	return c.do(ctx, http.MethodPost, "/v1/admission/schema", q, nil, nil)
}

// AdmitWrite asks for a write of about bytes to database to be admitted.
func (c *Client) AdmitWrite(ctx context.Context, database string, bulk bool, bytes int64) error {
	q := dbQuery(database)
	q.Set("kind", "dml")
	if bulk {
		q.Set("kind", "bulk")
	}
	q.Set("bytes", strconv.FormatInt(bytes, 10))
	return c.do(ctx, http.MethodPost, "/v1/admission/write", q, nil, nil)
}

// RecordUsage reports a change of deltaBytes in the storage used by database.
func (c *Client) RecordUsage(ctx context.Context, database string, deltaBytes int64) error {
	q := dbQuery(database)
	q.Set("delta_bytes", strconv.FormatInt(deltaBytes, 10))
	return c.do(ctx, http.MethodPost, "/v1/usage", q, nil, nil)
}

// Discover returns the endpoints serving database. It returns false if the
// gate could not resolve them.
func (c *Client) Discover(ctx context.Context, database string) (hostel.EndpointSet, bool, error) {
	var r *hostel.EndpointSet
	if err := c.do(ctx, http.MethodGet, "/v1/discovery", dbQuery(database), nil, &r); err != nil {
		return hostel.EndpointSet{}, false, err
	}
	if r == nil {
		return hostel.EndpointSet{}, false, nil
	}
	return *r, true, nil
}
