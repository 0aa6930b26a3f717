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

// Package server exposes the admission components over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/discovery"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/gate"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/server/admin"
	"google.golang.org/grpc/codes"
	"k8s.io/klog/v2"
)

// API serves the administration, admission and discovery endpoints.
type API struct {
	Admin    *admin.Server
	Gate     *gate.Gate
	Resolver *discovery.Resolver

	// Monitor instruments every handler. Optional.
	Monitor *monitoring.HTTPRequestMonitor
}

// Register installs the API handlers on mux.
func (a *API) Register(mux *http.ServeMux) {
	for pattern, h := range map[string]http.HandlerFunc{
		"GET /v1/databases":                 a.listDatabases,
		"POST /v1/databases":                a.createDatabase,
		"DELETE /v1/databases":              a.deleteDatabase,
		"GET /v1/databases/status":          a.status,
		"PUT /v1/databases/schema_quotas":   a.alterSchemaQuotas,
		"PUT /v1/databases/storage_quota":   a.setStorageQuota,
		"PUT /v1/databases/storage_billing": a.setStorageBilling,
		"POST /v1/admission/schema":         a.admitSchema,
		"POST /v1/admission/write":          a.admitWrite,
		"POST /v1/usage":                    a.recordUsage,
		"GET /v1/discovery":                 a.discover,
	} {
		var handler http.Handler = h
		if a.Monitor != nil {
			handler = a.Monitor.Wrap(pattern, handler)
		}
		mux.Handle(pattern, handler)
	}
}

// SchemaQuotas encodes quotas as [capacity, window_seconds] pairs.
type SchemaQuotas []hostel.SchemaQuota

// MarshalJSON implements json.Marshaler.
func (q SchemaQuotas) MarshalJSON() ([]byte, error) {
	pairs := make([][2]int64, 0, len(q))
	for _, sq := range q {
		pairs = append(pairs, [2]int64{sq.Capacity, int64(sq.Window / time.Second)})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *SchemaQuotas) UnmarshalJSON(b []byte) error {
	var pairs [][]int64
	if err := json.Unmarshal(b, &pairs); err != nil {
		return err
	}
	*q = make(SchemaQuotas, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return errors.Errorf(errors.ConfigurationInvalid, "schema quota %v is not a [capacity, window_seconds] pair", p)
		}
		sq, err := hostel.ParseSchemaQuota(p[0], p[1])
		if err != nil {
			return errors.Wrap(errors.ConfigurationInvalid, err, "invalid schema quota %v: %v", p, err)
		}
		*q = append(*q, sq)
	}
	return nil
}

// Database is the JSON form of hostel.Database.
type Database struct {
	Path              string       `json:"path"`
	Cluster           string       `json:"cluster,omitempty"`
	Hostel            string       `json:"hostel,omitempty"`
	SchemaQuotas      SchemaQuotas `json:"schema_quotas,omitempty"`
	StorageQuotaBytes int64        `json:"storage_quota_bytes,omitempty"`
	StorageBilling    bool         `json:"storage_billing,omitempty"`
}

func toJSON(d *hostel.Database) Database {
	r := Database{
		Path:           d.Path,
		Cluster:        d.Cluster,
		Hostel:         d.Hostel,
		SchemaQuotas:   d.SchemaQuotas,
		StorageBilling: d.StorageBilling,
	}
	if d.StorageQuota != nil {
		r.StorageQuotaBytes = d.StorageQuota.LimitBytes
	}
	return r
}

func (d Database) database() *hostel.Database {
	r := &hostel.Database{
		Path:           d.Path,
		Cluster:        d.Cluster,
		Hostel:         d.Hostel,
		SchemaQuotas:   d.SchemaQuotas,
		StorageBilling: d.StorageBilling,
	}
	if d.StorageQuotaBytes > 0 {
		r.StorageQuota = &hostel.StorageQuota{LimitBytes: d.StorageQuotaBytes}
	}
	return r
}

// Status is the JSON form of admin.Status.
type Status struct {
	Database              Database              `json:"database"`
	SchemaOperationQuotas SchemaOperationQuotas `json:"schema_operation_quotas"`
	Storage               Storage               `json:"storage"`
}

// SchemaOperationQuotas reports the schema operation buckets of a database.
type SchemaOperationQuotas struct {
	LeakyBucketQuotas []Bucket `json:"leaky_bucket_quotas"`
}

// Bucket is the JSON form of quota.Bucket.
type Bucket struct {
	BucketSize    int64     `json:"bucket_size"`
	BucketSeconds int64     `json:"bucket_seconds"`
	Consumed      int64     `json:"consumed"`
	WindowStart   time.Time `json:"window_start"`
}

// Storage reports the storage accounting of a database.
type Storage struct {
	UsageBytes        int64  `json:"usage_bytes"`
	LimitBytes        int64  `json:"limit_bytes,omitempty"`
	State             string `json:"state"`
	DiskQuotaExceeded bool   `json:"disk_quota_exceeded"`
}

func toStatusJSON(s *admin.Status) Status {
	buckets := make([]Bucket, 0, len(s.Buckets.Buckets))
	for _, b := range s.Buckets.Buckets {
		buckets = append(buckets, Bucket{
			BucketSize:    b.Capacity,
			BucketSeconds: int64(b.Window / time.Second),
			Consumed:      b.Consumed,
			WindowStart:   b.WindowStart,
		})
	}
	return Status{
		Database:              toJSON(s.Database),
		SchemaOperationQuotas: SchemaOperationQuotas{LeakyBucketQuotas: buckets},
		Storage: Storage{
			UsageBytes:        s.Storage.Bytes,
			LimitBytes:        s.Storage.LimitBytes,
			State:             s.Storage.State.String(),
			DiskQuotaExceeded: s.Storage.State == hostel.Exceeded,
		},
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code              string  `json:"code"`
	Message           string  `json:"message"`
	RetryAfterSeconds float64 `json:"retry_after_seconds,omitempty"`
}

// HTTPStatus returns the HTTP status for an error carrying the gRPC code c.
func HTTPStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Canceled:
		return 499
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Warningf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	c := errors.KindOf(err).Code()
	if errors.KindOf(err) == errors.Unknown {
		klog.Errorf("Request failed: %v", err)
	}
	resp := ErrorResponse{Code: c.String(), Message: err.Error()}
	if d := errors.RetryDelayOf(err); d > 0 {
		resp.RetryAfterSeconds = d.Seconds()
		w.Header().Set("Retry-After", strconv.Itoa(int((d+time.Second-1)/time.Second)))
	}
	writeJSON(w, HTTPStatus(c), resp)
}

func badRequest(format string, args ...interface{}) error {
	return errors.Errorf(errors.ConfigurationInvalid, format, args...)
}

func database(r *http.Request) (string, error) {
	db := r.URL.Query().Get("database")
	if db == "" {
		return "", badRequest("missing database parameter")
	}
	return db, nil
}

func intParam(r *http.Request, name string) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s parameter %q", name, s)
	}
	return v, nil
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ConfigurationInvalid, err, "invalid request body: %v", err)
	}
	return nil
}

func (a *API) listDatabases(w http.ResponseWriter, r *http.Request) {
	dbs := a.Admin.ListDatabases(r.Context(), r.URL.Query().Get("prefix"))
	resp := struct {
		Databases []Database `json:"databases"`
	}{Databases: make([]Database, 0, len(dbs))}
	for _, d := range dbs {
		resp.Databases = append(resp.Databases, toJSON(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) createDatabase(w http.ResponseWriter, r *http.Request) {
	var req Database
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := a.Admin.CreateDatabase(r.Context(), req.database())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJSON(d))
}

func (a *API) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err == nil {
		err = a.Admin.DeleteDatabase(r.Context(), db)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := a.Admin.Status(r.Context(), db)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusJSON(st))
}

func (a *API) alterSchemaQuotas(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SchemaQuotas SchemaQuotas `json:"schema_quotas"`
	}
	db, err := database(r)
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := a.Admin.AlterSchemaQuotas(r.Context(), db, req.SchemaQuotas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(d))
}

func (a *API) setStorageQuota(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LimitBytes int64 `json:"limit_bytes"`
	}
	db, err := database(r)
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := a.Admin.SetStorageQuota(r.Context(), db, req.LimitBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(d))
}

func (a *API) setStorageBilling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	db, err := database(r)
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := a.Admin.SetStorageBilling(r.Context(), db, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(d))
}

// Admission is the body of a successful admission.
type Admission struct {
	Admitted bool `json:"admitted"`
}

// admitSchema admits and commits one schema operation: the caller is expected
// to dispatch it right away.
func (a *API) admitSchema(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	op := r.URL.Query().Get("operation")
	var res *quota.Reservation
	if res, err = a.Gate.AdmitSchema(r.Context(), db, op); err != nil {
		writeError(w, err)
		return
	}
	res.Commit()
	writeJSON(w, http.StatusOK, Admission{Admitted: true})
}

func (a *API) admitWrite(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	kind := diskquota.DML
	if s := r.URL.Query().Get("kind"); s != "" {
		if kind, err = diskquota.ParseWriteKind(s); err != nil {
			writeError(w, err)
			return
		}
	}
	bytes, err := intParam(r, "bytes")
	if err == nil {
		err = a.Gate.AdmitWrite(r.Context(), db, kind, bytes)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Admission{Admitted: true})
}

func (a *API) recordUsage(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	delta, err := intParam(r, "delta_bytes")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.Admin.GetDatabase(r.Context(), db); err != nil {
		writeError(w, err)
		return
	}
	a.Gate.RecordUsage(db, delta)
	w.WriteHeader(http.StatusNoContent)
}

// discover writes the endpoints of the database, or null if they cannot be
// resolved.
func (a *API) discover(w http.ResponseWriter, r *http.Request) {
	db, err := database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eps, ok := a.Resolver.Resolve(r.Context(), db)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, eps.Sorted())
}
