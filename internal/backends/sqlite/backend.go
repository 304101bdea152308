// Copyright 2021 FerretDB Inc.
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

// Package sqlite provides SQLite backend.
//
// # Design principles
//
//  1. Connection URI is passed to modernc.org/sqlite as is; in-memory databases should use shared cache
//     so that all pooled connections see the same data.
//  2. Booleans are stored as integers, current timestamp is CURRENT_TIMESTAMP.
//  3. SQLITE_BUSY and SQLITE_LOCKED are query errors, not serialization conflicts.
//  4. Distributed transactions are not supported.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/backends/sqlbackend"
	"github.com/FerretDB/dbtx/internal/util/fsql"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/state"
)

// backend implements backends.Backend interface.
type backend struct {
	*sqlbackend.DB
}

// NewBackendParams represents the parameters of NewBackend function.
//
//nolint:vet // for readability
type NewBackendParams struct {
	URI string
	L   *zap.Logger
	P   *state.Provider
}

// NewBackend creates a new SQLite backend.
func NewBackend(params *NewBackendParams) (backends.Backend, error) {
	b, err := newBackend(params)
	if err != nil {
		return nil, err
	}

	return backends.BackendContract(b), nil
}

// newBackend creates a new unwrapped backend.
func newBackend(params *NewBackendParams) (*backend, error) {
	if _, err := url.Parse(params.URI); err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB, err := sql.Open("sqlite", params.URI)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	if err = sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, classify(err)
	}

	db := fsql.WrapDB(sqlDB, "sqlite", params.L)

	b := &backend{
		DB: sqlbackend.NewDB(db, backends.SQLite, classify),
	}

	if params.P != nil {
		v, err := b.ServerVersion(context.Background())
		if err != nil {
			params.L.Error("Failed to query SQLite version", zap.Error(err))
		}

		if err = params.P.Update(func(s *state.State) {
			s.Backend = backends.SQLite.String()
			s.BackendVersion = v
		}); err != nil {
			params.L.Error("Failed to update state", zap.Error(err))
		}
	}

	return b, nil
}

// Type implements backends.Dialect.
func (b *backend) Type() backends.DatabaseType {
	return backends.SQLite
}

// SupportsReturning implements backends.Dialect.
func (b *backend) SupportsReturning() bool {
	return true
}

// SupportsOnConflict implements backends.Dialect.
func (b *backend) SupportsOnConflict() bool {
	return true
}

// ServerVersion implements backends.Backend.
func (b *backend) ServerVersion(ctx context.Context) (string, error) {
	row, err := b.FetchOne(ctx, "SELECT sqlite_version()", nil)
	if err != nil {
		return "", err
	}

	v, _ := row.Values[0].(string)

	return v, nil
}

// Describe implements prometheus.Collector.
func (b *backend) Describe(ch chan<- *prometheus.Desc) {
	b.FSQL().Describe(ch)
}

// Collect implements prometheus.Collector.
func (b *backend) Collect(ch chan<- prometheus.Metric) {
	b.FSQL().Collect(ch)
}

// classify converts SQLite errors into backend errors.
func classify(err error) *backends.Error {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
			return backends.NewError(backends.ErrorKindConnection, err)
		}

		return backends.NewError(backends.ErrorKindQuery, err)
	}

	// extended result codes keep the primary code in the lowest byte
	switch e.Code() & 0xff {
	case sqlitelib.SQLITE_CONSTRAINT:
		return backends.NewError(backends.ErrorKindConstraint, err)
	case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
		// lock contention is not a serialization conflict and is not retried
		return backends.NewError(backends.ErrorKindQuery, err)
	case sqlitelib.SQLITE_CANTOPEN, sqlitelib.SQLITE_IOERR, sqlitelib.SQLITE_NOTADB:
		return backends.NewError(backends.ErrorKindConnection, err)
	case sqlitelib.SQLITE_ERROR:
		if strings.Contains(e.Error(), "syntax error") {
			return backends.NewError(backends.ErrorKindSyntax, err)
		}
	}

	return backends.NewError(backends.ErrorKindQuery, err)
}

// check interfaces
var (
	_ backends.Backend     = (*backend)(nil)
	_ prometheus.Collector = (*backend)(nil)
)
