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

// Package mysql provides MySQL backend.
//
// # Design principles
//
//  1. RETURNING is not supported; upserts use INSERT IGNORE and ON DUPLICATE KEY UPDATE.
//  2. Booleans are sent as integers, current timestamp is NOW().
//  3. XA statements must be issued on a dedicated connection (see [backends.Conn]).
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/backends/sqlbackend"
	"github.com/FerretDB/dbtx/internal/util/fsql"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/state"
)

// MySQL server error numbers.
//
// See https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html.
const (
	errDuplicateEntry       = 1062
	errBadNull              = 1048
	errRowIsReferenced      = 1451
	errNoReferencedRow      = 1452
	errCheckConstraint      = 3819
	errLockWaitTimeout      = 1205
	errLockDeadlock         = 1213
	errParse                = 1064
	errXAERNotA             = 1397
	errXAEROutside          = 1400
	errXAERRMFail           = 1399
	errServerShutdown       = 1053
	errTooManyConnections   = 1040
	errAccessDenied         = 1045
	errNotSupportedYet      = 1235
	errFeatureDisabled      = 1289
	errUnknownSystemVariant = 1193
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

// NewBackend creates a new MySQL backend.
func NewBackend(params *NewBackendParams) (backends.Backend, error) {
	cfg, err := parseURI(params.URI)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB := sql.OpenDB(connector)

	if err = sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, classify(err)
	}

	b := &backend{
		DB: sqlbackend.NewDB(fsql.WrapDB(sqlDB, "mysql", params.L), backends.MySQL, classify),
	}

	if params.P != nil {
		v, err := b.ServerVersion(context.Background())
		if err != nil {
			params.L.Error("Failed to query MySQL version", zap.Error(err))
		}

		if err = params.P.Update(func(s *state.State) {
			s.Backend = backends.MySQL.String()
			s.BackendVersion = v
		}); err != nil {
			params.L.Error("Failed to update state", zap.Error(err))
		}
	}

	return backends.BackendContract(b), nil
}

// Type implements backends.Dialect.
func (b *backend) Type() backends.DatabaseType {
	return backends.MySQL
}

// SupportsReturning implements backends.Dialect.
func (b *backend) SupportsReturning() bool {
	return false
}

// SupportsOnConflict implements backends.Dialect.
func (b *backend) SupportsOnConflict() bool {
	return true
}

// ServerVersion implements backends.Backend.
func (b *backend) ServerVersion(ctx context.Context) (string, error) {
	row, err := b.FetchOne(ctx, "SELECT VERSION()", nil)
	if err != nil {
		return "", err
	}

	switch v := row.Values[0].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", backends.NewError(backends.ErrorKindQuery, lazyerrors.Errorf("unexpected version type %T", v))
	}
}

// Describe implements prometheus.Collector.
func (b *backend) Describe(ch chan<- *prometheus.Desc) {
	b.FSQL().Describe(ch)
}

// Collect implements prometheus.Collector.
func (b *backend) Collect(ch chan<- prometheus.Metric) {
	b.FSQL().Collect(ch)
}

// classify converts MySQL errors into backend errors.
func classify(err error) *backends.Error {
	var e *mysql.MySQLError
	if !errors.As(err, &e) {
		switch {
		case errors.Is(err, driver.ErrBadConn),
			errors.Is(err, mysql.ErrInvalidConn),
			errors.Is(err, sql.ErrConnDone),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return backends.NewError(backends.ErrorKindConnection, err)
		default:
			return backends.NewError(backends.ErrorKindQuery, err)
		}
	}

	switch e.Number {
	case errDuplicateEntry, errBadNull, errRowIsReferenced, errNoReferencedRow, errCheckConstraint:
		return backends.NewError(backends.ErrorKindConstraint, err)
	case errLockDeadlock:
		// SQLSTATE 40001
		return backends.NewError(backends.ErrorKindSerializationConflict, err)
	case errLockWaitTimeout:
		return backends.NewError(backends.ErrorKindQuery, err)
	case errParse:
		return backends.NewError(backends.ErrorKindSyntax, err)
	case errServerShutdown, errTooManyConnections, errAccessDenied:
		return backends.NewError(backends.ErrorKindConnection, err)
	case errNotSupportedYet, errFeatureDisabled, errUnknownSystemVariant:
		return backends.NewError(backends.ErrorKindNotSupported, err)
	case errXAERNotA, errXAEROutside, errXAERRMFail:
		// XA protocol violations are never retried
		return backends.NewError(backends.ErrorKindQuery, err)
	default:
		return backends.NewError(backends.ErrorKindQuery, err)
	}
}

// check interfaces
var (
	_ backends.Backend     = (*backend)(nil)
	_ prometheus.Collector = (*backend)(nil)
)
