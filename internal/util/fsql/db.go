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

// Package fsql provides [database/sql] utilities.
package fsql

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/observability"
	"github.com/FerretDB/dbtx/internal/util/resource"
)

// DB wraps [*database/sql.DB] with tracing, metrics, logging, and resource tracking.
//
// It exposes the subset of *sql.DB methods we use.
// It also exposes additional methods.
type DB struct {
	*metricsCollector

	sqlDB *sql.DB
	l     *zap.Logger
	token *resource.Token
}

// WrapDB creates a new DB.
//
// Name is used for metric label values, etc.
// Logger (that will be named) is used for query logging.
func WrapDB(db *sql.DB, name string, l *zap.Logger) *DB {
	if db == nil {
		return nil
	}

	res := &DB{
		metricsCollector: newMetricsCollector(name, db.Stats),
		sqlDB:            db,
		l:                l.Named(name),
		token:            resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Close calls [*sql.DB.Close].
func (db *DB) Close() error {
	resource.Untrack(db, db.token)
	return db.sqlDB.Close()
}

// PingContext calls [*sql.DB.PingContext].
func (db *DB) PingContext(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	return db.sqlDB.PingContext(ctx)
}

// SetMaxOpenConns calls [*sql.DB.SetMaxOpenConns].
func (db *DB) SetMaxOpenConns(n int) {
	db.sqlDB.SetMaxOpenConns(n)
}

// QueryContext calls [*sql.DB.QueryContext].
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return logQuery(ctx, db.l, db.sqlDB, query, args)
}

// ExecContext calls [*sql.DB.ExecContext].
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return logExec(ctx, db.l, db.sqlDB, query, args)
}

// BeginTx starts a new transaction on any free connection.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	sqlTx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return wrapTx(sqlTx, db.l), nil
}

// Conn returns a single dedicated connection.
//
// Session state (prepared statements, XA branches, variables) survives between calls on it.
// Conn must be closed to return the connection to the database/sql pool.
func (db *DB) Conn(ctx context.Context) (*Conn, error) {
	defer observability.FuncCall(ctx)()

	sqlConn, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	return wrapConn(sqlConn, db.l), nil
}

// InTransaction wraps the given function f in a transaction.
//
// If f returns an error or context is canceled, the transaction is rolled back.
func (db *DB) InTransaction(ctx context.Context, f func(*Tx) error) (err error) {
	defer observability.FuncCall(ctx)()

	var tx *Tx

	if tx, err = db.BeginTx(ctx); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	var done bool

	defer func() {
		// f may call runtime.Goexit (via testify/require) or panic,
		// leaving err unset; done handles both
		if done {
			return
		}

		if err == nil {
			err = lazyerrors.Errorf("transaction was not committed")
		}

		_ = tx.Rollback()
	}()

	if err = f(tx); err != nil {
		// do not wrap f's error because the caller depends on it in some cases
		return
	}

	if err = tx.Commit(); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	done = true

	return
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
)
