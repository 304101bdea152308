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

// Package sqlbackend provides common code for backends built on top of [database/sql].
//
// It is used by MySQL and SQLite backends.
package sqlbackend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/fsql"
)

// ClassifyFunc converts a driver error into *backends.Error.
type ClassifyFunc func(err error) *backends.Error

// sqlQuerier is implemented by [*fsql.DB], [*fsql.Conn] and [*fsql.Tx].
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier implements [backends.Querier] on top of sqlQuerier.
type querier struct {
	q        sqlQuerier
	t        backends.DatabaseType
	classify ClassifyFunc
}

// Execute implements [backends.Querier].
func (q *querier) Execute(ctx context.Context, query string, params []backends.Value) (*backends.QueryResult, error) {
	args, err := backends.Args(q.t, params)
	if err != nil {
		return nil, err
	}

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, q.classify(err)
	}

	// some drivers and statements do not report affected rows
	ra, _ := res.RowsAffected()

	return &backends.QueryResult{RowsAffected: ra}, nil
}

// FetchOne implements [backends.Querier].
func (q *querier) FetchOne(ctx context.Context, query string, params []backends.Value) (*backends.Row, error) {
	row, err := q.FetchOptional(ctx, query, params)
	if err != nil {
		return nil, err
	}

	if row == nil {
		return nil, backends.NewError(backends.ErrorKindNotFound, sql.ErrNoRows)
	}

	return row, nil
}

// FetchOptional implements [backends.Querier].
func (q *querier) FetchOptional(ctx context.Context, query string, params []backends.Value) (*backends.Row, error) {
	rows, err := q.fetch(ctx, query, params, 1)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0], nil
}

// FetchAll implements [backends.Querier].
func (q *querier) FetchAll(ctx context.Context, query string, params []backends.Value) ([]*backends.Row, error) {
	return q.fetch(ctx, query, params, 0)
}

// fetch runs the query and scans up to limit rows (all rows if limit is 0).
func (q *querier) fetch(ctx context.Context, query string, params []backends.Value, limit int) ([]*backends.Row, error) {
	args, err := backends.Args(q.t, params)
	if err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, q.classify(err)
	}

	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, q.classify(err)
	}

	var res []*backends.Row

	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))

		for i := range values {
			dest[i] = &values[i]
		}

		if err = rows.Scan(dest...); err != nil {
			return nil, q.classify(err)
		}

		res = append(res, &backends.Row{Columns: columns, Values: values})

		if limit > 0 && len(res) == limit {
			break
		}
	}

	if err = rows.Err(); err != nil {
		return nil, q.classify(err)
	}

	return res, nil
}

// Tx implements [backends.Tx].
type Tx struct {
	*querier
	tx *fsql.Tx
}

// Commit implements [backends.Tx].
func (tx *Tx) Commit(context.Context) error {
	if err := tx.tx.Commit(); err != nil {
		return tx.classify(err)
	}

	return nil
}

// Rollback implements [backends.Tx].
func (tx *Tx) Rollback(context.Context) error {
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return tx.classify(err)
	}

	return nil
}

// Conn implements [backends.Conn].
type Conn struct {
	*querier
	c *fsql.Conn
}

// Begin implements [backends.Conn].
func (c *Conn) Begin(ctx context.Context) (backends.Tx, error) {
	tx, err := c.c.BeginTx(ctx)
	if err != nil {
		return nil, c.classify(err)
	}

	return &Tx{
		querier: &querier{q: tx, t: c.t, classify: c.classify},
		tx:      tx,
	}, nil
}

// Close implements [backends.Conn].
func (c *Conn) Close() error {
	if err := c.c.Close(); err != nil {
		return c.classify(err)
	}

	return nil
}

// DB implements common [backends.Backend] methods on top of [*fsql.DB].
//
// Dialect and ServerVersion are left to the concrete backend.
type DB struct {
	*querier
	db *fsql.DB
}

// NewDB creates a new DB.
func NewDB(db *fsql.DB, t backends.DatabaseType, classify ClassifyFunc) *DB {
	return &DB{
		querier: &querier{q: db, t: t, classify: classify},
		db:      db,
	}
}

// FSQL returns the underlying database wrapper.
func (db *DB) FSQL() *fsql.DB {
	return db.db
}

// Begin implements [backends.Backend].
func (db *DB) Begin(ctx context.Context) (backends.Tx, error) {
	tx, err := db.db.BeginTx(ctx)
	if err != nil {
		return nil, db.classify(err)
	}

	return &Tx{
		querier: &querier{q: tx, t: db.t, classify: db.classify},
		tx:      tx,
	}, nil
}

// Conn implements [backends.Backend].
func (db *DB) Conn(ctx context.Context) (backends.Conn, error) {
	c, err := db.db.Conn(ctx)
	if err != nil {
		return nil, db.classify(err)
	}

	return &Conn{
		querier: &querier{q: c, t: db.t, classify: db.classify},
		c:       c,
	}, nil
}

// Close closes the database.
func (db *DB) Close() {
	_ = db.db.Close()
}

// check interfaces
var (
	_ backends.Querier = (*querier)(nil)
	_ backends.Tx      = (*Tx)(nil)
	_ backends.Conn    = (*Conn)(nil)
)
