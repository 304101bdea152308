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

package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FerretDB/dbtx/internal/backends"
)

// pgxQuerier is implemented by [*pgxpool.Pool], [*pgxpool.Conn] and [pgx.Tx].
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// querier implements [backends.Querier] on top of pgx.
type querier struct {
	q pgxQuerier
}

// Execute implements [backends.Querier].
func (q *querier) Execute(ctx context.Context, sql string, params []backends.Value) (*backends.QueryResult, error) {
	args, err := backends.Args(backends.Postgres, params)
	if err != nil {
		return nil, err
	}

	tag, err := q.q.Exec(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}

	return &backends.QueryResult{RowsAffected: tag.RowsAffected()}, nil
}

// FetchOne implements [backends.Querier].
func (q *querier) FetchOne(ctx context.Context, sql string, params []backends.Value) (*backends.Row, error) {
	row, err := q.FetchOptional(ctx, sql, params)
	if err != nil {
		return nil, err
	}

	if row == nil {
		return nil, backends.NewError(backends.ErrorKindNotFound, pgx.ErrNoRows)
	}

	return row, nil
}

// FetchOptional implements [backends.Querier].
func (q *querier) FetchOptional(ctx context.Context, sql string, params []backends.Value) (*backends.Row, error) {
	rows, err := q.fetch(ctx, sql, params, 1)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0], nil
}

// FetchAll implements [backends.Querier].
func (q *querier) FetchAll(ctx context.Context, sql string, params []backends.Value) ([]*backends.Row, error) {
	return q.fetch(ctx, sql, params, 0)
}

// fetch runs the query and collects up to limit rows (all rows if limit is 0).
func (q *querier) fetch(ctx context.Context, sql string, params []backends.Value, limit int) ([]*backends.Row, error) {
	args, err := backends.Args(backends.Postgres, params)
	if err != nil {
		return nil, err
	}

	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}

	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))

	for i, f := range fields {
		columns[i] = f.Name
	}

	var res []*backends.Row

	for rows.Next() {
		var values []any
		if values, err = rows.Values(); err != nil {
			return nil, classify(err)
		}

		res = append(res, &backends.Row{Columns: columns, Values: values})

		if limit > 0 && len(res) == limit {
			break
		}
	}

	// Close before Err so that errors of partially read results are reported
	rows.Close()

	if err = rows.Err(); err != nil {
		return nil, classify(err)
	}

	return res, nil
}

// classify converts pgx errors into backend errors.
func classify(err error) *backends.Error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		var connectErr *pgconn.ConnectError

		switch {
		case errors.As(err, &connectErr),
			pgconn.Timeout(err),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return backends.NewError(backends.ErrorKindConnection, err)
		default:
			return backends.NewError(backends.ErrorKindQuery, err)
		}
	}

	switch code := pgErr.Code; {
	case code == pgerrcode.SerializationFailure:
		return backends.NewError(backends.ErrorKindSerializationConflict, err)
	case pgerrcode.IsIntegrityConstraintViolation(code):
		return backends.NewError(backends.ErrorKindConstraint, err)
	case code == pgerrcode.SyntaxError:
		return backends.NewError(backends.ErrorKindSyntax, err)
	case code == pgerrcode.FeatureNotSupported:
		return backends.NewError(backends.ErrorKindNotSupported, err)
	case pgerrcode.IsConnectionException(code), pgerrcode.IsInsufficientResources(code), pgerrcode.IsOperatorIntervention(code):
		return backends.NewError(backends.ErrorKindConnection, err)
	default:
		return backends.NewError(backends.ErrorKindQuery, err)
	}
}

// check interfaces
var (
	_ backends.Querier = (*querier)(nil)
)
