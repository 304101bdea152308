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

package query

import (
	"context"
	"errors"
	"strconv"

	"github.com/AlekSi/pointer"

	"github.com/FerretDB/dbtx/internal/backends"
)

// Update builds UPDATE statements.
//
// Parameters are ordered as SET values (without Now sentinels) followed by WHERE values,
// each in the order they were added.
type Update struct {
	d     backends.Dialect
	table string
	sets  []predicate
	where []predicate
}

// NewUpdate returns a new UPDATE builder for the given table.
func NewUpdate(d backends.Dialect, table string) *Update {
	return &Update{d: d, table: table}
}

// Set adds a column assignment.
func (q *Update) Set(column string, v backends.Value) *Update {
	q.sets = append(q.sets, predicate{column: column, op: opEq, v: v})
	return q
}

// SetNow assigns the current timestamp to the column.
func (q *Update) SetNow(column string) *Update {
	return q.Set(column, backends.Now())
}

// WhereEq adds a `column = value` predicate.
func (q *Update) WhereEq(column string, v backends.Value) *Update {
	q.where = append(q.where, predicate{column: column, op: opEq, v: v})
	return q
}

// Build returns SQL text and parameters.
func (q *Update) Build() (string, []backends.Value) {
	b := &sqlBuilder{t: q.d.Type()}

	b.write("UPDATE ")
	b.ident(q.table)
	b.write(" SET ")

	for i, s := range q.sets {
		if i > 0 {
			b.write(", ")
		}

		b.ident(s.column)
		b.write(" = ")
		b.value(s.v)
	}

	b.where(q.where)

	return b.build()
}

// Execute builds and executes the statement.
func (q *Update) Execute(ctx context.Context, qr backends.Querier) (*backends.QueryResult, error) {
	sql, params := q.Build()
	return qr.Execute(ctx, sql, params)
}

// Select builds SELECT statements.
type Select struct {
	d       backends.Dialect
	columns []string
	table   string
	where   []predicate
	limit   *int64
}

// NewSelect returns a new SELECT builder that selects all columns.
func NewSelect(d backends.Dialect) *Select {
	return &Select{d: d}
}

// Columns sets selected columns.
func (q *Select) Columns(columns ...string) *Select {
	q.columns = columns
	return q
}

// From sets the table.
func (q *Select) From(table string) *Select {
	q.table = table
	return q
}

// WhereEq adds a `column = value` predicate.
func (q *Select) WhereEq(column string, v backends.Value) *Select {
	q.where = append(q.where, predicate{column: column, op: opEq, v: v})
	return q
}

// Limit sets the maximum number of rows.
func (q *Select) Limit(n int64) *Select {
	q.limit = pointer.ToInt64(n)
	return q
}

// Build returns SQL text and parameters.
func (q *Select) Build() (string, []backends.Value) {
	b := &sqlBuilder{t: q.d.Type()}
	q.writeTo(b, false)

	return b.build()
}

// writeTo appends the statement to b, numbering parameters after those already in b.
// If alwaysWhere is true, an empty WHERE clause is rendered as WHERE true.
func (q *Select) writeTo(b *sqlBuilder, alwaysWhere bool) {
	b.write("SELECT ")

	if len(q.columns) == 0 {
		b.write("*")
	} else {
		b.idents(q.columns)
	}

	if q.table != "" {
		b.write(" FROM ")
		b.ident(q.table)
	}

	b.where(q.where)

	if alwaysWhere && len(q.where) == 0 {
		b.write(" WHERE true")
	}

	if q.limit != nil {
		b.write(" LIMIT ", strconv.FormatInt(pointer.GetInt64(q.limit), 10))
	}
}

// FetchAll builds the statement and returns all rows.
func (q *Select) FetchAll(ctx context.Context, qr backends.Querier) ([]*backends.Row, error) {
	sql, params := q.Build()
	return qr.FetchAll(ctx, sql, params)
}

// FetchOne builds the statement and returns the first row.
func (q *Select) FetchOne(ctx context.Context, qr backends.Querier) (*backends.Row, error) {
	sql, params := q.Build()
	return qr.FetchOne(ctx, sql, params)
}

// Delete builds DELETE statements.
type Delete struct {
	d     backends.Dialect
	table string
	where []predicate
}

// NewDelete returns a new DELETE builder for the given table.
func NewDelete(d backends.Dialect, table string) *Delete {
	return &Delete{d: d, table: table}
}

// WhereEq adds a `column = value` predicate.
func (q *Delete) WhereEq(column string, v backends.Value) *Delete {
	q.where = append(q.where, predicate{column: column, op: opEq, v: v})
	return q
}

// WhereIn adds one `column IN (value)` predicate per value.
//
// Predicates are joined with AND like all others,
// so more than one distinct value never matches a single-valued column.
// Existing callers depend on that.
func (q *Delete) WhereIn(column string, values ...backends.Value) *Delete {
	for _, v := range values {
		q.where = append(q.where, predicate{column: column, op: opIn, v: v})
	}

	return q
}

// Build returns SQL text and parameters.
func (q *Delete) Build() (string, []backends.Value) {
	b := &sqlBuilder{t: q.d.Type()}

	b.write("DELETE FROM ")
	b.ident(q.table)
	b.where(q.where)

	return b.build()
}

// Execute builds and executes the statement.
func (q *Delete) Execute(ctx context.Context, qr backends.Querier) (*backends.QueryResult, error) {
	sql, params := q.Build()
	return qr.Execute(ctx, sql, params)
}

// Analyze builds statements that collect planner statistics.
type Analyze struct {
	d       backends.Dialect
	table   string
	columns []string
	verbose bool
}

// NewAnalyze returns a new ANALYZE builder for the whole database.
func NewAnalyze(d backends.Dialect) *Analyze {
	return &Analyze{d: d}
}

// Table limits analysis to the given table.
func (q *Analyze) Table(table string) *Analyze {
	q.table = table
	return q
}

// Columns limits analysis to the given columns (PostgreSQL only).
func (q *Analyze) Columns(columns ...string) *Analyze {
	q.columns = columns
	return q
}

// Verbose enables progress messages (PostgreSQL only).
func (q *Analyze) Verbose(verbose bool) *Analyze {
	q.verbose = verbose
	return q
}

// Build returns SQL text.
//
// MySQL requires a table.
func (q *Analyze) Build() (string, error) {
	t := q.d.Type()
	b := &sqlBuilder{t: t}

	switch t {
	case backends.Postgres:
		b.write("ANALYZE")

		if q.verbose {
			b.write(" VERBOSE")
		}

		if q.table != "" {
			b.write(" ")
			b.ident(q.table)

			if len(q.columns) > 0 {
				b.write(" (")
				b.idents(q.columns)
				b.write(")")
			}
		}

	case backends.MySQL:
		if q.table == "" {
			return "", backends.NewError(backends.ErrorKindNotSupported, errors.New("MySQL ANALYZE requires a table"))
		}

		b.write("ANALYZE TABLE ")
		b.ident(q.table)

	case backends.SQLite:
		b.write("ANALYZE")

		if q.table != "" {
			b.write(" ")
			b.ident(q.table)
		}
	}

	sql, _ := b.build()

	return sql, nil
}

// Execute builds and executes the statement.
func (q *Analyze) Execute(ctx context.Context, qr backends.Querier) (*backends.QueryResult, error) {
	sql, err := q.Build()
	if err != nil {
		return nil, err
	}

	return qr.Execute(ctx, sql, nil)
}
