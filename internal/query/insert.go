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
	"fmt"

	"github.com/FerretDB/dbtx/internal/backends"
)

// conflictTarget is the kind of ON CONFLICT target.
type conflictTarget int

const (
	targetNone conflictTarget = iota
	targetColumns
	targetConstraint
)

// OnConflictClause describes how INSERT handles unique constraint violations.
//
// PostgreSQL renders it as ON CONFLICT, MySQL as INSERT IGNORE or ON DUPLICATE KEY UPDATE,
// and SQLite as INSERT OR IGNORE or ON CONFLICT ... DO UPDATE.
type OnConflictClause struct {
	target     conflictTarget
	columns    []string
	constraint string
	doUpdate   bool
	update     []string
	where      string
}

// OnConflictColumns returns a clause targeting the given columns with DO NOTHING action.
func OnConflictColumns(columns ...string) *OnConflictClause {
	if columns == nil {
		columns = []string{}
	}

	return &OnConflictClause{target: targetColumns, columns: columns}
}

// OnConflictConstraint returns a clause targeting the named constraint with DO NOTHING action.
//
// Only PostgreSQL supports it; MySQL ignores the target, and SQLite rejects DO UPDATE with it.
func OnConflictConstraint(name string) *OnConflictClause {
	return &OnConflictClause{target: targetConstraint, constraint: name}
}

// OnConflictAny returns a clause matching any unique constraint violation with DO NOTHING action.
func OnConflictAny() *OnConflictClause {
	return &OnConflictClause{target: targetNone}
}

// DoNothing sets the DO NOTHING action.
func (c *OnConflictClause) DoNothing() *OnConflictClause {
	c.doUpdate = false
	c.update = nil

	return c
}

// DoUpdate sets the DO UPDATE action that copies the given columns from the rejected row.
func (c *OnConflictClause) DoUpdate(columns ...string) *OnConflictClause {
	c.doUpdate = true
	c.update = columns

	return c
}

// Where sets a raw SQL condition for DO UPDATE. MySQL ignores it.
func (c *OnConflictClause) Where(condition string) *OnConflictClause {
	c.where = condition
	return c
}

// Insert builds INSERT statements.
type Insert struct {
	d         backends.Dialect
	table     string
	columns   []string
	values    []backends.Value
	returning []string
	clause    *OnConflictClause
	legacy    *OnConflictClause

	// INSERT ... SELECT
	from        *Select
	fromColumns []string
}

// NewInsert returns a new INSERT builder for the given table.
func NewInsert(d backends.Dialect, table string) *Insert {
	return &Insert{d: d, table: table}
}

// Value adds a column value.
func (q *Insert) Value(column string, v backends.Value) *Insert {
	q.columns = append(q.columns, column)
	q.values = append(q.values, v)

	return q
}

// FromSelect makes the statement insert rows returned by s into the given columns
// instead of values added with Value.
// Empty columns means all table columns in order.
func (q *Insert) FromSelect(columns []string, s *Select) *Insert {
	q.fromColumns = columns
	q.from = s

	return q
}

// Returning sets RETURNING columns.
//
// The clause is silently dropped if the dialect does not support it.
func (q *Insert) Returning(columns ...string) *Insert {
	q.returning = columns
	return q
}

// OnConflict sets the conflict handling clause.
//
// It takes precedence over OnConflictDoNothing and OnConflictDoUpdate.
func (q *Insert) OnConflict(c *OnConflictClause) *Insert {
	q.clause = c
	return q
}

// OnConflictDoNothing ignores conflicting rows.
// Without columns, any unique constraint violation matches.
func (q *Insert) OnConflictDoNothing(conflictColumns ...string) *Insert {
	if len(conflictColumns) == 0 {
		q.legacy = OnConflictAny()
	} else {
		q.legacy = OnConflictColumns(conflictColumns...)
	}

	return q
}

// OnConflictDoUpdate updates updateColumns of conflicting rows.
// Nil conflictColumns means no conflict target.
func (q *Insert) OnConflictDoUpdate(conflictColumns, updateColumns []string) *Insert {
	if conflictColumns == nil {
		q.legacy = OnConflictAny().DoUpdate(updateColumns...)
	} else {
		q.legacy = OnConflictColumns(conflictColumns...).DoUpdate(updateColumns...)
	}

	return q
}

// Build returns SQL text and parameters.
//
// Invalid conflict clauses are reported as *backends.Error
// with ErrorKindSyntax or ErrorKindNotSupported.
func (q *Insert) Build() (string, []backends.Value, error) {
	t := q.d.Type()
	b := &sqlBuilder{t: t}

	if q.from != nil && len(q.values) > 0 {
		return "", nil, backends.NewError(backends.ErrorKindSyntax, errors.New("INSERT can't have both VALUES and SELECT"))
	}

	c := q.clause
	if c == nil {
		c = q.legacy
	}

	if !q.d.SupportsOnConflict() {
		c = nil
	}

	var tail string

	if c != nil {
		var err error
		if tail, err = q.conflictTail(t, c); err != nil {
			return "", nil, err
		}
	}

	switch {
	case c != nil && !c.doUpdate && t == backends.MySQL:
		b.write("INSERT IGNORE INTO ")
	case c != nil && !c.doUpdate && t == backends.SQLite:
		b.write("INSERT OR IGNORE INTO ")
	default:
		b.write("INSERT INTO ")
	}

	b.ident(q.table)

	switch {
	case q.from != nil:
		if len(q.fromColumns) > 0 {
			b.write(" (")
			b.idents(q.fromColumns)
			b.write(")")
		}

		b.write(" ")

		// SQLite parses ON after a SELECT without WHERE as a join constraint
		q.from.writeTo(b, t == backends.SQLite && tail != "")

	case len(q.columns) > 0:
		b.write(" (")
		b.idents(q.columns)
		b.write(") VALUES (")

		for i, v := range q.values {
			if i > 0 {
				b.write(", ")
			}

			b.value(v)
		}

		b.write(")")

	case t == backends.MySQL:
		b.write(" () VALUES ()")

	default:
		b.write(" DEFAULT VALUES")
	}

	b.write(tail)
	b.returning(q.d, q.returning)

	sql, params := b.build()

	return sql, params, nil
}

// conflictTail renders conflict handling that follows VALUES.
// MySQL and SQLite DO NOTHING are rendered as INSERT modifiers instead.
func (q *Insert) conflictTail(t backends.DatabaseType, c *OnConflictClause) (string, error) {
	if c.doUpdate && len(c.update) == 0 {
		return "", backends.NewError(backends.ErrorKindSyntax, errors.New("DO UPDATE requires at least one update column"))
	}

	b := &sqlBuilder{t: t}

	switch t {
	case backends.Postgres:
		b.write(" ON CONFLICT")

		switch c.target {
		case targetColumns:
			if len(c.columns) == 0 {
				return "", backends.NewError(backends.ErrorKindSyntax, errors.New("empty conflict target"))
			}

			b.write(" (")
			b.idents(c.columns)
			b.write(")")

		case targetConstraint:
			b.write(" ON CONSTRAINT ")
			b.ident(c.constraint)

		case targetNone:
			if c.doUpdate {
				return "", backends.NewError(backends.ErrorKindSyntax, errors.New("DO UPDATE requires a conflict target"))
			}
		}

		if !c.doUpdate {
			b.write(" DO NOTHING")
			break
		}

		b.write(" DO UPDATE SET ")
		q.excluded(b, c.update, "EXCLUDED")

		if c.where != "" {
			b.write(" WHERE ", c.where)
		}

	case backends.MySQL:
		if !c.doUpdate {
			break
		}

		b.write(" ON DUPLICATE KEY UPDATE ")

		for i, col := range c.update {
			if i > 0 {
				b.write(", ")
			}

			b.ident(col)
			b.write(" = VALUES(")
			b.ident(col)
			b.write(")")
		}

	case backends.SQLite:
		if !c.doUpdate {
			break
		}

		switch c.target {
		case targetColumns:
			if len(c.columns) == 0 {
				return "", backends.NewError(backends.ErrorKindSyntax, errors.New("SQLite DO UPDATE requires non-empty conflict columns"))
			}
		case targetConstraint:
			return "", backends.NewError(backends.ErrorKindNotSupported, errors.New("SQLite does not support ON CONFLICT ON CONSTRAINT"))
		case targetNone:
			// SQLite needs a target for DO UPDATE; the clause is omitted
			return "", nil
		}

		b.write(" ON CONFLICT (")
		b.idents(c.columns)
		b.write(") DO UPDATE SET ")
		q.excluded(b, c.update, "excluded")

		if c.where != "" {
			b.write(" WHERE ", c.where)
		}

	default:
		panic(fmt.Sprintf("unexpected database type %s", t))
	}

	sql, _ := b.build()

	return sql, nil
}

// excluded appends `col = <table>.col` assignments.
func (q *Insert) excluded(b *sqlBuilder, columns []string, table string) {
	for i, col := range columns {
		if i > 0 {
			b.write(", ")
		}

		b.ident(col)
		b.write(" = ", table, ".")
		b.ident(col)
	}
}

// Execute builds and executes the statement.
func (q *Insert) Execute(ctx context.Context, qr backends.Querier) (*backends.QueryResult, error) {
	sql, params, err := q.Build()
	if err != nil {
		return nil, err
	}

	return qr.Execute(ctx, sql, params)
}

// FetchOne builds the statement and returns the first row of RETURNING columns.
func (q *Insert) FetchOne(ctx context.Context, qr backends.Querier) (*backends.Row, error) {
	sql, params, err := q.Build()
	if err != nil {
		return nil, err
	}

	return qr.FetchOne(ctx, sql, params)
}
