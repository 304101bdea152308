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

// Package query builds dialect-specific SQL statements with ordered parameters.
//
// Identifiers are always quoted; values are always bound as parameters,
// except for the backends.Now sentinel that compiles to the dialect's current timestamp function.
//
// Builders are not safe for concurrent use.
package query

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/FerretDB/dbtx/internal/backends"
)

// QuoteIdentifier returns the identifier quoted for the given database type.
func QuoteIdentifier(t backends.DatabaseType, name string) string {
	if t == backends.MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}

	return pgx.Identifier{name}.Sanitize()
}

// Placeholder returns the n-th (1-based) parameter placeholder for the given database type.
func Placeholder(t backends.DatabaseType, n int) string {
	if t == backends.Postgres {
		return "$" + strconv.Itoa(n)
	}

	return "?"
}

// nowFunc returns the current timestamp function for the given database type.
func nowFunc(t backends.DatabaseType) string {
	if t == backends.SQLite {
		return "CURRENT_TIMESTAMP"
	}

	return "NOW()"
}

// sqlBuilder accumulates SQL text and parameters.
type sqlBuilder struct {
	t      backends.DatabaseType
	sb     strings.Builder
	params []backends.Value
}

// write appends raw SQL.
func (b *sqlBuilder) write(s ...string) {
	for _, p := range s {
		b.sb.WriteString(p)
	}
}

// ident appends a quoted identifier.
func (b *sqlBuilder) ident(name string) {
	b.sb.WriteString(QuoteIdentifier(b.t, name))
}

// idents appends a comma-separated list of quoted identifiers.
func (b *sqlBuilder) idents(names []string) {
	for i, n := range names {
		if i > 0 {
			b.sb.WriteString(", ")
		}

		b.ident(n)
	}
}

// value appends a placeholder for v and records it,
// or the current timestamp function for the Now sentinel.
func (b *sqlBuilder) value(v backends.Value) {
	if v.IsNow() {
		b.sb.WriteString(nowFunc(b.t))
		return
	}

	b.params = append(b.params, v)
	b.sb.WriteString(Placeholder(b.t, len(b.params)))
}

// where appends the WHERE clause for the given predicates.
func (b *sqlBuilder) where(preds []predicate) {
	for i, p := range preds {
		if i == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}

		b.ident(p.column)

		switch p.op {
		case opEq:
			b.write(" = ")
			b.value(p.v)
		case opIn:
			b.write(" IN (")
			b.value(p.v)
			b.write(")")
		}
	}
}

// returning appends the RETURNING clause if the dialect supports it.
func (b *sqlBuilder) returning(d backends.Dialect, cols []string) {
	if len(cols) == 0 || !d.SupportsReturning() {
		return
	}

	b.write(" RETURNING ")
	b.idents(cols)
}

// build returns the accumulated SQL text and parameters.
func (b *sqlBuilder) build() (string, []backends.Value) {
	return b.sb.String(), b.params
}

// predicateOp is a WHERE predicate operator.
type predicateOp int

const (
	opEq predicateOp = iota
	opIn
)

// predicate is a single WHERE condition.
type predicate struct {
	column string
	op     predicateOp
	v      backends.Value
}
