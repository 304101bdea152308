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

package backends

import "context"

// DatabaseType represents a database engine.
type DatabaseType int

// Database types.
const (
	_ DatabaseType = iota
	Postgres
	MySQL
	SQLite
)

// String implements [fmt.Stringer].
func (t DatabaseType) String() string {
	switch t {
	case Postgres:
		return "postgresql"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Dialect describes SQL syntax supported by a backend.
type Dialect interface {
	Type() DatabaseType
	SupportsReturning() bool
	SupportsOnConflict() bool
}

// Querier runs SQL statements with ordered parameters.
//
// It is implemented by [Backend] (any free connection), [Conn] and [Tx].
type Querier interface {
	// Execute runs a statement that does not return rows.
	Execute(ctx context.Context, sql string, params []Value) (*QueryResult, error)

	// FetchOne returns the first row, or *Error with ErrorKindNotFound if there are no rows.
	FetchOne(ctx context.Context, sql string, params []Value) (*Row, error)

	// FetchAll returns all rows.
	FetchAll(ctx context.Context, sql string, params []Value) ([]*Row, error)

	// FetchOptional returns the first row, or nil if there are no rows.
	FetchOptional(ctx context.Context, sql string, params []Value) (*Row, error)
}

// Tx is a database transaction.
//
// Either Commit or Rollback must be called exactly once.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a dedicated physical database session.
//
// Session state (open transactions, XA branches) is kept between calls.
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Backend is a generic interface for all SQL backends.
//
// Backend methods can be called concurrently.
//
// See backendContract and its methods for additional details.
type Backend interface {
	Dialect
	Querier

	// Begin starts a transaction on any free connection.
	Begin(ctx context.Context) (Tx, error)

	// Conn returns a dedicated session.
	Conn(ctx context.Context) (Conn, error)

	// ServerVersion returns the database server version.
	ServerVersion(ctx context.Context) (string, error)

	Close()
}

// IsCockroachDB returns true if v is (or wraps) a PostgreSQL backend connected to CockroachDB.
func IsCockroachDB(v any) bool {
	for {
		switch t := v.(type) {
		case interface{ IsCockroachDB() bool }:
			return t.IsCockroachDB()
		case interface{ Unwrap() Backend }:
			v = t.Unwrap()
		default:
			return false
		}
	}
}

// dialect is a static Dialect implementation.
type dialect struct {
	t                 DatabaseType
	returning, upsert bool
}

// Type implements Dialect.
func (d dialect) Type() DatabaseType { return d.t }

// SupportsReturning implements Dialect.
func (d dialect) SupportsReturning() bool { return d.returning }

// SupportsOnConflict implements Dialect.
func (d dialect) SupportsOnConflict() bool { return d.upsert }

// NewDialect returns Dialect with the default support flags of the given database type.
func NewDialect(t DatabaseType) Dialect {
	switch t {
	case Postgres, SQLite:
		return dialect{t: t, returning: true, upsert: true}
	case MySQL:
		return dialect{t: t, returning: false, upsert: true}
	default:
		panic("backends.NewDialect: unknown database type")
	}
}

// check interfaces
var (
	_ Dialect = dialect{}
)
