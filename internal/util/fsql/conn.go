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

package fsql

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/util/observability"
	"github.com/FerretDB/dbtx/internal/util/resource"
)

// Conn wraps [*database/sql.Conn] with logging and resource tracking.
type Conn struct {
	sqlConn *sql.Conn
	l       *zap.Logger
	token   *resource.Token
}

// wrapConn creates new Conn.
func wrapConn(c *sql.Conn, l *zap.Logger) *Conn {
	res := &Conn{
		sqlConn: c,
		l:       l,
		token:   resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// QueryContext calls [*sql.Conn.QueryContext].
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return logQuery(ctx, c.l, c.sqlConn, query, args)
}

// ExecContext calls [*sql.Conn.ExecContext].
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return logExec(ctx, c.l, c.sqlConn, query, args)
}

// BeginTx starts a new transaction on that connection.
func (c *Conn) BeginTx(ctx context.Context) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	sqlTx, err := c.sqlConn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return wrapTx(sqlTx, c.l), nil
}

// Close calls [*sql.Conn.Close].
func (c *Conn) Close() error {
	resource.Untrack(c, c.token)
	return c.sqlConn.Close()
}
