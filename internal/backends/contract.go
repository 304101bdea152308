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

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FerretDB/dbtx/internal/util/observability"
	"github.com/FerretDB/dbtx/internal/util/resource"
)

// backendContract implements Backend interface.
type backendContract struct {
	b     Backend
	token *resource.Token
}

// BackendContract wraps Backend and enforces its contract.
//
// All backend implementations should use that function when they create new Backend instances.
// Conn and Tx values returned by the wrapper are wrapped too.
//
// See backendContract and its methods for additional details.
func BackendContract(b Backend) Backend {
	bc := &backendContract{
		b:     b,
		token: resource.NewToken(),
	}
	resource.Track(bc, bc.token)

	return bc
}

// Type implements Dialect.
func (bc *backendContract) Type() DatabaseType {
	return bc.b.Type()
}

// SupportsReturning implements Dialect.
func (bc *backendContract) SupportsReturning() bool {
	return bc.b.SupportsReturning()
}

// SupportsOnConflict implements Dialect.
func (bc *backendContract) SupportsOnConflict() bool {
	return bc.b.SupportsOnConflict()
}

// Execute implements Querier.
func (bc *backendContract) Execute(ctx context.Context, sql string, params []Value) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Execute(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOne implements Querier.
func (bc *backendContract) FetchOne(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.FetchOne(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchAll implements Querier.
func (bc *backendContract) FetchAll(ctx context.Context, sql string, params []Value) ([]*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.FetchAll(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOptional implements Querier.
func (bc *backendContract) FetchOptional(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.FetchOptional(ctx, sql, params)
	checkError(err)

	return res, err
}

// Begin implements Backend.
func (bc *backendContract) Begin(ctx context.Context) (Tx, error) {
	defer observability.FuncCall(ctx)()

	tx, err := bc.b.Begin(ctx)
	checkError(err)

	if err != nil {
		return nil, err
	}

	return newTxContract(tx), nil
}

// Conn implements Backend.
func (bc *backendContract) Conn(ctx context.Context) (Conn, error) {
	defer observability.FuncCall(ctx)()

	c, err := bc.b.Conn(ctx)
	checkError(err)

	if err != nil {
		return nil, err
	}

	return newConnContract(c), nil
}

// ServerVersion implements Backend.
func (bc *backendContract) ServerVersion(ctx context.Context) (string, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.ServerVersion(ctx)
	checkError(err)

	return res, err
}

// Close closes all database connections and frees all resources associated with the backend.
func (bc *backendContract) Close() {
	bc.b.Close()

	resource.Untrack(bc, bc.token)
}

// Unwrap returns the wrapped backend.
func (bc *backendContract) Unwrap() Backend {
	return bc.b
}

// Describe implements prometheus.Collector.
func (bc *backendContract) Describe(ch chan<- *prometheus.Desc) {
	if c, ok := bc.b.(prometheus.Collector); ok {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (bc *backendContract) Collect(ch chan<- prometheus.Metric) {
	if c, ok := bc.b.(prometheus.Collector); ok {
		c.Collect(ch)
	}
}

// connContract implements Conn interface.
type connContract struct {
	c     Conn
	token *resource.Token
}

// newConnContract wraps Conn and enforces its contract.
func newConnContract(c Conn) Conn {
	cc := &connContract{
		c:     c,
		token: resource.NewToken(),
	}
	resource.Track(cc, cc.token)

	return cc
}

// Execute implements Querier.
func (cc *connContract) Execute(ctx context.Context, sql string, params []Value) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.Execute(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOne implements Querier.
func (cc *connContract) FetchOne(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.FetchOne(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchAll implements Querier.
func (cc *connContract) FetchAll(ctx context.Context, sql string, params []Value) ([]*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.FetchAll(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOptional implements Querier.
func (cc *connContract) FetchOptional(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := cc.c.FetchOptional(ctx, sql, params)
	checkError(err)

	return res, err
}

// Begin implements Conn.
func (cc *connContract) Begin(ctx context.Context) (Tx, error) {
	defer observability.FuncCall(ctx)()

	tx, err := cc.c.Begin(ctx)
	checkError(err)

	if err != nil {
		return nil, err
	}

	return newTxContract(tx), nil
}

// Close implements Conn.
func (cc *connContract) Close() error {
	err := cc.c.Close()
	checkError(err)

	resource.Untrack(cc, cc.token)

	return err
}

// txContract implements Tx interface.
type txContract struct {
	tx    Tx
	token *resource.Token
}

// newTxContract wraps Tx and enforces its contract.
//
// Transactions that are neither committed nor rolled back are reported by resource tracking.
func newTxContract(tx Tx) Tx {
	tc := &txContract{
		tx:    tx,
		token: resource.NewToken(),
	}
	resource.Track(tc, tc.token)

	return tc
}

// Execute implements Querier.
func (tc *txContract) Execute(ctx context.Context, sql string, params []Value) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := tc.tx.Execute(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOne implements Querier.
func (tc *txContract) FetchOne(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := tc.tx.FetchOne(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchAll implements Querier.
func (tc *txContract) FetchAll(ctx context.Context, sql string, params []Value) ([]*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := tc.tx.FetchAll(ctx, sql, params)
	checkError(err)

	return res, err
}

// FetchOptional implements Querier.
func (tc *txContract) FetchOptional(ctx context.Context, sql string, params []Value) (*Row, error) {
	defer observability.FuncCall(ctx)()

	res, err := tc.tx.FetchOptional(ctx, sql, params)
	checkError(err)

	return res, err
}

// Commit implements Tx.
func (tc *txContract) Commit(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	err := tc.tx.Commit(ctx)
	checkError(err)

	resource.Untrack(tc, tc.token)

	return err
}

// Rollback implements Tx.
func (tc *txContract) Rollback(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	err := tc.tx.Rollback(ctx)
	checkError(err)

	resource.Untrack(tc, tc.token)

	return err
}

// check interfaces
var (
	_ Backend              = (*backendContract)(nil)
	_ prometheus.Collector = (*backendContract)(nil)
	_ Conn                 = (*connContract)(nil)
	_ Tx                   = (*txContract)(nil)
)
