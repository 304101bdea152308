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
	"database/sql"
	"errors"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func setup(t *testing.T) *DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", testutil.SQLiteURL(t))
	require.NoError(t, err)

	db := WrapDB(sqlDB, "test", testutil.Logger(t))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	_, err = db.ExecContext(testutil.Ctx(t), "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	return db
}

func count(t *testing.T, db *DB) int {
	t.Helper()

	rows, err := db.QueryContext(testutil.Ctx(t), "SELECT COUNT(*) FROM t")
	require.NoError(t, err)

	defer rows.Close()

	require.True(t, rows.Next())

	var n int
	require.NoError(t, rows.Scan(&n))

	return n
}

func TestInTransaction(t *testing.T) {
	ctx := testutil.Ctx(t)
	db := setup(t)

	err := db.InTransaction(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))

	errBoom := errors.New("boom")
	err = db.InTransaction(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", 2)
		require.NoError(t, err)

		return errBoom
	})
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, count(t, db))
}

func TestConn(t *testing.T) {
	ctx := testutil.Ctx(t)
	db := setup(t)

	c, err := db.Conn(ctx)
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = c.ExecContext(ctx, "INSERT INTO t (id) VALUES (?)", 2)
	require.NoError(t, err)

	require.NoError(t, c.Close())

	assert.Equal(t, 1, count(t, db))
}

func TestMetrics(t *testing.T) {
	db := setup(t)

	assert.Equal(t, 3, promtestutil.CollectAndCount(db))
}
