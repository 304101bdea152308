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

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/retry"
	"github.com/FerretDB/dbtx/internal/util/state"
	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func setup(t *testing.T) backends.Backend {
	t.Helper()

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	b, err := NewBackend(&NewBackendParams{
		URI: testutil.SQLiteURL(t),
		L:   testutil.Logger(t),
		P:   sp,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	assert.Equal(t, "sqlite", sp.Get().Backend)
	assert.NotEmpty(t, sp.Get().BackendVersion)

	_, err = b.Execute(testutil.Ctx(t), `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT UNIQUE, active INTEGER)`, nil)
	require.NoError(t, err)

	return b
}

func TestBackend(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)

	assert.Equal(t, backends.SQLite, b.Type())
	assert.True(t, b.SupportsReturning())
	assert.True(t, b.SupportsOnConflict())

	res, err := b.Execute(ctx, `INSERT INTO users (id, email, active) VALUES (?, ?, ?)`, []backends.Value{
		backends.Int(1), backends.String("a@example.com"), backends.Bool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	row, err := b.FetchOne(ctx, `SELECT id, email, active FROM users WHERE id = ?`, []backends.Value{backends.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "active"}, row.Columns)
	assert.Equal(t, []any{int64(1), "a@example.com", int64(1)}, row.Values)

	_, err = b.FetchOne(ctx, `SELECT id FROM users WHERE id = ?`, []backends.Value{backends.Int(2)})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotFound), "%v", err)

	row, err = b.FetchOptional(ctx, `SELECT id FROM users WHERE id = ?`, []backends.Value{backends.Int(2)})
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := b.FetchAll(ctx, `SELECT id FROM users`, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = b.Execute(ctx, `INSERT INTO users (id, email) VALUES (?, ?)`, []backends.Value{
		backends.Int(2), backends.String("a@example.com"),
	})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindConstraint), "%v", err)

	_, err = b.Execute(ctx, `INSERT INTO`, nil)
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindSyntax), "%v", err)

	_, err = b.Execute(ctx, `SELECT ?`, []backends.Value{backends.Now()})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindQuery), "%v", err)
}

func TestTx(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)

	tx, err := b.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Execute(ctx, `INSERT INTO users (id, email) VALUES (?, ?)`, []backends.Value{
		backends.Int(1), backends.String("a@example.com"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	rows, err := b.FetchAll(ctx, `SELECT id FROM users`, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	tx, err = b.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Execute(ctx, `INSERT INTO users (id, email) VALUES (?, ?)`, []backends.Value{
		backends.Int(1), backends.String("a@example.com"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	rows, err = b.FetchAll(ctx, `SELECT id FROM users`, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestConn(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)

	c, err := b.Conn(ctx)
	require.NoError(t, err)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Execute(ctx, `INSERT INTO users (id, email) VALUES (?, ?)`, []backends.Value{
		backends.Int(1), backends.String("a@example.com"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	row, err := c.FetchOne(ctx, `SELECT COUNT(*) AS n FROM users`, nil)
	require.NoError(t, err)

	n, ok := row.Get("n")
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Close())
}

func TestLocked(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	uri := "file:" + filepath.Join(t.TempDir(), "locked.sqlite")

	open := func() backends.Backend {
		b, err := NewBackend(&NewBackendParams{URI: uri, L: testutil.Logger(t)})
		require.NoError(t, err)
		t.Cleanup(b.Close)

		return b
	}

	writer := open()
	other := open()

	_, err := writer.Execute(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`, nil)
	require.NoError(t, err)

	tx, err := writer.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Execute(ctx, `INSERT INTO t (id) VALUES (1)`, nil)
	require.NoError(t, err)

	_, err = other.Execute(ctx, `INSERT INTO t (id) VALUES (2)`, nil)
	require.Error(t, err)
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindQuery), "%v", err)
	assert.False(t, retry.IsRetryable(err), "%v", err)

	require.NoError(t, tx.Rollback(ctx))
}
