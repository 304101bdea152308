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

package xa

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/pool"
	"github.com/FerretDB/dbtx/internal/util/state"
	"github.com/FerretDB/dbtx/internal/util/testutil"
)

// testManager holds a manager and connections created by its pool.
type testManager struct {
	*Manager

	p     *pool.Pool[backends.Conn]
	rw    sync.Mutex
	conns []*fakeConn
}

// conn returns the i-th created connection.
func (tm *testManager) conn(i int) *fakeConn {
	tm.rw.Lock()
	defer tm.rw.Unlock()

	return tm.conns[i]
}

func setupManager(t *testing.T, typ backends.DatabaseType, prepare func(c *fakeConn)) *testManager {
	t.Helper()

	tm := new(testManager)

	p, err := pool.New(&pool.NewOpts[backends.Conn]{
		Strategy: pool.Queue,
		Factory: func(context.Context) (backends.Conn, error) {
			c := new(fakeConn)
			if prepare != nil {
				prepare(c)
			}

			tm.rw.Lock()
			tm.conns = append(tm.conns, c)
			tm.rw.Unlock()

			return c, nil
		},
		L: testutil.Logger(t),
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	tm.p = p
	tm.Manager, err = NewManager(&NewOpts{
		Pool: p,
		Type: typ,
		L:    testutil.Logger(t),
		P:    sp,
	})
	require.NoError(t, err)

	return tm
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&NewOpts{Type: backends.MySQL})
	assert.Error(t, err)

	p, err := pool.New(&pool.NewOpts[backends.Conn]{
		Strategy: pool.Null,
		Factory: func(context.Context) (backends.Conn, error) {
			return new(fakeConn), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	_, err = NewManager(&NewOpts{Pool: p, Type: backends.SQLite})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotSupported), "%v", err)
}

func TestBranch(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	t.Run("TwoPhase", func(t *testing.T) {
		t.Parallel()

		tm := setupManager(t, backends.MySQL, nil)

		b, err := tm.Begin(ctx, "tx1")
		require.NoError(t, err)
		assert.Equal(t, "tx1", b.Xid())

		_, err = b.Conn().Execute(ctx, "INSERT INTO t VALUES (1)", nil)
		require.NoError(t, err)

		require.NoError(t, b.End(ctx))
		require.NoError(t, b.Prepare(ctx))
		require.NoError(t, b.Commit(ctx))

		expected := []string{
			"XA START 'tx1'",
			"INSERT INTO t VALUES (1)",
			"XA END 'tx1'",
			"XA PREPARE 'tx1'",
			"XA COMMIT 'tx1'",
		}
		assert.Equal(t, expected, tm.conn(0).executed())

		stats := tm.p.Stats()
		assert.Equal(t, 1, stats.Available)
		assert.Equal(t, 0, stats.Active)
		assert.False(t, tm.conn(0).closed)

		// finished branch
		assert.Error(t, b.Commit(ctx))
		b.Release()
	})

	t.Run("OnePhase", func(t *testing.T) {
		t.Parallel()

		tm := setupManager(t, backends.Postgres, nil)

		b, err := tm.Begin(ctx, "tx1")
		require.NoError(t, err)

		require.NoError(t, b.End(ctx))
		require.NoError(t, b.CommitOnePhase(ctx))

		assert.Equal(t, []string{"BEGIN", "COMMIT"}, tm.conn(0).executed())
	})

	t.Run("Order", func(t *testing.T) {
		t.Parallel()

		tm := setupManager(t, backends.MySQL, nil)

		b, err := tm.Begin(ctx, "tx1")
		require.NoError(t, err)

		assert.Error(t, b.Prepare(ctx))
		assert.Error(t, b.Commit(ctx))
		assert.Error(t, b.CommitOnePhase(ctx))

		require.NoError(t, b.End(ctx))
		assert.Error(t, b.End(ctx))
		assert.Error(t, b.Commit(ctx))

		require.NoError(t, b.Rollback(ctx))

		expected := []string{
			"XA START 'tx1'",
			"XA END 'tx1'",
			"XA ROLLBACK 'tx1'",
		}
		assert.Equal(t, expected, tm.conn(0).executed())
	})

	t.Run("RollbackActive", func(t *testing.T) {
		t.Parallel()

		for typ, expected := range map[backends.DatabaseType][]string{
			backends.MySQL:    {"XA START 'a'", "XA END 'a'", "XA ROLLBACK 'a'"},
			backends.Postgres: {"BEGIN", "ROLLBACK"},
		} {
			tm := setupManager(t, typ, nil)

			b, err := tm.Begin(ctx, "a")
			require.NoError(t, err)
			require.NoError(t, b.Rollback(ctx))

			assert.Equal(t, expected, tm.conn(0).executed(), "%s", typ)
			assert.Equal(t, 1, tm.p.Stats().Available, "%s", typ)
		}
	})

	t.Run("RollbackPrepared", func(t *testing.T) {
		t.Parallel()

		tm := setupManager(t, backends.Postgres, nil)

		b, err := tm.Begin(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, b.End(ctx))
		require.NoError(t, b.Prepare(ctx))
		require.NoError(t, b.Rollback(ctx))

		expected := []string{"BEGIN", "PREPARE TRANSACTION 'a'", "ROLLBACK PREPARED 'a'"}
		assert.Equal(t, expected, tm.conn(0).executed())
	})

	t.Run("ReleaseUnprepared", func(t *testing.T) {
		t.Parallel()

		tm := setupManager(t, backends.Postgres, nil)

		b, err := tm.Begin(ctx, "a")
		require.NoError(t, err)

		b.Release()
		b.Release()

		assert.True(t, tm.conn(0).closed)
		assert.Equal(t, 0, tm.p.Size())
		assert.Error(t, b.End(ctx))
	})

	t.Run("ReleasePrepared", func(t *testing.T) {
		t.Parallel()

		for typ, closed := range map[backends.DatabaseType]bool{
			backends.MySQL:    true,
			backends.Postgres: false,
		} {
			tm := setupManager(t, typ, nil)

			b, err := tm.Begin(ctx, "a")
			require.NoError(t, err)
			require.NoError(t, b.End(ctx))
			require.NoError(t, b.Prepare(ctx))

			b.Release()

			assert.Equal(t, closed, tm.conn(0).closed, "%s", typ)
			assert.Equal(t, !closed, tm.p.Stats().Available == 1, "%s", typ)
		}
	})

	t.Run("ConnectionError", func(t *testing.T) {
		t.Parallel()

		errLost := backends.NewError(backends.ErrorKindConnection, errors.New("connection lost"))
		tm := setupManager(t, backends.MySQL, func(c *fakeConn) {
			c.errOn = "XA PREPARE"
			c.err = errLost
		})

		b, err := tm.Begin(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, b.End(ctx))

		err = b.Prepare(ctx)
		assert.ErrorIs(t, err, errLost)

		assert.True(t, tm.conn(0).closed)
		assert.Equal(t, uint64(1), tm.p.Stats().Discarded)

		// the branch is gone with its session
		assert.Error(t, b.Rollback(ctx))
		b.Release()
	})

	t.Run("QueryError", func(t *testing.T) {
		t.Parallel()

		errNota := backends.NewError(backends.ErrorKindQuery, errors.New("XAER_RMFAIL"))
		tm := setupManager(t, backends.MySQL, func(c *fakeConn) {
			c.errOn = "XA PREPARE"
			c.err = errNota
		})

		b, err := tm.Begin(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, b.End(ctx))

		err = b.Prepare(ctx)
		assert.ErrorIs(t, err, errNota)
		assert.False(t, tm.conn(0).closed)

		require.NoError(t, b.Rollback(ctx))
	})
}

func TestManagerRecovery(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	columns := []string{"formatID", "gtrid_length", "bqual_length", "data"}
	tm := setupManager(t, backends.MySQL, func(c *fakeConn) {
		c.rows = []*backends.Row{
			{Columns: columns, Values: []any{int64(1), int64(3), int64(0), []byte("tx2")}},
			{Columns: columns, Values: []any{int64(1), int64(3), int64(0), []byte("tx1")}},
		}
	})

	assert.True(t, tm.s.Get().LastRecoveryTime().IsZero())

	res, err := tm.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "tx1", res[0].Xid)
	assert.Equal(t, "tx2", res[1].Xid)

	assert.False(t, tm.s.Get().LastRecoveryTime().IsZero())

	bi, err := tm.Find(ctx, "tx2")
	require.NoError(t, err)
	require.NotNil(t, bi)
	assert.Equal(t, "tx2", bi.Xid)

	bi, err = tm.Find(ctx, "tx3")
	require.NoError(t, err)
	assert.Nil(t, bi)

	require.NoError(t, tm.CommitPrepared(ctx, "tx1"))
	require.NoError(t, tm.RollbackPrepared(ctx, "tx2"))

	expected := []string{
		"XA RECOVER",
		"XA RECOVER",
		"XA RECOVER",
		"XA COMMIT 'tx1'",
		"XA ROLLBACK 'tx2'",
	}
	assert.Equal(t, expected, tm.conn(0).executed())
	assert.Equal(t, 1, tm.p.Size())
}
