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

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/backends/sqlite"
	"github.com/FerretDB/dbtx/internal/pool"
	"github.com/FerretDB/dbtx/internal/retry"
	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func setupCmd(t *testing.T) *cmdOpts {
	t.Helper()

	b, err := sqlite.NewBackend(&sqlite.NewBackendParams{
		URI: testutil.SQLiteURL(t),
		L:   testutil.Logger(t),
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	p, err := pool.New(&pool.NewOpts[backends.Conn]{
		Strategy: pool.Queue,
		Factory:  pool.ConnFactory(b),
		L:        testutil.Logger(t),
		MaxSize:  2,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return &cmdOpts{
		b:     b,
		p:     p,
		l:     testutil.Logger(t),
		retry: new(retry.Config),
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	opts := setupCmd(t)

	var buf bytes.Buffer
	require.NoError(t, ping(testutil.Ctx(t), &buf, opts))

	assert.Regexp(t, `^sqlite 3\.\d+\.\d+ \(pool queue\)\n$`, buf.String())
	assert.Equal(t, 1, opts.p.Stats().Available)
}

func TestXANotSupported(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	opts := setupCmd(t)

	var buf bytes.Buffer
	err := xaRecover(ctx, &buf, opts)
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotSupported), "%v", err)
	assert.Empty(t, buf.String())

	err = xaCommit(ctx, opts, "tx1")
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotSupported), "%v", err)

	err = xaRollback(ctx, opts, "tx1")
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotSupported), "%v", err)
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)

	assert.Contains(t, buf.String(), "version: ")
	assert.Contains(t, buf.String(), "debugBuild: ")
}

func TestStrategyNames(t *testing.T) {
	t.Parallel()

	expected := []string{"queue", "null", "static", "per-owner", "async-queue"}
	assert.Equal(t, expected, strategyNames())
}
