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

// Package testutil provides testing helpers.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"unicode"

	"go.opentelemetry.io/otel"

	"github.com/FerretDB/dbtx/internal/util/ctxutil"
	"github.com/FerretDB/dbtx/internal/util/testutil/testtb"
)

// Environment variables with connection URLs of real databases.
// Tests that need them are skipped when they are not set.
const (
	PostgreSQLURLEnv = "DBTX_TEST_POSTGRESQL_URL"
	MySQLURLEnv      = "DBTX_TEST_MYSQL_URL"
)

// Ctx returns test context.
// It is canceled when test is finished or interrupted.
func Ctx(tb testing.TB) context.Context {
	tb.Helper()

	ctx, stop := ctxutil.SigTerm(context.Background())
	tb.Cleanup(stop)

	ctx, span := otel.Tracer("").Start(ctx, tb.Name())
	tb.Cleanup(func() {
		span.End()
	})

	return ctx
}

// PostgreSQLURL returns the PostgreSQL URL for tests, or skips the test.
func PostgreSQLURL(tb testtb.TB) string {
	tb.Helper()

	return envURL(tb, PostgreSQLURLEnv)
}

// MySQLURL returns the MySQL URL for tests, or skips the test.
func MySQLURL(tb testtb.TB) string {
	tb.Helper()

	return envURL(tb, MySQLURLEnv)
}

// SQLiteURL returns an URI of a fresh shared in-memory SQLite database unique to the test.
func SQLiteURL(tb testtb.TB) string {
	tb.Helper()

	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}

		return '_'
	}, tb.Name())

	return "file:" + name + "?mode=memory&cache=shared"
}

// envURL returns the value of the given environment variable or skips the test.
func envURL(tb testtb.TB, env string) string {
	tb.Helper()

	u := os.Getenv(env)
	if u == "" {
		tb.Skipf("%s is not set", env)
	}

	return u
}
