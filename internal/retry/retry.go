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

// Package retry re-runs transactions that fail with serialization conflicts.
//
// The unit of work passed to the coordinator is invoked once per attempt, each time on a fresh transaction.
// It must be safe to call repeatedly: it should not consume captured state (closed channels, drained iterators,
// one-shot readers) on the first call, and its side effects outside the transaction are not rolled back.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/ctxutil"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/observability"
)

// Parts of the metric names.
const (
	namespace = "dbtx"
	subsystem = "retry"
)

// conflictSignatures are lowercase message substrings of serialization conflicts.
var conflictSignatures = []string{
	"40001",
	"restart transaction",
	"serialization failure",
}

// IsRetryable returns true if err is a serialization conflict that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if backends.ErrorKindIs(err, backends.ErrorKindSerializationConflict) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range conflictSignatures {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

// Beginner starts transactions.
//
// It is implemented by backends.Backend and backends.Conn.
type Beginner interface {
	Begin(ctx context.Context) (backends.Tx, error)
}

// Func is a unit of work running in a transaction.
//
// The transaction is committed or rolled back by the caller; Func must not do that.
type Func func(ctx context.Context, tx backends.Tx) error

// Coordinator runs units of work with retries on serialization conflicts.
//
// It is safe for concurrent use; attempts of one Execute call never overlap.
type Coordinator struct {
	b          Beginner
	s          *Strategy
	l          *zap.Logger
	maxRetries int

	attempts  atomic.Uint64
	retries   atomic.Uint64
	exhausted atomic.Uint64
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(b Beginner, c *Config, l *zap.Logger) *Coordinator {
	if c == nil {
		c = new(Config)
	}

	if l == nil {
		l = zap.NewNop()
	}

	return &Coordinator{
		b:          b,
		s:          NewStrategy(c),
		l:          l.Named("retry"),
		maxRetries: c.maxRetries(),
	}
}

// Strategy returns the backoff strategy.
func (c *Coordinator) Strategy() *Strategy {
	return c.s
}

// Execute runs f in a transaction, retrying the whole transaction on serialization conflicts.
//
// Non-retryable errors and the last conflict after all retries are returned unchanged.
// A failed rollback is returned instead of retrying.
// If ctx is canceled during backoff, its error is returned.
func (c *Coordinator) Execute(ctx context.Context, f Func) error {
	defer observability.FuncCall(ctx)()

	for attempt := 0; ; attempt++ {
		c.attempts.Add(1)

		retryable, err := c.run(ctx, f)
		if err == nil {
			return nil
		}

		if !retryable {
			return err
		}

		if attempt >= c.maxRetries {
			c.exhausted.Add(1)
			c.l.Warn(
				"Retries exhausted",
				zap.Int("attempts", attempt+1), zap.Int("max_retries", c.maxRetries), zap.Error(err),
			)

			return err
		}

		delay := c.s.CalculateDelay(attempt)

		c.retries.Add(1)
		c.l.Info(
			"Retrying transaction",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err),
		)

		if err = ctxutil.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// run runs a single attempt.
// It returns whether the failed attempt may be retried, and the error.
func (c *Coordinator) run(ctx context.Context, f Func) (bool, error) {
	tx, err := c.b.Begin(ctx)
	if err != nil {
		return IsRetryable(err), err
	}

	if err = f(ctx, tx); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			c.l.Warn("Rollback failed", zap.NamedError("cause", err), zap.Error(rerr))
			return false, lazyerrors.Error(rerr)
		}

		return IsRetryable(err), err
	}

	if err = tx.Commit(ctx); err != nil {
		return IsRetryable(err), err
	}

	return false, nil
}

// ExecuteWithRetry runs f in a transaction with retries and returns its result from the successful attempt.
//
// See [Coordinator.Execute] for details.
func ExecuteWithRetry[T any](ctx context.Context, c *Coordinator, f func(ctx context.Context, tx backends.Tx) (T, error)) (T, error) {
	var res T

	err := c.Execute(ctx, func(ctx context.Context, tx backends.Tx) error {
		v, err := f(ctx, tx)
		if err != nil {
			return err
		}

		res = v

		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return res, nil
}

// ExecuteWithPriority runs f once in a transaction with the given CockroachDB priority.
//
// Other backends are reported as *backends.Error with ErrorKindNotSupported.
func ExecuteWithPriority[T any](ctx context.Context, c *Coordinator, priority Priority, f func(ctx context.Context, tx backends.Tx) (T, error)) (T, error) {
	defer observability.FuncCall(ctx)()

	var zero T

	if !backends.IsCockroachDB(c.b) {
		return zero, backends.NewError(backends.ErrorKindNotSupported, errors.New("transaction priority requires CockroachDB"))
	}

	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return zero, lazyerrors.Errorf("invalid priority %s", priority)
	}

	c.attempts.Add(1)

	tx, err := c.b.Begin(ctx)
	if err != nil {
		return zero, err
	}

	sql := fmt.Sprintf("SET TRANSACTION PRIORITY %s", priority)
	c.l.Debug("Setting transaction priority", zap.String("sql", sql))

	if _, err = tx.Execute(ctx, sql, nil); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			c.l.Warn("Rollback failed", zap.NamedError("cause", err), zap.Error(rerr))
			return zero, lazyerrors.Error(rerr)
		}

		return zero, err
	}

	res, err := f(ctx, tx)
	if err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			c.l.Warn("Rollback failed", zap.NamedError("cause", err), zap.Error(rerr))
			return zero, lazyerrors.Error(rerr)
		}

		return zero, err
	}

	if err = tx.Commit(ctx); err != nil {
		return zero, err
	}

	return res, nil
}

// Describe implements prometheus.Collector.
func (c *Coordinator) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Coordinator) Collect(ch chan<- prometheus.Metric) {
	for _, m := range []struct {
		name  string
		help  string
		value uint64
	}{
		{"attempts_total", "The total number of transaction attempts.", c.attempts.Load()},
		{"retries_total", "The total number of retried transactions.", c.retries.Load()},
		{"exhausted_total", "The total number of transactions that failed after all retries.", c.exhausted.Load()},
	} {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, m.name), m.help, nil, nil),
			prometheus.CounterValue,
			float64(m.value),
		)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Coordinator)(nil)
)
