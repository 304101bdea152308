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

// Package postgresql provides PostgreSQL backend.
//
// # Design principles
//
//  1. pgx/v5 is used directly (not through database/sql); pgxpool manages physical connections.
//  2. CockroachDB is detected on startup and handled as a PostgreSQL flavor.
//  3. standard_conforming_strings must be on: 2PC commands embed escaped string literals.
package postgresql

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/logging"
	"github.com/FerretDB/dbtx/internal/util/state"
)

// Parts of Prometheus metric names.
const (
	namespace = "dbtx"
	subsystem = "postgresql_pool"
)

// backend implements backends.Backend interface.
type backend struct {
	*querier

	p         *pgxpool.Pool
	l         *zap.Logger
	cockroach bool
}

// NewBackendParams represents the parameters of NewBackend function.
//
//nolint:vet // for readability
type NewBackendParams struct {
	URI string
	L   *zap.Logger
	P   *state.Provider
}

// NewBackend creates a new PostgreSQL backend.
func NewBackend(params *NewBackendParams) (backends.Backend, error) {
	b, err := newBackend(params)
	if err != nil {
		return nil, err
	}

	return backends.BackendContract(b), nil
}

// newBackend creates a new unwrapped backend.
func newBackend(params *NewBackendParams) (*backend, error) {
	u, err := url.Parse(params.URI)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	values := u.Query()
	setDefaultValues(values)
	u.RawQuery = values.Encode()

	config, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	l := params.L

	// version could change without restart
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if params.P == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		var v string
		if err := conn.QueryRow(ctx, `SHOW server_version`).Scan(&v); err != nil {
			return lazyerrors.Error(err)
		}

		if params.P.Get().BackendVersion != v {
			if err := params.P.Update(func(s *state.State) {
				s.Backend = backends.Postgres.String()
				s.BackendVersion = v
			}); err != nil {
				l.Error("Failed to update state", zap.Error(err))
			}
		}

		return nil
	}

	config.ConnConfig.Tracer = logging.PgxTracer(l)

	// see https://github.com/jackc/pgx/issues/1726#issuecomment-1711612138
	ctx := context.TODO()

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err = checkSettings(ctx, p, l); err != nil {
		p.Close()
		return nil, classify(err)
	}

	var version string
	if err = p.QueryRow(ctx, `SELECT version()`).Scan(&version); err != nil {
		p.Close()
		return nil, classify(err)
	}

	b := &backend{
		querier:   &querier{q: p},
		p:         p,
		l:         l,
		cockroach: strings.Contains(version, "CockroachDB"),
	}

	if b.cockroach {
		l.Info("CockroachDB detected", zap.String("version", version))
	}

	return b, nil
}

// setDefaultValues sets default query parameters.
func setDefaultValues(values url.Values) {
	if !values.Has("pool_max_conns") {
		// the default is too low
		values.Set("pool_max_conns", "50")
	}

	if !values.Has("application_name") {
		values.Set("application_name", "dbtx")
	}

	values.Set("timezone", "UTC")
}

// checkSettings checks PostgreSQL settings.
func checkSettings(ctx context.Context, p *pgxpool.Pool, l *zap.Logger) error {
	var v string
	if err := p.QueryRow(ctx, `SHOW standard_conforming_strings`).Scan(&v); err != nil {
		return err
	}

	// escaped literals in 2PC commands rely on it, see https://github.com/jackc/pgx/issues/868#issuecomment-725544647
	if v != "on" {
		return lazyerrors.Errorf("%q is %q, want %q", "standard_conforming_strings", v, "on")
	}

	l.Debug("PostgreSQL setting", zap.String("standard_conforming_strings", v))

	return nil
}

// Type implements backends.Dialect.
func (b *backend) Type() backends.DatabaseType {
	return backends.Postgres
}

// SupportsReturning implements backends.Dialect.
func (b *backend) SupportsReturning() bool {
	return true
}

// SupportsOnConflict implements backends.Dialect.
func (b *backend) SupportsOnConflict() bool {
	return true
}

// IsCockroachDB returns true if the backend is connected to CockroachDB.
func (b *backend) IsCockroachDB() bool {
	return b.cockroach
}

// Begin implements backends.Backend.
func (b *backend) Begin(ctx context.Context) (backends.Tx, error) {
	tx, err := b.p.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}

	return &pgTx{querier: &querier{q: tx}, tx: tx}, nil
}

// Conn implements backends.Backend.
func (b *backend) Conn(ctx context.Context) (backends.Conn, error) {
	c, err := b.p.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}

	return &pgConn{querier: &querier{q: c}, c: c}, nil
}

// ServerVersion implements backends.Backend.
func (b *backend) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := b.p.QueryRow(ctx, `SHOW server_version`).Scan(&v); err != nil {
		return "", classify(err)
	}

	return v, nil
}

// Close implements backends.Backend.
func (b *backend) Close() {
	b.p.Close()
}

// Describe implements prometheus.Collector.
func (b *backend) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(b, ch)
}

// Collect implements prometheus.Collector.
func (b *backend) Collect(ch chan<- prometheus.Metric) {
	stats := b.p.Stat()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "size"),
			"The current number of connections in the pgx pool.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(stats.TotalConns()),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acquired"),
			"The current number of acquired connections in the pgx pool.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(stats.AcquiredConns()),
	)
}

// pgTx implements backends.Tx.
type pgTx struct {
	*querier
	tx pgx.Tx
}

// Commit implements backends.Tx.
func (tx *pgTx) Commit(ctx context.Context) error {
	if err := tx.tx.Commit(ctx); err != nil {
		return classify(err)
	}

	return nil
}

// Rollback implements backends.Tx.
func (tx *pgTx) Rollback(ctx context.Context) error {
	if err := tx.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify(err)
	}

	return nil
}

// pgConn implements backends.Conn.
type pgConn struct {
	*querier
	c *pgxpool.Conn
}

// Begin implements backends.Conn.
func (c *pgConn) Begin(ctx context.Context) (backends.Tx, error) {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}

	return &pgTx{querier: &querier{q: tx}, tx: tx}, nil
}

// Close implements backends.Conn.
//
// It returns the connection to the pgx pool.
func (c *pgConn) Close() error {
	c.c.Release()
	return nil
}

// check interfaces
var (
	_ backends.Backend     = (*backend)(nil)
	_ backends.Tx          = (*pgTx)(nil)
	_ backends.Conn        = (*pgConn)(nil)
	_ prometheus.Collector = (*backend)(nil)
)
