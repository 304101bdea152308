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

// Command dbtx checks database connectivity and resolves prepared distributed transactions.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for production Docker image

	"github.com/FerretDB/dbtx/build/version"
	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/backends/mysql"
	"github.com/FerretDB/dbtx/internal/backends/postgresql"
	"github.com/FerretDB/dbtx/internal/backends/sqlite"
	"github.com/FerretDB/dbtx/internal/pool"
	"github.com/FerretDB/dbtx/internal/retry"
	"github.com/FerretDB/dbtx/internal/util/ctxutil"
	"github.com/FerretDB/dbtx/internal/util/debug"
	"github.com/FerretDB/dbtx/internal/util/debugbuild"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/logging"
	"github.com/FerretDB/dbtx/internal/util/must"
	"github.com/FerretDB/dbtx/internal/util/observability"
	"github.com/FerretDB/dbtx/internal/util/state"
)

// The cli struct represents all command-line commands, fields and flags.
// It's used for parsing the user input.
//
//nolint:lll // some tags are long
var cli struct {
	Config kong.ConfigFlag `help:"YAML configuration file."`

	Backend       string        `default:"postgresql"                      help:"${help_backend}"       enum:"${enum_backend}"`
	PostgreSQLURL string        `default:"postgres://127.0.0.1:5432/dbtx"  help:"PostgreSQL URL."      name:"postgresql-url"`
	MySQLURL      string        `default:"mysql://root@127.0.0.1:3306/dbtx" help:"MySQL URL."           name:"mysql-url"`
	SQLiteURL     string        `default:"file:dbtx.sqlite"                 help:"SQLite URI."          name:"sqlite-url"`
	StateDir      string        `default:"."                                help:"Process state directory."`
	Timeout       time.Duration `default:"30s"                              help:"Command timeout."`

	DebugAddr     string `default:"-" help:"Listen address for HTTP handlers for metrics, pprof, etc."`
	OtelTracesURL string `default:""  help:"OpenTelemetry OTLP/HTTP traces endpoint." name:"otel-traces-url"`

	Pool struct {
		Strategy string `default:"queue" help:"${help_pool_strategy}" enum:"${enum_pool_strategy}"`
		MaxSize  int    `default:"10"    help:"Maximum number of connections for queue strategies."`
	} `embed:"" prefix:"pool-"`

	Retry struct {
		Max       int           `default:"3"     help:"Maximum number of retries on serialization conflicts."`
		BaseDelay time.Duration `default:"100ms" help:"Delay before the first retry."`
	} `embed:"" prefix:"retry-"`

	Log struct {
		Level  string `default:"${default_log_level}" help:"${help_log_level}"`
		Format string `default:"console"              help:"${help_log_format}"                     enum:"${enum_log_format}"`
		UUID   bool   `default:"false"                help:"Add instance UUID to all log messages." negatable:""`
	} `embed:"" prefix:"log-"`

	Ping struct{} `cmd:"" help:"Check the database connection."`

	XA struct {
		Recover struct{} `cmd:"" help:"List prepared branches."`

		Commit struct {
			Xid string `arg:"" help:"Branch identifier."`
		} `cmd:"" help:"Commit a prepared branch."`

		Rollback struct {
			Xid string `arg:"" help:"Branch identifier."`
		} `cmd:"" help:"Roll back a prepared branch."`
	} `cmd:"" name:"xa" help:"Resolve prepared distributed transactions."`

	Version struct{} `cmd:"" help:"Print version."`
}

// Additional variables for the kong parsers.
var (
	backendNames = []string{
		backends.Postgres.String(),
		backends.MySQL.String(),
		backends.SQLite.String(),
	}

	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	logFormats = []string{"console", "json"}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_backend":       strings.Join(backendNames, ","),
			"enum_log_format":    strings.Join(logFormats, ","),
			"enum_pool_strategy": strings.Join(strategyNames(), ","),

			"help_backend":       fmt.Sprintf("Backend: '%s'.", strings.Join(backendNames, "', '")),
			"help_log_format":    fmt.Sprintf("Log format: '%s'.", strings.Join(logFormats, "', '")),
			"help_log_level":     fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
			"help_pool_strategy": fmt.Sprintf("Pool strategy: '%s'.", strings.Join(strategyNames(), "', '")),
		},
		kong.DefaultEnvars("DBTX"),
		kong.Configuration(yamlLoader),
	}
)

// strategyNames returns names of all pool strategies.
func strategyNames() []string {
	res := make([]string, 0, len(pool.Strategies()))
	for _, s := range pool.Strategies() {
		res = append(res, s.String())
	}

	return res
}

func main() {
	kongCtx := kong.Parse(&cli, kongOptions...)

	cmd := kongCtx.Command()
	if cmd == "version" {
		printVersion(os.Stdout)
		return
	}

	if err := run(cmd); err != nil {
		zap.L().Sugar().Fatalf("%s failed: %s.", cmd, err)
	}
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DebugBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// printVersion prints build information.
func printVersion(w io.Writer) {
	info := version.Get()

	fmt.Fprintln(w, "version:", info.Version)
	fmt.Fprintln(w, "commit:", info.Commit)
	fmt.Fprintln(w, "branch:", info.Branch)
	fmt.Fprintln(w, "dirty:", info.Dirty)
	fmt.Fprintln(w, "debugBuild:", info.DebugBuild)
}

// setupState setups state provider.
func setupState() *state.Provider {
	var f string

	// https://github.com/alecthomas/kong/issues/389
	if cli.StateDir != "" && cli.StateDir != "-" {
		var err error
		if f, err = filepath.Abs(filepath.Join(cli.StateDir, "state.json")); err != nil {
			log.Fatalf("Failed to get path for state file: %s.", err)
		}
	}

	sp, err := state.NewProvider(f)
	if err != nil {
		log.Fatalf("Failed to create state provider: %s.", err)
	}

	return sp
}

// setupLogger setups zap logger.
func setupLogger(sp *state.Provider) *zap.Logger {
	info := version.Get()

	startupFields := []zap.Field{
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("debugBuild", info.DebugBuild),
		zap.Any("buildEnvironment", info.BuildEnvironment),
	}
	logUUID := sp.Get().UUID

	// unless requested, don't add UUID to all messages, but log it once at startup
	if !cli.Log.UUID {
		startupFields = append(startupFields, zap.String("uuid", logUUID))
		logUUID = ""
	}

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	l := logging.Setup(level, cli.Log.Format, logUUID)

	l.Debug("Starting dbtx "+info.Version+"...", startupFields...)

	if debugbuild.Enabled {
		l.Debug("This is debug build. The performance will be affected.")
	}

	return l
}

// openBackend creates the backend selected by flags.
func openBackend(l *zap.Logger, sp *state.Provider) (backends.Backend, error) {
	switch cli.Backend {
	case backends.Postgres.String():
		return postgresql.NewBackend(&postgresql.NewBackendParams{URI: cli.PostgreSQLURL, L: l, P: sp})
	case backends.MySQL.String():
		return mysql.NewBackend(&mysql.NewBackendParams{URI: cli.MySQLURL, L: l, P: sp})
	case backends.SQLite.String():
		return sqlite.NewBackend(&sqlite.NewBackendParams{URI: cli.SQLiteURL, L: l, P: sp})
	default:
		return nil, lazyerrors.Errorf("unknown backend %q", cli.Backend)
	}
}

// dumpMetrics dumps all Prometheus metrics to stderr.
func dumpMetrics() {
	mfs := must.NotFail(prometheus.DefaultGatherer.Gather())

	for _, mf := range mfs {
		must.NotFail(expfmt.MetricFamilyToText(os.Stderr, mf))
	}
}

// run sets up environment based on provided flags and runs the given command.
func run(cmd string) error {
	// to increase a chance of resource finalizers to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	sp := setupState()
	r := prometheus.DefaultRegisterer
	r.MustRegister(sp.MetricsCollector(true))

	logger := setupLogger(sp)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	shutdown, err := observability.SetupOtel("dbtx", version.Get().Version, cli.OtelTracesURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}()

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()

	// the whole command is a single owner for the per-owner strategy
	ctx = pool.WithOwner(ctx, os.Getpid())

	started := make(chan struct{})

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		h, err := debug.Listen(&debug.ListenOpts{
			TCPAddr: cli.DebugAddr,
			L:       logger.Named("debug"),
			R:       r,
			G:       prometheus.DefaultGatherer,
			Started: started,
		})
		if err != nil {
			return err
		}

		debugCtx, debugCancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})

		go func() {
			defer close(done)
			h.Serve(debugCtx)
		}()

		defer func() {
			debugCancel()
			<-done
		}()
	}

	b, err := openBackend(logger, sp)
	if err != nil {
		return err
	}

	defer b.Close()

	if c, ok := b.(prometheus.Collector); ok {
		r.MustRegister(c)
	}

	strategy, err := pool.ParseStrategy(cli.Pool.Strategy)
	if err != nil {
		return err
	}

	p, err := pool.New(&pool.NewOpts[backends.Conn]{
		Strategy: strategy,
		Factory:  pool.ConnFactory(b),
		L:        logger,
		MaxSize:  cli.Pool.MaxSize,
		Name:     "main",
	})
	if err != nil {
		return err
	}

	defer p.Close()

	r.MustRegister(p)

	close(started)

	if debugbuild.Enabled {
		defer dumpMetrics()
	}

	cfg := &retry.Config{
		MaxRetries: cli.Retry.Max,
		BaseDelay:  cli.Retry.BaseDelay,
	}

	// zero means the default for retry.Config
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = -1
	}

	switch cmd {
	case "ping":
		return ping(ctx, os.Stdout, &cmdOpts{b: b, p: p, r: r, l: logger, retry: cfg})
	case "xa recover":
		return xaRecover(ctx, os.Stdout, &cmdOpts{b: b, p: p, l: logger, s: sp})
	case "xa commit <xid>":
		return xaCommit(ctx, &cmdOpts{b: b, p: p, l: logger, s: sp}, cli.XA.Commit.Xid)
	case "xa rollback <xid>":
		return xaRollback(ctx, &cmdOpts{b: b, p: p, l: logger, s: sp}, cli.XA.Rollback.Xid)
	default:
		return lazyerrors.Errorf("unknown command %q", cmd)
	}
}
