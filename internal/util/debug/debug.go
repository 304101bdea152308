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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"slices"
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/must"
)

// Handler serves debug endpoints.
type Handler struct {
	lis net.Listener
	srv *http.Server
	l   *zap.Logger
}

// ListenOpts represents [Listen] options.
type ListenOpts struct {
	TCPAddr string
	L       *zap.Logger
	R       prometheus.Registerer
	G       prometheus.Gatherer

	// Started is closed when the program is ready;
	// until then /debug/started responds with 500
	Started <-chan struct{}
}

// Listen creates a new debug handler and starts listening on the given address.
func Listen(opts *ListenOpts) (*Handler, error) {
	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	mux := http.NewServeMux()
	stdL := must.NotFail(zap.NewStdLogAt(opts.L, zap.WarnLevel))
	g := newGatherer(opts.G, opts.L.Named("gatherer"))

	handlers := map[string]string{
		"/debug/metrics": "Metrics in Prometheus format",
		"/debug/graphs":  "Visualize metrics",
		"/debug/pprof":   "Runtime profiling data for pprof",
		"/debug/vars":    "Expvar package metrics",
		"/debug/started": "Readiness probe",
	}

	mux.Handle("/debug/metrics", promhttp.InstrumentMetricHandler(
		opts.R, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          opts.R,
			EnableOpenMetrics: true,
		}),
	))

	svOpts := []statsviz.Option{statsviz.Root("/debug/graphs")}
	for _, p := range poolPlots(g) {
		svOpts = append(svOpts, statsviz.TimeseriesPlot(p))
	}

	if err = statsviz.Register(mux, svOpts...); err != nil {
		_ = lis.Close()
		return nil, lazyerrors.Error(err)
	}

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	mux.HandleFunc("/debug/started", func(rw http.ResponseWriter, _ *http.Request) {
		select {
		case <-opts.Started:
			rw.WriteHeader(http.StatusOK)
		default:
			rw.WriteHeader(http.StatusInternalServerError)
		}
	})

	var page bytes.Buffer
	must.NoError(indexTemplate.Execute(&page, handlers))

	mux.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	return &Handler{
		lis: lis,
		l:   opts.L,
		srv: &http.Server{
			Handler:  mux,
			ErrorLog: stdL,
		},
	}, nil
}

// Addr returns the listener address.
func (h *Handler) Addr() net.Addr {
	return h.lis.Addr()
}

// Serve runs the handler until ctx is canceled.
func (h *Handler) Serve(ctx context.Context) {
	h.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		h.l.Sugar().Infof("Starting debug server on http://%s/", h.lis.Addr())

		if err := h.srv.Serve(h.lis); !errors.Is(err, http.ErrServerClosed) {
			h.l.DPanic("Debug server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()

	// ctx is already canceled, but we want to inherit its values
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer stopCancel()

	_ = h.srv.Shutdown(stopCtx)

	h.l.Info("Debug server stopped")
}

// sortedKeys returns sorted keys of the map.
func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)

	return keys
}

var indexTemplate = template.Must(template.New("debug").Funcs(template.FuncMap{"sortedKeys": sortedKeys}).Parse(`
<html>
<body>
<ul>
{{range $path := sortedKeys .}}
	<li><a href="{{$path}}">{{$path}}</a>: {{index $ $path}}</li>
{{end}}
</ul>
</body>
</html>
`))
