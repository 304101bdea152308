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

package debug

import (
	"github.com/arl/statsviz"

	"github.com/FerretDB/dbtx/internal/util/must"
)

// poolPlots returns statsviz plots of connection pool and retry metrics.
func poolPlots(g *gatherer) []statsviz.TimeSeriesPlot {
	series := func(name, metric string) statsviz.TimeSeries {
		return statsviz.TimeSeries{
			Name:     name,
			Unitfmt:  "%{y:.0f}",
			GetValue: func() float64 { return g.sum(metric) },
		}
	}

	connections := must.NotFail(statsviz.TimeSeriesPlotConfig{
		Name:  "dbtx_pool_connections",
		Title: "Pooled connections",
		Type:  statsviz.Scatter,
		Series: []statsviz.TimeSeries{
			series("size", "dbtx_pool_size"),
			series("active", "dbtx_pool_active"),
		},
		YAxisTitle: "connections",
	}.Build())

	retries := must.NotFail(statsviz.TimeSeriesPlotConfig{
		Name:  "dbtx_retry_attempts",
		Title: "Transaction retries",
		Type:  statsviz.Bar,
		Series: []statsviz.TimeSeries{
			series("retries", "dbtx_retry_retries_total"),
			series("exhausted", "dbtx_retry_exhausted_total"),
		},
		YAxisTitle: "count",
	}.Build())

	return []statsviz.TimeSeriesPlot{connections, retries}
}
