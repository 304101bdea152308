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
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func TestHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testutil.Ctx(t))

	reg := prometheus.NewRegistry()
	started := make(chan struct{})

	h, err := Listen(&ListenOpts{
		TCPAddr: "127.0.0.1:0",
		L:       testutil.Logger(t),
		R:       reg,
		G:       reg,
		Started: started,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		h.Serve(ctx)
	}()

	get := func(path string) (int, string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+h.Addr().String()+path, nil)
		require.NoError(t, err)

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		defer res.Body.Close()

		b, err := io.ReadAll(res.Body)
		require.NoError(t, err)

		return res.StatusCode, string(b)
	}

	code, _ := get("/debug/started")
	assert.Equal(t, http.StatusInternalServerError, code)

	close(started)

	code, _ = get("/debug/started")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/debug")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "/debug/metrics")

	code, body = get("/debug/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "promhttp_metric_handler_requests_total")

	cancel()
	wg.Wait()
}
