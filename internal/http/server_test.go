package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/metrics"
	"github.com/cartridge/otreward/internal/middleware"
	"github.com/cartridge/otreward/internal/replay"
	"github.com/cartridge/otreward/internal/varsync"
)

func newTestServer() (*Server, *varsync.MemorySource) {
	memory := varsync.NewMemorySource()
	return NewServer(memory, memory, zerolog.New(io.Discard)), memory
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer()
	res := httptest.NewRecorder()
	server.Routes().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.Header().Get(middleware.CorrelationHeader))
}

func TestVariablesLifecycle(t *testing.T) {
	server, _ := newTestServer()
	routes := server.Routes()

	res := httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/variables?name=policy", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)

	body, _ := json.Marshal(map[string]any{"values": map[string][]float64{"policy": {1, 2}}})
	res = httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/api/v1/variables", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, res.Code)
	var published map[string]int64
	require.NoError(t, json.NewDecoder(res.Body).Decode(&published))
	assert.Equal(t, int64(1), published["version"])

	res = httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/variables?name=policy", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var snapshot varsync.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snapshot))
	assert.Equal(t, []float64{1, 2}, snapshot.Values["policy"])

	res = httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/variables?name=critic", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestPublishRejectsBadPayloads(t *testing.T) {
	server, _ := newTestServer()
	routes := server.Routes()

	res := httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/api/v1/variables", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = httptest.NewRecorder()
	routes.ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/api/v1/variables", bytes.NewReader([]byte(`{"values":{}}`))))
	assert.Equal(t, http.StatusBadRequest, res.Code)

	readOnly := NewServer(varsync.NewMemorySource(), nil, zerolog.New(io.Discard))
	res = httptest.NewRecorder()
	readOnly.Routes().ServeHTTP(res, httptest.NewRequest(http.MethodPut, "/api/v1/variables", bytes.NewReader([]byte(`{"values":{"a":[1]}}`))))
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestStats(t *testing.T) {
	collector := metrics.NewCollector(zerolog.New(io.Discard))
	collector.EpisodeRelabeled(4, 0, 1.5, true, time.Millisecond)
	backend := replay.NewMemoryBackend(0)
	require.NoError(t, backend.Store(context.Background(), &replay.Transition{Reward: 2}))

	server, _ := newTestServer()
	server.WithStats(collector, backend)

	res := httptest.NewRecorder()
	server.Routes().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var out struct {
		Relabel metrics.Stats `json:"relabel"`
		Replay  replay.Stats  `json:"replay"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, int64(1), out.Relabel.EpisodesRelabeled)
	assert.Equal(t, int64(4), out.Relabel.StepsRelabeled)
	assert.Equal(t, uint64(1), out.Replay.TotalTransitions)
}

func TestHTTPSourceAgainstServer(t *testing.T) {
	server, memory := newTestServer()
	ts := httptest.NewServer(server.Routes())
	defer ts.Close()

	ctx := context.Background()
	source := varsync.NewHTTPSource(ts.URL, ts.Client())

	_, err := source.Variables(ctx, []string{"policy"})
	assert.ErrorIs(t, err, varsync.ErrNotReady)

	_, err = memory.Publish(ctx, map[string][]float64{"policy": {0.25}})
	require.NoError(t, err)

	client, err := varsync.NewClient(source, varsync.ClientOptions{
		Names:        []string{"policy"},
		UpdatePeriod: 1,
		WaitInterval: time.Millisecond,
	}, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, client.UpdateAndWait(ctx))

	params, err := client.Params()
	require.NoError(t, err)
	assert.Equal(t, int64(1), params.Version)
	assert.Equal(t, []float64{0.25}, params.Values["policy"])

	_, err = source.Variables(ctx, []string{"missing"})
	assert.ErrorIs(t, err, varsync.ErrUnknownVariable)
}
