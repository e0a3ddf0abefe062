package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestNewCollector(t *testing.T) {
	c := New("")
	require.NotNil(t, c.Registry())

	families := gather(t, c)
	assert.Contains(t, families, "scriptserve_connections_active")
	assert.Contains(t, families, "scriptserve_connections_total")
	assert.Contains(t, families, "go_goroutines")
}

func TestCollectorConnections(t *testing.T) {
	c := New("test")
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.AcceptFailed()

	families := gather(t, c)
	assert.Equal(t, 1.0, families["test_connections_active"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 2.0, families["test_connections_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, families["test_accept_errors_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestCollectorRequests(t *testing.T) {
	c := New("test")
	c.ObserveScript(120)
	c.ObserveExecution("starlark", StatusSuccess, 2*time.Millisecond)
	c.ObserveExecution("starlark", StatusFailure, time.Millisecond)
	c.ObserveExecution("starlark", StatusOversize, 0)
	c.SerializeFailed("json")

	families := gather(t, c)

	requests := families["test_requests_total"]
	require.NotNil(t, requests)
	assert.Len(t, requests.GetMetric(), 3)

	duration := families["test_execution_duration_seconds"]
	require.NotNil(t, duration)
	assert.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	assert.Equal(t, uint64(1), families["test_script_size_bytes"].GetMetric()[0].GetHistogram().GetSampleCount())
	assert.Equal(t, 1.0, families["test_serialize_failures_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectionOpened()
		c.ConnectionClosed()
		c.AcceptFailed()
		c.ObserveScript(1)
		c.ObserveExecution("lua", StatusSuccess, time.Second)
		c.SerializeFailed("cbor")
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	c := New("test")
	c.ConnectionOpened()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_connections_active 1")
}
