package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/resilience"
)

func testConfig() Config {
	cfg := DefaultConfig("test")
	cfg.Timeout = 2 * time.Second
	cfg.RetryMax = 2
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	return cfg
}

func get(url string) func(*resty.Request) (*resty.Response, error) {
	return func(r *resty.Request) (*resty.Response, error) { return r.Get(url) }
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "VisualEdit/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(testConfig(), nil, nil)
	resp, err := c.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.String())
	assert.Equal(t, int32(3), hits.Load())
}

func TestDoClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(), nil, nil)
	resp, err := c.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, int32(1), hits.Load())
}

func TestDoTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	cfg := testConfig()
	cfg.RetryMax = 0
	cfg.BreakerFailures = 2
	c := New(cfg, nil, metrics)

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), get(srv.URL))
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadGateway, se.Code)
	}

	_, err := c.Do(context.Background(), get(srv.URL))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test")))
}

func TestDoHonoursCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = 1
	c := New(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, get("http://127.0.0.1:1"))
	assert.Error(t, err)
	assert.Equal(t, resilience.StateClosed, c.Breaker.State())
}
