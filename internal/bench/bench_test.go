package bench

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goceleris/ringserver/internal/response"
)

func quickConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Duration = 200 * time.Millisecond
	cfg.Warmup = 0
	cfg.Workers = 2
	cfg.Connections = 2
	return cfg
}

func TestBenchmarkerCountsVerifiedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, response.Body)
	}))
	defer srv.Close()

	res, err := New(quickConfig(srv.URL)).Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, res.Requests)
	assert.Zero(t, res.Errors)
	assert.Zero(t, res.Mismatches)
	assert.Positive(t, res.RequestsPerSec)
	assert.LessOrEqual(t, res.Latency.Min, res.Latency.P50)
	assert.LessOrEqual(t, res.Latency.P50, res.Latency.Max)
}

func TestBenchmarkerFlagsWrongBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Hello, World!")
	}))
	defer srv.Close()

	res, err := New(quickConfig(srv.URL)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Requests)
	assert.Positive(t, res.Mismatches)
	assert.Equal(t, res.Errors, res.Mismatches)
}

func TestBenchmarkerWithoutExpect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "anything")
	}))
	defer srv.Close()

	cfg := quickConfig(srv.URL)
	cfg.Expect = nil
	res, err := New(cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, res.Requests)
	assert.Zero(t, res.Errors)
}

func TestBenchmarkerStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, response.Body)
	}))
	defer srv.Close()

	cfg := quickConfig(srv.URL)
	cfg.Duration = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(cfg).Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBenchmarkerRejectsNoWorkers(t *testing.T) {
	cfg := quickConfig("http://127.0.0.1:1/")
	cfg.Workers = 0
	_, err := New(cfg).Run(context.Background())
	assert.Error(t, err)
}

func TestBenchmarkerCountsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := New(quickConfig(srv.URL)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Requests)
	assert.Positive(t, res.Errors)
	assert.Zero(t, res.Mismatches)
}
