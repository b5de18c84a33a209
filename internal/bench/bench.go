// Package bench drives keep-alive HTTP load at a server and checks that
// every response carries the expected body.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goceleris/ringserver/internal/response"
)

// ErrBodyMismatch is counted when a response body differs from Config.Expect.
var ErrBodyMismatch = errors.New("bench: unexpected response body")

// Config describes one load run.
type Config struct {
	URL         string
	Duration    time.Duration
	Warmup      time.Duration
	Connections int
	Workers     int
	// Expect is the exact body every response must carry. Nil disables the
	// check.
	Expect []byte
}

// DefaultConfig returns the settings used by cmd/bench before flags apply.
func DefaultConfig() Config {
	return Config{
		Duration:    30 * time.Second,
		Warmup:      5 * time.Second,
		Connections: 256,
		Workers:     8,
		Expect:      []byte(response.Body),
	}
}

type tally struct {
	ok         atomic.Int64
	failed     atomic.Int64
	mismatched atomic.Int64
	bytes      atomic.Int64
}

func (t *tally) reset() {
	t.ok.Store(0)
	t.failed.Store(0)
	t.mismatched.Store(0)
	t.bytes.Store(0)
}

// Benchmarker issues GET requests over a pool of keep-alive connections.
type Benchmarker struct {
	cfg    Config
	client *http.Client
	tally  tally
}

// New builds a Benchmarker whose transport holds at most cfg.Connections
// connections to the target.
func New(cfg Config) *Benchmarker {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Connections,
		MaxIdleConnsPerHost: cfg.Connections,
		MaxConnsPerHost:     cfg.Connections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Benchmarker{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// Run warms the connection pool with half the workers, then measures with
// all of them for cfg.Duration or until ctx ends.
func (b *Benchmarker) Run(ctx context.Context) (*Result, error) {
	if b.cfg.Workers <= 0 {
		return nil, fmt.Errorf("bench: workers must be positive, got %d", b.cfg.Workers)
	}
	defer b.client.CloseIdleConnections()

	if b.cfg.Warmup > 0 {
		b.phase(ctx, b.cfg.Warmup, max(b.cfg.Workers/2, 1))
	}
	b.tally.reset()

	start := time.Now()
	samples := b.phase(ctx, b.cfg.Duration, b.cfg.Workers)
	return b.result(time.Since(start), samples), nil
}

// phase runs n workers until d elapses and returns their latency samples.
func (b *Benchmarker) phase(ctx context.Context, d time.Duration, n int) []time.Duration {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	per := make([][]time.Duration, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			per[i] = b.loop(ctx)
		}()
	}
	wg.Wait()
	return slices.Concat(per...)
}

func (b *Benchmarker) loop(ctx context.Context) []time.Duration {
	var samples []time.Duration
	for ctx.Err() == nil {
		start := time.Now()
		n, err := b.exchange(ctx)
		switch {
		case err == nil:
			b.tally.ok.Add(1)
			b.tally.bytes.Add(int64(n))
			samples = append(samples, time.Since(start))
		case ctx.Err() != nil:
			// Cut off by the end of the phase.
		case errors.Is(err, ErrBodyMismatch):
			b.tally.failed.Add(1)
			b.tally.mismatched.Add(1)
		default:
			b.tally.failed.Add(1)
		}
	}
	return samples
}

// exchange performs one request and returns the body length.
func (b *Benchmarker) exchange(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return len(body), err
	}
	if resp.StatusCode != http.StatusOK {
		return len(body), fmt.Errorf("bench: status %d", resp.StatusCode)
	}
	if b.cfg.Expect != nil && !bytes.Equal(body, b.cfg.Expect) {
		return len(body), fmt.Errorf("%w: %q", ErrBodyMismatch, body)
	}
	return len(body), nil
}

func (b *Benchmarker) result(elapsed time.Duration, samples []time.Duration) *Result {
	secs := elapsed.Seconds()
	return &Result{
		Requests:       b.tally.ok.Load(),
		Errors:         b.tally.failed.Load(),
		Mismatches:     b.tally.mismatched.Load(),
		Duration:       elapsed,
		RequestsPerSec: float64(b.tally.ok.Load()) / secs,
		ThroughputBPS:  float64(b.tally.bytes.Load()) / secs,
		Latency:        Summarize(samples),
	}
}
