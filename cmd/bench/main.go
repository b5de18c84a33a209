// Package main runs a load test against one server, verifies its responses
// and optionally records the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/bench"
	"github.com/goceleris/ringserver/internal/store"
)

func main() {
	target := flag.String("url", "http://127.0.0.1:3003/", "URL to benchmark")
	server := flag.String("server", "iouring", "Label recorded with the results")
	duration := flag.Duration("duration", 30*time.Second, "Benchmark duration")
	warmup := flag.Duration("warmup", 5*time.Second, "Warmup duration")
	connections := flag.Int("connections", 0, "Number of connections (0 = auto-scale based on workers)")
	workers := flag.Int("workers", 0, "Number of worker goroutines (0 = auto-scale based on CPU)")
	output := flag.String("output", "", "Write JSON results to this file")
	storeDir := flag.String("store", "", "BadgerDB directory for run history (empty = don't record)")
	history := flag.Int("history", 0, "Print the last N stored runs for -server (empty = all) and exit")
	verify := flag.Bool("verify", true, "Check the raw response bytes before benchmarking")
	wait := flag.Duration("wait", 10*time.Second, "How long to wait for the server to accept connections")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)

	var st *store.Store
	if *storeDir != "" {
		st, err = store.New(*storeDir, log)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer st.Close()
	}

	if *history > 0 {
		if st == nil {
			log.Fatal("-history needs -store")
		}
		if err := printHistory(st, *server, *history); err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log, st, options{
		target:      *target,
		server:      *server,
		duration:    *duration,
		warmup:      *warmup,
		connections: *connections,
		workers:     *workers,
		output:      *output,
		verify:      *verify,
		wait:        *wait,
	}); err != nil {
		log.Errorf("Benchmark failed: %v", err)
		cancel()
		os.Exit(1)
	}
}

type options struct {
	target      string
	server      string
	duration    time.Duration
	warmup      time.Duration
	connections int
	workers     int
	output      string
	verify      bool
	wait        time.Duration
}

func run(ctx context.Context, log logrus.FieldLogger, st *store.Store, o options) error {
	addr, err := hostPort(o.target)
	if err != nil {
		return err
	}
	if err := waitForServer(ctx, addr, o.wait); err != nil {
		return err
	}
	if o.verify {
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := bench.Verify(vctx, addr, 16)
		cancel()
		if err != nil {
			return fmt.Errorf("response check: %w", err)
		}
		log.WithField("addr", addr).Info("Responses verified")
	}

	workers, connections := autoScale(runtime.NumCPU(), o.workers, o.connections)
	cfg := bench.DefaultConfig()
	cfg.URL = o.target
	cfg.Duration = o.duration
	cfg.Warmup = o.warmup
	cfg.Workers = workers
	cfg.Connections = connections

	log.WithFields(logrus.Fields{
		"server":      o.server,
		"url":         o.target,
		"duration":    o.duration,
		"workers":     workers,
		"connections": connections,
	}).Info("Benchmark starting")

	result, err := bench.New(cfg).Run(ctx)
	if err != nil {
		return err
	}
	if result.Mismatches > 0 {
		log.WithField("mismatches", result.Mismatches).Warn("Server returned unexpected bodies")
	}

	sr := result.ToServerResult(o.server, o.target)
	bcfg := bench.BenchmarkConfig{
		Duration:    o.duration.String(),
		Connections: connections,
		Workers:     workers,
		CPUs:        runtime.NumCPU(),
	}
	printResult(sr)

	if o.output != "" {
		out := &bench.BenchmarkOutput{
			Timestamp:    time.Now().UTC().Format("2006-01-02T15_04_05Z"),
			Architecture: runtime.GOARCH,
			Config:       bcfg,
			Results:      []bench.ServerResult{sr},
		}
		if err := out.WriteFile(o.output); err != nil {
			return err
		}
		log.WithField("file", o.output).Info("Results written")
	}

	if st != nil {
		rec := &store.Run{
			Server: o.server,
			URL:    o.target,
			Arch:   runtime.GOARCH,
			Config: bcfg,
			Result: sr,
		}
		if err := st.SaveRun(rec); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		log.WithField("id", rec.ID).Info("Run recorded")
	}
	return nil
}

// autoScale fills in unset worker and connection counts from the CPU count.
func autoScale(numCPU, workers, connections int) (int, int) {
	if workers <= 0 {
		workers = min(max(numCPU*4, 8), 1024)
	}
	if connections <= 0 {
		connections = min(max(workers*2, 64), 4096)
	}
	return workers, connections
}

// hostPort extracts the dial address from an http URL.
func hostPort(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host, port := u.Hostname(), u.Port()
	if host == "" {
		return "", errors.New("url has no host")
	}
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(host, port), nil
}

func waitForServer(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for server on %s", addr)
}

func printResult(r bench.ServerResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "server\t%s\n", r.Server)
	fmt.Fprintf(w, "requests/sec\t%.0f\n", r.RequestsPerSec)
	fmt.Fprintf(w, "transfer/sec\t%s\n", r.TransferPerSec)
	fmt.Fprintf(w, "requests\t%d\n", r.Requests)
	fmt.Fprintf(w, "errors\t%d (%d bad bodies)\n", r.Errors, r.Mismatches)
	fmt.Fprintf(w, "latency avg/p50/p99/max\t%s / %s / %s / %s\n", r.Latency.Avg, r.Latency.P50, r.Latency.P99, r.Latency.Max)
	_ = w.Flush()
}

func printHistory(st *store.Store, server string, n int) error {
	runs, err := st.ListRuns(server, n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "started\tserver\treq/s\tp99\terrors\tid")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Server, r.Result.RequestsPerSec, r.Result.Latency.P99, r.Result.Errors, r.ID)
	}
	return w.Flush()
}
