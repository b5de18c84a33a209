// Package main is the server entry point: the io_uring engine by default,
// or one of the comparison servers.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/baseline/chi"
	"github.com/goceleris/ringserver/servers/baseline/echo"
	"github.com/goceleris/ringserver/servers/baseline/fiber"
	"github.com/goceleris/ringserver/servers/baseline/gin"
	irisserver "github.com/goceleris/ringserver/servers/baseline/iris"
	"github.com/goceleris/ringserver/servers/baseline/stdhttp"
	"github.com/goceleris/ringserver/servers/common"
)

func main() {
	def := config.Default()
	cfg := def

	engineName := flag.String("engine", "iouring", "Server engine: iouring, epoll, stdhttp, chi, gin, echo, fiber, iris")
	flag.StringVar(&cfg.Host, "host", def.Host, "IPv4 address to bind")
	flag.IntVar(&cfg.Port, "port", def.Port, "Port to listen on")
	flag.IntVar(&cfg.Workers, "workers", def.Workers, "Worker threads, each pinned to one core")
	flag.IntVar(&cfg.QueueDepth, "queue-depth", def.QueueDepth, "io_uring submission queue entries per worker")
	flag.IntVar(&cfg.ReadSize, "read-size", def.ReadSize, "Receive buffer size in bytes")
	flag.IntVar(&cfg.Backlog, "backlog", def.Backlog, "listen(2) backlog")
	flag.IntVar(&cfg.BufferEntries, "buffer-entries", def.BufferEntries, "Pooled receive buffers per worker (ring mode)")
	flag.IntVar(&cfg.MaxConns, "max-conns", def.MaxConns, "Open connections per worker")
	flag.StringVar(&cfg.Mode, "buffers", def.Mode, "Receive buffer mode: ring or inline")
	flag.StringVar(&cfg.Faults, "faults", def.Faults, "On unexpected I/O errors: abort or isolate")
	flag.StringVar(&cfg.Stalls, "stalls", def.Stalls, "On a full submission queue: retry or drop")
	h2c := flag.Bool("h2c", false, "Baselines also accept HTTP/2 cleartext")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fatal(fmt.Errorf("invalid log level: %w", err))
	}
	log.SetLevel(level)

	if err := response.Validate(response.Payload); err != nil {
		fatal(fmt.Errorf("response payload: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("Shutting down.")
		os.Exit(0)
	}()

	log.WithFields(logrus.Fields{
		"engine":  *engineName,
		"addr":    cfg.Addr(),
		"workers": cfg.Workers,
	}).Info("Starting server")

	base := common.ServerConfig{Addr: cfg.Addr(), H2C: *h2c, MaxConns: cfg.Backlog}

	switch *engineName {
	case "iouring":
		err = runIOUring(cfg, log)
	case "epoll":
		err = runEpoll(cfg, log)
	case "stdhttp":
		err = stdhttp.NewServer(base).Run()
	case "chi":
		err = chi.NewServer(base).Run()
	case "gin":
		err = gin.NewServer(base).Run()
	case "echo":
		err = echo.NewServer(base).Run()
	case "fiber":
		err = fiber.NewServer(base).Run()
	case "iris":
		err = irisserver.NewServer(base).Run()
	default:
		fmt.Fprintf(os.Stderr, "Unknown engine: %s\n", *engineName)
		fmt.Fprintf(os.Stderr, "Available engines:\n")
		fmt.Fprintf(os.Stderr, "  Theoretical: iouring, epoll\n")
		fmt.Fprintf(os.Stderr, "  Baseline: stdhttp, chi, gin, echo, fiber, iris\n")
		os.Exit(1)
	}

	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(1)
}
