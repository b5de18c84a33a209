//go:build linux

package main

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/worker"
	"github.com/goceleris/ringserver/servers/theoretical/epoll"
)

// runIOUring starts one engine worker per configured thread, pinned round
// robin over the CPUs, and returns the first fatal error.
func runIOUring(cfg config.Config, log logrus.FieldLogger) error {
	errs := make(chan error, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		core := i % runtime.NumCPU()
		go func() {
			errs <- worker.Run(cfg, core, log)
		}()
	}
	return <-errs
}

// runEpoll starts one epoll loop per configured thread, all sharing the port
// through SO_REUSEPORT.
func runEpoll(cfg config.Config, log logrus.FieldLogger) error {
	errs := make(chan error, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		s := epoll.NewServer(cfg, log.WithField("loop", i))
		go func() {
			runtime.LockOSThread()
			errs <- s.Run()
		}()
	}
	return <-errs
}
