// Package worker bootstraps one engine reactor per CPU core: a pinned OS
// thread, its own SO_REUSEPORT listener and its own ring.
package worker

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/engine"
	"github.com/goceleris/ringserver/internal/response"
)

// Worker serves one listener from one reactor.
type Worker struct {
	reactor *engine.Reactor
	log     logrus.FieldLogger
}

// Run pins the calling goroutine to core, binds the listener and serves
// until a fatal error.
func Run(cfg config.Config, core int, log logrus.FieldLogger) error {
	if err := Pin(core); err != nil {
		return err
	}
	fd, addr, err := Listen(cfg.Host, cfg.Port, cfg.Backlog)
	if err != nil {
		return err
	}
	w, err := New(cfg, fd, log.WithFields(logrus.Fields{"core": core, "addr": addr.String()}))
	if err != nil {
		return err
	}
	return w.Serve()
}

// Serve runs the reactor. It returns only on a fatal error.
func (w *Worker) Serve() error {
	w.log.Info("Worker started")
	err := w.reactor.Run()
	s := w.reactor.Stats()
	w.log.WithFields(logrus.Fields{
		"accepted":  s.Accepted,
		"responses": s.Responses,
		"closed":    s.Closed,
		"resets":    s.Resets,
		"stalled":   s.StalledTotal(),
	}).Error("Worker stopped")
	return err
}

func engineOptions(cfg config.Config, fd int, log logrus.FieldLogger) (engine.Options, error) {
	mode, err := engine.ParseBufferMode(cfg.Mode)
	if err != nil {
		return engine.Options{}, err
	}
	faults, err := engine.ParseFaultPolicy(cfg.Faults)
	if err != nil {
		return engine.Options{}, err
	}
	stalls, err := engine.ParseStallPolicy(cfg.Stalls)
	if err != nil {
		return engine.Options{}, err
	}
	if fd < 0 || fd > int(^uint32(0)>>1) {
		return engine.Options{}, fmt.Errorf("worker: invalid listener fd %d", fd)
	}
	return engine.Options{
		Listener:      int32(fd),
		QueueDepth:    uint32(cfg.QueueDepth),
		ReadSize:      cfg.ReadSize,
		BufferEntries: cfg.BufferEntries,
		// One context is always parked on the pending accept.
		MaxConns:   cfg.MaxConns + 1,
		Mode:       mode,
		Faults:     faults,
		Stalls:     stalls,
		Payload:    response.Payload,
		SetNoDelay: SetNoDelay,
		Logger:     log,
	}, nil
}
