//go:build linux

// Package epoll is a barebones readiness-based server: one edge-triggered
// epoll loop answering every non-empty read with the fixed response. It
// exists to compare one-syscall-per-event I/O against the completion engine.
package epoll

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/internal/worker"
)

const maxEvents = 1024

// Server is one epoll loop with its own SO_REUSEPORT listener.
type Server struct {
	cfg      config.Config
	log      logrus.FieldLogger
	epollFd  int
	listenFd int
	// scratch receives every read; the bytes are never looked at.
	scratch []byte
	live    int
}

// NewServer creates an epoll server for cfg. Nothing is bound until Listen.
func NewServer(cfg config.Config, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		epollFd:  -1,
		listenFd: -1,
		scratch:  make([]byte, cfg.ReadSize),
	}
}

// Run binds and serves until a fatal error.
func (s *Server) Run() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the listener and registers it with a new epoll instance.
func (s *Server) Listen() (netip.AddrPort, error) {
	listenFd, addr, err := worker.Listen(s.cfg.Host, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		return netip.AddrPort{}, err
	}
	s.listenFd = listenFd

	if err := unix.SetNonblock(listenFd, true); err != nil {
		return netip.AddrPort{}, fmt.Errorf("set nonblock: %w", errors.Join(err, s.Close()))
	}

	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("epoll_create1: %w", errors.Join(err, s.Close()))
	}
	s.epollFd = epollFd

	event := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(listenFd),
	}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, listenFd, event); err != nil {
		return netip.AddrPort{}, fmt.Errorf("epoll_ctl add listen: %w", errors.Join(err, s.Close()))
	}

	s.log = s.log.WithField("addr", addr.String())
	return addr, nil
}

// Serve runs the event loop. It returns only on a fatal error.
func (s *Server) Serve() error {
	s.log.Info("epoll server listening")
	events := make([]unix.EpollEvent, maxEvents)

	for {
		n, err := unix.EpollWait(s.epollFd, events, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			switch {
			case fd == s.listenFd:
				s.acceptConnections()
			case events[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0:
				s.handleRead(fd)
			case events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0:
				s.closeConnection(fd)
			}
		}
	}
}

func (s *Server) acceptConnections() {
	for {
		connFd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			if err == syscall.ECONNABORTED || err == syscall.EINTR {
				continue
			}
			s.log.WithError(err).Warn("accept failed")
			return
		}

		if s.live >= s.cfg.MaxConns {
			_ = unix.Close(connFd)
			continue
		}
		_ = worker.SetNoDelay(int32(connFd))

		event := &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
			Fd:     int32(connFd),
		}
		if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_ADD, connFd, event); err != nil {
			_ = unix.Close(connFd)
			continue
		}
		s.live++
	}
}

// handleRead drains fd. Every non-empty read gets one copy of the payload,
// whatever it contained.
func (s *Server) handleRead(fd int) {
	for {
		n, err := unix.Read(fd, s.scratch)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			s.closeConnection(fd)
			return
		}
		if n == 0 {
			s.closeConnection(fd)
			return
		}
		if _, err := unix.Write(fd, response.Payload); err != nil {
			s.closeConnection(fd)
			return
		}
	}
}

func (s *Server) closeConnection(fd int) {
	_ = unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	_ = unix.Close(fd)
	s.live--
}

// Close releases the listener and the epoll instance. Connections still
// open are left to process exit.
func (s *Server) Close() error {
	var errs []error
	if s.epollFd >= 0 {
		errs = append(errs, unix.Close(s.epollFd))
		s.epollFd = -1
	}
	if s.listenFd >= 0 {
		errs = append(errs, unix.Close(s.listenFd))
		s.listenFd = -1
	}
	return errors.Join(errs...)
}
