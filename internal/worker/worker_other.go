//go:build !linux

package worker

import (
	"errors"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/engine"
)

var errNotLinux = errors.New("worker: only supported on Linux")

func Listen(host string, port, backlog int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, errNotLinux
}

func Pin(core int) error { return errNotLinux }

func SetNoDelay(fd int32) error { return errNotLinux }

func New(cfg config.Config, fd int, log logrus.FieldLogger) (*Worker, error) {
	return nil, engine.ErrUnsupported
}
