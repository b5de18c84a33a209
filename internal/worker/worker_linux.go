//go:build linux

package worker

import (
	"fmt"
	"net/netip"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/engine"
)

// Listen opens a blocking IPv4 TCP listener with SO_REUSEADDR and
// SO_REUSEPORT, so every worker can bind the same port and get its own
// accept queue. Port 0 picks an ephemeral port; the bound address is
// returned.
func Listen(host string, port, backlog int) (int, netip.AddrPort, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return -1, netip.AddrPort{}, fmt.Errorf("listen: %q is not an IPv4 address", host)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, netip.AddrPort{}, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (int, netip.AddrPort, error) {
		unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt(SO_REUSEADDR)", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fail("setsockopt(SO_REUSEPORT)", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip.As4()}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return fail("getsockname", fmt.Errorf("unexpected address %T", sa))
	}
	return fd, netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port)), nil
}

// Pin locks the calling goroutine to its OS thread and binds that thread to
// core. The goroutine must not return to the scheduler's pool afterwards.
func Pin(core int) error {
	if core < 0 || core >= runtime.NumCPU() {
		return fmt.Errorf("pin: core %d outside [0, %d)", core, runtime.NumCPU())
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(%d): %w", core, err)
	}
	return nil
}

// SetNoDelay disables Nagle's algorithm on an accepted socket.
func SetNoDelay(fd int32) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// New builds a worker around an already listening socket. It returns an
// error wrapping engine.ErrUnsupported when the kernel lacks io_uring or
// provided buffer rings.
func New(cfg config.Config, fd int, log logrus.FieldLogger) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := engineOptions(cfg, fd, log)
	if err != nil {
		return nil, err
	}
	r, err := engine.NewReactor(opts)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return &Worker{reactor: r, log: log.WithField("mode", cfg.Mode)}, nil
}
