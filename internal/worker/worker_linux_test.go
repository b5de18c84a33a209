//go:build linux

package worker

import (
	"bytes"
	"context"
	"errors"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/goceleris/ringserver/internal/bench"
	"github.com/goceleris/ringserver/internal/config"
	"github.com/goceleris/ringserver/internal/engine"
	"github.com/goceleris/ringserver/internal/response"
)

func TestListenEphemeral(t *testing.T) {
	fd, addr, err := Listen("127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer unix.Close(fd)

	assert.Equal(t, "127.0.0.1", addr.Addr().String())
	assert.NotZero(t, addr.Port())

	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// A second worker binds the same port.
	fd2, addr2, err := Listen("127.0.0.1", int(addr.Port()), 16)
	require.NoError(t, err)
	defer unix.Close(fd2)
	assert.Equal(t, addr, addr2)
}

func TestListenRejectsNonIPv4(t *testing.T) {
	_, _, err := Listen("::1", 0, 16)
	assert.Error(t, err)
	_, _, err = Listen("localhost", 0, 16)
	assert.Error(t, err)
}

func TestPinRejectsUnknownCore(t *testing.T) {
	assert.Error(t, Pin(-1))
	assert.Error(t, Pin(runtime.NumCPU()))
}

func startWorker(t *testing.T, mode string) string {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.Backlog = 64
	cfg.BufferEntries = 64
	cfg.MaxConns = 64
	cfg.Mode = mode

	fd, addr, err := Listen(cfg.Host, cfg.Port, cfg.Backlog)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	w, err := New(cfg, fd, logger)
	if errors.Is(err, engine.ErrUnsupported) {
		unix.Close(fd)
		t.Skipf("io_uring unavailable: %v", err)
	}
	require.NoError(t, err)

	// The reactor blocks in the kernel for the rest of the test binary.
	go func() { _ = w.Serve() }()
	return addr.String()
}

func TestWorkerServesKeepAlive(t *testing.T) {
	for _, mode := range []string{"ring", "inline"} {
		t.Run(mode, func(t *testing.T) {
			addr := startWorker(t, mode)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req := []byte("GET / HTTP/1.1\r\nHost: test\r\n\r\n")
			got, err := bench.Probe(ctx, addr, [][]byte{req, req, req})
			require.NoError(t, err)
			require.Len(t, got, 3)
			for _, b := range got {
				assert.Equal(t, response.Payload, b)
			}
			require.NoError(t, bench.Verify(ctx, addr, 10))
		})
	}
}

func TestWorkerClosesOnPeerClose(t *testing.T) {
	addr := startWorker(t, "ring")

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(conn)
	require.NoError(t, err, "server closes without replying")
	assert.Zero(t, buf.Len())
	_ = conn.Close()
}

func TestWorkerConcurrentConnections(t *testing.T) {
	addr := startWorker(t, "ring")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := make(chan error, 16)
	for i := 0; i < cap(errs); i++ {
		go func() { errs <- bench.Verify(ctx, addr, 20) }()
	}
	for i := 0; i < cap(errs); i++ {
		require.NoError(t, <-errs)
	}
}
