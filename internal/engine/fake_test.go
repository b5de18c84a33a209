package engine

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/goceleris/ringserver/internal/response"
)

// errIdle ends a simulated wait when nothing in flight can complete.
var errIdle = errors.New("fake kernel idle")

const testListener = 3

// fakeConn is the peer side of one simulated TCP connection.
type fakeConn struct {
	fd int32
	// in holds the chunks the peer sends, one per read.
	in [][]byte
	// eof makes reads return 0 once in is drained.
	eof bool
	// errno fails reads once in is drained.
	errno  syscall.Errno
	out    []byte
	closed bool
}

type fakeBuf struct {
	id  uint16
	buf []byte
}

// fakeBufRing stands in for the kernel side of a provided buffer ring. It
// records every buffer offered while the kernel already owned it.
type fakeBufRing struct {
	entries    []fakeBuf
	mask       uint16
	head, tail uint16
	owned      map[uint16]bool
	violations []string
}

func newFakeBufRing(n int) *fakeBufRing {
	return &fakeBufRing{
		entries: make([]fakeBuf, n),
		mask:    uint16(n - 1),
		owned:   make(map[uint16]bool),
	}
}

func (b *fakeBufRing) provide(id uint16, buf []byte, offset int) {
	b.entries[(b.tail+uint16(offset))&b.mask] = fakeBuf{id: id, buf: buf}
}

func (b *fakeBufRing) advance(n int) {
	for i := 0; i < n; i++ {
		e := b.entries[(b.tail+uint16(i))&b.mask]
		if b.owned[e.id] {
			b.violations = append(b.violations, fmt.Sprintf("buffer %d provided twice", e.id))
		}
		b.owned[e.id] = true
	}
	b.tail += uint16(n)
	if int(uint16(b.tail-b.head)) > len(b.entries) {
		b.violations = append(b.violations, "buffer ring overflow")
	}
}

func (b *fakeBufRing) take() (uint16, []byte, bool) {
	if b.head == b.tail {
		return 0, nil, false
	}
	e := b.entries[b.head&b.mask]
	b.head++
	b.owned[e.id] = false
	return e.id, e.buf, true
}

func (b *fakeBufRing) kernelOwned() int {
	n := 0
	for _, ok := range b.owned {
		if ok {
			n++
		}
	}
	return n
}

// fakeKernel implements Ring over simulated sockets.
type fakeKernel struct {
	sqCap, cqCap int
	sq           []Op
	inflight     []Op
	cq           []Completion

	backlog []*fakeConn
	conns   map[int32]*fakeConn
	nextFd  int32
	bufs    *fakeBufRing
	// submitted counts operations per kind handed to the kernel.
	submitted [numOpKinds]int
}

func newFakeKernel(sqCap, cqCap, bufs int) *fakeKernel {
	return &fakeKernel{
		sqCap:  sqCap,
		cqCap:  cqCap,
		conns:  make(map[int32]*fakeConn),
		nextFd: 100,
		bufs:   newFakeBufRing(bufs),
	}
}

// connect queues a peer that will send chunks in order.
func (k *fakeKernel) connect(chunks ...string) *fakeConn {
	c := &fakeConn{fd: -1, eof: true}
	for _, s := range chunks {
		c.in = append(c.in, []byte(s))
	}
	k.backlog = append(k.backlog, c)
	return c
}

func (k *fakeKernel) Prep(op Op) bool {
	if len(k.sq) >= k.sqCap {
		return false
	}
	k.sq = append(k.sq, op)
	return true
}

func (k *fakeKernel) SubmitAndWait(minComplete uint32) error {
	for _, op := range k.sq {
		k.submitted[op.Kind]++
	}
	k.inflight = append(k.inflight, k.sq...)
	k.sq = k.sq[:0]

	pending := k.inflight[:0]
	for _, op := range k.inflight {
		if c, ok := k.complete(op); ok {
			k.cq = append(k.cq, c)
		} else {
			pending = append(pending, op)
		}
	}
	k.inflight = pending
	if len(k.cq) < int(minComplete) {
		return errIdle
	}
	return nil
}

func (k *fakeKernel) complete(op Op) (Completion, bool) {
	c := Completion{UserData: op.UserData}
	fail := func(errno syscall.Errno) (Completion, bool) {
		c.Res = -int32(errno)
		return c, true
	}

	if op.Kind == OpAccept {
		if op.Fd != testListener {
			return fail(syscall.EBADF)
		}
		if len(k.backlog) == 0 {
			return c, false
		}
		conn := k.backlog[0]
		k.backlog = k.backlog[1:]
		conn.fd = k.nextFd
		k.nextFd++
		k.conns[conn.fd] = conn
		c.Res = conn.fd
		return c, true
	}

	conn := k.conns[op.Fd]
	if conn == nil || conn.closed {
		return fail(syscall.EBADF)
	}
	switch op.Kind {
	case OpRead:
		if len(conn.in) == 0 {
			switch {
			case conn.errno != 0:
				return fail(conn.errno)
			case conn.eof:
				return c, true
			}
			return c, false
		}
		chunk := conn.in[0]
		dst := op.Buf
		if dst == nil {
			id, buf, ok := k.bufs.take()
			if !ok {
				return fail(syscall.ENOBUFS)
			}
			dst = buf
			c.Flags = uint32(id)<<cqeBufferShift | cqeFBuffer
		}
		conn.in = conn.in[1:]
		c.Res = int32(copy(dst, chunk))
	case OpWrite:
		conn.out = append(conn.out, op.Buf...)
		c.Res = int32(len(op.Buf))
	case OpClose:
		conn.closed = true
	}
	return c, true
}

func (k *fakeKernel) PeekBatch(out []Completion) int {
	return copy(out, k.cq)
}

func (k *fakeKernel) Seen(n uint32) {
	k.cq = k.cq[n:]
}

func (k *fakeKernel) Capacity() int { return k.cqCap }

// harness wires a reactor to a fake kernel the way NewReactor wires it to
// a real ring.
type harness struct {
	kernel  *fakeKernel
	reactor *Reactor
	pool    *Pool
	hook    *test.Hook
}

func testOptions() Options {
	return Options{
		Listener:      testListener,
		QueueDepth:    16,
		ReadSize:      64,
		BufferEntries: 8,
		MaxConns:      16,
		Payload:       response.Payload,
	}
}

func newHarness(t *testing.T, opts Options, sqCap int) *harness {
	t.Helper()
	require.NoError(t, opts.Validate())

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Logger = logger

	k := newFakeKernel(sqCap, 4, max(opts.BufferEntries, 1))
	h := &harness{kernel: k, hook: hook}

	var inline []byte
	switch opts.Mode {
	case BufferRing:
		mem := make([]byte, opts.BufferEntries*opts.ReadSize)
		pool, err := NewPool(mem, opts.BufferEntries, opts.ReadSize, k.bufs)
		require.NoError(t, err)
		pool.ProvideAll()
		h.pool = pool
	case BufferInline:
		inline = make([]byte, opts.MaxConns*opts.ReadSize)
	}
	table, err := newContextTable(opts.MaxConns, inline)
	require.NoError(t, err)

	h.reactor = newReactor(k, newMachine(k, table, h.pool, opts))
	return h
}

// run seeds the accept and steps the reactor until nothing can progress.
func (h *harness) run() error {
	if err := h.reactor.machine.Start(); err != nil {
		return err
	}
	return h.settle()
}

func (h *harness) settle() error {
	for i := 0; i < 10000; i++ {
		err := h.reactor.step()
		if errors.Is(err, errIdle) {
			// A real wait would block here; only stop once the machine has
			// nothing left to push.
			m := h.reactor.machine
			if m.Deferred() == 0 && m.acceptArmed {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return errors.New("reactor did not settle")
}

// checkBuffers asserts that every pooled buffer is back with the kernel
// and none was ever handed out twice.
func (h *harness) checkBuffers(t *testing.T) {
	t.Helper()
	require.Empty(t, h.kernel.bufs.violations)
	if h.pool == nil {
		return
	}
	require.Zero(t, h.pool.Borrowed())
	require.Equal(t, h.pool.Len(), h.kernel.bufs.kernelOwned())
}
