//go:build linux

package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// io_uring opcodes
	IORING_OP_ACCEPT = 13
	IORING_OP_CLOSE  = 19
	IORING_OP_SEND   = 26
	IORING_OP_RECV   = 27

	IOSQE_BUFFER_SELECT = 1 << 5

	IORING_ENTER_GETEVENTS = 1 << 0

	IORING_OFF_SQ_RING = 0
	IORING_OFF_CQ_RING = 0x8000000
	IORING_OFF_SQES    = 0x10000000

	// bufferGroup is the provided buffer group every pooled read selects from.
	bufferGroup = 0
)

// ErrUnsupported is returned when the kernel refuses to create a ring.
var ErrUnsupported = errors.New("engine: io_uring unavailable")

// io_uring structures
type ioUringSqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpcodeFlags uint32
	UserData    uint64
	BufIndex    uint16 // buf_group when IOSQE_BUFFER_SELECT is set
	Personality uint16
	SpliceFdIn  int32
	Pad2        [2]uint64
}

type ioUringCqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type ioUringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCpu  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        ioSqringOffsets
	CqOff        ioCqringOffsets
}

type ioSqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

type ioCqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

// ring is a kernel submission/completion queue pair driven through raw
// io_uring syscalls.
type ring struct {
	fd        int
	sqHead    *uint32
	sqTail    *uint32
	cqHead    *uint32
	cqTail    *uint32
	sqMask    uint32
	cqMask    uint32
	sqEntries uint32
	// sqeTail counts SQEs prepared locally, published to sqTail by flush.
	sqeTail uint32
	sqes    []ioUringSqe
	cqes    []ioUringCqe
	sqArray []uint32
	maps    [][]byte
	// readLen bounds reads that select a pooled buffer.
	readLen int
}

func newRing(entries uint32) (*ring, error) {
	params := &ioUringParams{}

	ringFd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		if errno == unix.ENOSYS || errno == unix.EPERM {
			return nil, fmt.Errorf("%w: io_uring_setup: %w", ErrUnsupported, errno)
		}
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	r := &ring{fd: int(ringFd)}

	sqSize := params.SqOff.Array + params.SqEntries*4
	cqSize := params.CqOff.Cqes + params.CqEntries*uint32(unsafe.Sizeof(ioUringCqe{}))
	sqeSize := params.SqEntries * uint32(unsafe.Sizeof(ioUringSqe{}))

	sqPtr, err := r.mmap(IORING_OFF_SQ_RING, int(sqSize))
	if err != nil {
		return nil, fmt.Errorf("mmap sq: %w", errors.Join(err, r.close()))
	}
	cqPtr, err := r.mmap(IORING_OFF_CQ_RING, int(cqSize))
	if err != nil {
		return nil, fmt.Errorf("mmap cq: %w", errors.Join(err, r.close()))
	}
	sqePtr, err := r.mmap(IORING_OFF_SQES, int(sqeSize))
	if err != nil {
		return nil, fmt.Errorf("mmap sqes: %w", errors.Join(err, r.close()))
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&sqPtr[params.SqOff.Head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&sqPtr[params.SqOff.Tail]))
	r.sqMask = *((*uint32)(unsafe.Pointer(&sqPtr[params.SqOff.RingMask])))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&sqPtr[params.SqOff.Array])), params.SqEntries)
	r.sqEntries = params.SqEntries

	r.cqHead = (*uint32)(unsafe.Pointer(&cqPtr[params.CqOff.Head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&cqPtr[params.CqOff.Tail]))
	r.cqMask = *((*uint32)(unsafe.Pointer(&cqPtr[params.CqOff.RingMask])))
	r.cqes = unsafe.Slice((*ioUringCqe)(unsafe.Pointer(&cqPtr[params.CqOff.Cqes])), params.CqEntries)

	r.sqes = unsafe.Slice((*ioUringSqe)(unsafe.Pointer(&sqePtr[0])), params.SqEntries)

	r.sqeTail = atomic.LoadUint32(r.sqTail)
	return r, nil
}

func (r *ring) mmap(offset int64, size int) ([]byte, error) {
	b, err := unix.Mmap(r.fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	r.maps = append(r.maps, b)
	return b, nil
}

func (r *ring) close() error {
	var errs []error
	for _, b := range r.maps {
		errs = append(errs, unix.Munmap(b))
	}
	r.maps = nil
	errs = append(errs, unix.Close(r.fd))
	return errors.Join(errs...)
}

func (r *ring) getSqe() *ioUringSqe {
	head := atomic.LoadUint32(r.sqHead)
	if r.sqeTail-head >= r.sqEntries {
		return nil
	}
	sqe := &r.sqes[r.sqeTail&r.sqMask]
	r.sqeTail++
	*sqe = ioUringSqe{}
	return sqe
}

// Prep fills the next SQE for op. When the queue is full it pushes the
// prepared entries to the kernel without waiting and tries once more.
func (r *ring) Prep(op Op) bool {
	sqe := r.getSqe()
	if sqe == nil {
		if _, err := r.enter(0, 0); err != nil {
			return false
		}
		if sqe = r.getSqe(); sqe == nil {
			return false
		}
	}
	sqe.Fd = op.Fd
	sqe.UserData = op.UserData
	switch op.Kind {
	case OpAccept:
		sqe.Opcode = IORING_OP_ACCEPT
	case OpRead:
		sqe.Opcode = IORING_OP_RECV
		if op.Buf == nil {
			sqe.Flags = IOSQE_BUFFER_SELECT
			sqe.BufIndex = bufferGroup
			sqe.Len = uint32(r.readLen)
		} else {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.Buf[0])))
			sqe.Len = uint32(len(op.Buf))
		}
	case OpWrite:
		sqe.Opcode = IORING_OP_SEND
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.Buf[0])))
		sqe.Len = uint32(len(op.Buf))
	case OpClose:
		sqe.Opcode = IORING_OP_CLOSE
	}
	return true
}

// flush publishes locally prepared SQEs to the kernel-visible tail.
func (r *ring) flush() {
	tail := r.sqeTail
	sqTail := atomic.LoadUint32(r.sqTail)
	for i := sqTail; i != tail; i++ {
		r.sqArray[i&r.sqMask] = i & r.sqMask
	}
	atomic.StoreUint32(r.sqTail, tail)
}

func (r *ring) enter(minComplete, flags uint32) (int, error) {
	r.flush()
	toSubmit := atomic.LoadUint32(r.sqTail) - atomic.LoadUint32(r.sqHead)
	n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd),
		uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// SubmitAndWait submits everything prepared and blocks for minComplete
// completions. Interrupted or busy waits return nil so the caller drains
// whatever is ready and comes back.
func (r *ring) SubmitAndWait(minComplete uint32) error {
	_, err := r.enter(minComplete, IORING_ENTER_GETEVENTS)
	switch {
	case err == nil, errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EBUSY):
		return nil
	default:
		return fmt.Errorf("io_uring_enter: %w", err)
	}
}

func (r *ring) PeekBatch(out []Completion) int {
	head := atomic.LoadUint32(r.cqHead)
	ready := atomic.LoadUint32(r.cqTail) - head
	n := min(int(ready), len(out))
	for i := 0; i < n; i++ {
		cqe := &r.cqes[(head+uint32(i))&r.cqMask]
		out[i] = Completion{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags}
	}
	return n
}

func (r *ring) Seen(n uint32) {
	atomic.StoreUint32(r.cqHead, atomic.LoadUint32(r.cqHead)+n)
}

func (r *ring) Capacity() int { return len(r.cqes) }
