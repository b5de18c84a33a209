//go:build linux

package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const IORING_REGISTER_PBUF_RING = 22

// ioUringBuf is one provided buffer ring entry. The resv field of entry 0
// doubles as the ring tail.
type ioUringBuf struct {
	Addr uint64
	Len  uint32
	Bid  uint16
	Resv uint16
}

type ioUringBufReg struct {
	RingAddr    uint64
	RingEntries uint32
	Bgid        uint16
	Flags       uint16
	Resv        [3]uint64
}

// bufRing is a provided buffer ring registered with one io_uring. The kernel
// picks the buffer for every read submitted with IOSQE_BUFFER_SELECT.
type bufRing struct {
	mem     []byte
	entries []ioUringBuf
	// word is the 32-bit word holding entry 0's bid and the ring tail, so the
	// tail can be published with an atomic store.
	word      *uint32
	tailShift uint32
	tail      uint16
	mask      uint16
}

func newBufRing(ringFd, entries int, group uint16) (*bufRing, error) {
	size := entries * int(unsafe.Sizeof(ioUringBuf{}))
	mem, err := anonMap(size)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer ring: %w", err)
	}

	reg := ioUringBufReg{
		RingAddr:    uint64(uintptr(unsafe.Pointer(&mem[0]))),
		RingEntries: uint32(entries),
		Bgid:        group,
	}
	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_REGISTER, uintptr(ringFd),
		IORING_REGISTER_PBUF_RING, uintptr(unsafe.Pointer(&reg)), 1, 0, 0)
	if errno != 0 {
		err := fmt.Errorf("io_uring_register(PBUF_RING): %w", errno)
		if errno == unix.EINVAL {
			// Kernels before 5.19 do not know the opcode.
			err = fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return nil, errors.Join(err, unix.Munmap(mem))
	}

	b := &bufRing{
		mem:     mem,
		entries: unsafe.Slice((*ioUringBuf)(unsafe.Pointer(&mem[0])), entries),
		word:    (*uint32)(unsafe.Pointer(&mem[12])),
		mask:    uint16(entries - 1),
	}
	// Offset 14 is the high half of the word on little-endian machines.
	probe := uint32(1)
	if *(*byte)(unsafe.Pointer(&probe)) == 1 {
		b.tailShift = 16
	}
	return b, nil
}

func (b *bufRing) provide(id uint16, buf []byte, offset int) {
	e := &b.entries[(b.tail+uint16(offset))&b.mask]
	e.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	e.Len = uint32(len(buf))
	e.Bid = id
}

func (b *bufRing) advance(n int) {
	b.tail += uint16(n)
	keep := atomic.LoadUint32(b.word) &^ (0xffff << b.tailShift)
	atomic.StoreUint32(b.word, keep|uint32(b.tail)<<b.tailShift)
}

func (b *bufRing) close() error { return unix.Munmap(b.mem) }

// anonMap returns page-aligned memory the garbage collector never moves or
// frees while the kernel holds its address.
func anonMap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}
