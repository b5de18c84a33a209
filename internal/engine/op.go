// Package engine implements the completion-driven connection engine: a
// per-worker reactor draining an io_uring completion queue, the connection
// state machine that decides the next submission for every completion, and
// the receive buffer lifecycle shared by all connections of a worker.
//
// Everything in this package runs on a single goroutine per worker. No type
// here is safe for concurrent use.
package engine

import (
	"fmt"
	"syscall"
)

// OpKind is the operation a request context is waiting on.
type OpKind uint8

const (
	OpAccept OpKind = iota
	OpRead
	OpWrite
	OpClose

	numOpKinds
)

func (k OpKind) String() string {
	switch k {
	case OpAccept:
		return "accept"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpClose:
		return "close"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one submission handed to the ring.
type Op struct {
	Kind     OpKind
	Fd       int32
	UserData uint64
	// Buf is the payload for writes and the destination for inline reads.
	// A nil Buf on a read asks the kernel to select a pooled buffer.
	Buf []byte
}

// Completion is a copy of one completion queue entry.
type Completion struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Completion flag layout shared with the kernel ABI.
const (
	cqeFBuffer     = 1 << 0
	cqeBufferShift = 16
)

// HasBuffer reports whether the kernel selected a pooled buffer for c.
func (c Completion) HasBuffer() bool { return c.Flags&cqeFBuffer != 0 }

// BufferID is the pooled buffer selected by the kernel. Only meaningful
// when HasBuffer is true.
func (c Completion) BufferID() uint16 { return uint16(c.Flags >> cqeBufferShift) }

// Outcome classifies a completion result.
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	// OutcomeReset is a peer reset: the connection is gone, nothing can be sent.
	OutcomeReset
	// OutcomeFatal is any other failure.
	OutcomeFatal
)

// Classify maps a completion result to an Outcome.
func Classify(res int32) Outcome {
	switch {
	case res >= 0:
		return OutcomeOK
	case syscall.Errno(-res) == syscall.ECONNRESET:
		return OutcomeReset
	default:
		return OutcomeFatal
	}
}
