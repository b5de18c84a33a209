package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStaleHandle = errors.New("engine: stale request handle")
	ErrTableFull   = errors.New("engine: request table full")
)

// Handle identifies a request context. It travels through the kernel as the
// SQE user_data and comes back unchanged on the completion. The low 32 bits
// index the table, the high 32 bits carry the generation of that slot.
type Handle uint64

func makeHandle(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx)) }

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

type request struct {
	kind OpKind
	fd   int32
	gen  uint32
	live bool
	// buf is the inline receive buffer, nil in ring mode.
	buf []byte
}

// contextTable owns every request context of a worker. Records are addressed
// directly by handle index and are only ever freed by release.
type contextTable struct {
	reqs []request
	free []uint32
}

// newContextTable allocates capacity records. When inline is non-nil it is
// split into capacity equal buffers, one per record.
func newContextTable(capacity int, inline []byte) (*contextTable, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("engine: table capacity must be positive, got %d", capacity)
	}
	t := &contextTable{
		reqs: make([]request, capacity),
		free: make([]uint32, capacity),
	}
	size := 0
	if inline != nil {
		if len(inline)%capacity != 0 || len(inline) == 0 {
			return nil, fmt.Errorf("engine: inline region of %d bytes does not split into %d buffers", len(inline), capacity)
		}
		size = len(inline) / capacity
	}
	for i := range t.reqs {
		t.reqs[i].gen = 1
		if size > 0 {
			t.reqs[i].buf = inline[i*size : (i+1)*size : (i+1)*size]
		}
		// Pop from the tail so low indexes go out first.
		t.free[capacity-1-i] = uint32(i)
	}
	return t, nil
}

func (t *contextTable) acquire(kind OpKind) (Handle, error) {
	n := len(t.free)
	if n == 0 {
		return 0, ErrTableFull
	}
	idx := t.free[n-1]
	t.free = t.free[:n-1]

	r := &t.reqs[idx]
	r.live = true
	r.kind = kind
	r.fd = -1
	return makeHandle(idx, r.gen), nil
}

func (t *contextTable) lookup(h Handle) (*request, error) {
	idx := h.index()
	if int(idx) >= len(t.reqs) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrStaleHandle, idx)
	}
	r := &t.reqs[idx]
	if !r.live || r.gen != h.gen() {
		return nil, fmt.Errorf("%w: index %d generation %d", ErrStaleHandle, idx, h.gen())
	}
	return r, nil
}

func (t *contextTable) release(h Handle) error {
	r, err := t.lookup(h)
	if err != nil {
		return err
	}
	r.live = false
	r.fd = -1
	r.gen++
	if r.gen == 0 {
		r.gen = 1
	}
	t.free = append(t.free, h.index())
	return nil
}

func (t *contextTable) inUse() int { return len(t.reqs) - len(t.free) }
