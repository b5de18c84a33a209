package engine

import (
	"errors"
	"fmt"
)

// maxPoolEntries is the largest provided buffer ring the kernel accepts.
const maxPoolEntries = 1 << 15

var (
	ErrSlotRange    = errors.New("engine: buffer id out of range")
	ErrSlotBorrowed = errors.New("engine: buffer already borrowed")
	ErrStaleSlot    = errors.New("engine: stale buffer slot")
)

// provider hands buffers to the kernel. provide stages buf under id at
// offset entries past the current tail; advance publishes n staged entries.
type provider interface {
	provide(id uint16, buf []byte, offset int)
	advance(n int)
}

// Slot is a borrowed pool buffer. The zero Slot is never valid.
type Slot struct {
	id  uint16
	gen uint32
}

// ID is the kernel buffer id of s.
func (s Slot) ID() uint16 { return s.id }

// Pool is a fixed set of equally sized receive buffers. Every buffer is
// either available to the kernel for selection or borrowed by exactly one
// completion until released.
type Pool struct {
	bufs     [][]byte
	gens     []uint32
	borrowed []bool
	out      int
	p        provider
}

// NewPool splits mem into count buffers of size bytes. count must be a power
// of two no larger than 32768.
func NewPool(mem []byte, count, size int, p provider) (*Pool, error) {
	if count <= 0 || count > maxPoolEntries || count&(count-1) != 0 {
		return nil, fmt.Errorf("engine: pool entries must be a power of two in [1, %d], got %d", maxPoolEntries, count)
	}
	if size <= 0 {
		return nil, fmt.Errorf("engine: pool buffer size must be positive, got %d", size)
	}
	if len(mem) < count*size {
		return nil, fmt.Errorf("engine: pool region has %d bytes, need %d", len(mem), count*size)
	}
	pool := &Pool{
		bufs:     make([][]byte, count),
		gens:     make([]uint32, count),
		borrowed: make([]bool, count),
		p:        p,
	}
	for i := range pool.bufs {
		pool.bufs[i] = mem[i*size : (i+1)*size : (i+1)*size]
	}
	return pool, nil
}

// ProvideAll offers every buffer to the kernel. It must run once, before
// the first read that selects from the pool is submitted.
func (p *Pool) ProvideAll() {
	for i, b := range p.bufs {
		p.p.provide(uint16(i), b, i)
	}
	p.p.advance(len(p.bufs))
}

// Checkout records that a completion consumed buffer id.
func (p *Pool) Checkout(id uint16) (Slot, error) {
	if int(id) >= len(p.bufs) {
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotRange, id)
	}
	if p.borrowed[id] {
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotBorrowed, id)
	}
	p.borrowed[id] = true
	p.gens[id]++
	if p.gens[id] == 0 {
		p.gens[id] = 1
	}
	p.out++
	return Slot{id: id, gen: p.gens[id]}, nil
}

// Bytes returns the first n bytes of a borrowed slot.
func (p *Pool) Bytes(s Slot, n int) ([]byte, error) {
	if err := p.check(s); err != nil {
		return nil, err
	}
	if n < 0 || n > len(p.bufs[s.id]) {
		return nil, fmt.Errorf("%w: length %d exceeds buffer size %d", ErrSlotRange, n, len(p.bufs[s.id]))
	}
	return p.bufs[s.id][:n], nil
}

// Release hands a borrowed slot back to the kernel.
func (p *Pool) Release(s Slot) error {
	if err := p.check(s); err != nil {
		return err
	}
	p.borrowed[s.id] = false
	p.out--
	p.p.provide(s.id, p.bufs[s.id], 0)
	p.p.advance(1)
	return nil
}

func (p *Pool) check(s Slot) error {
	if int(s.id) >= len(p.bufs) || s.gen == 0 || !p.borrowed[s.id] || p.gens[s.id] != s.gen {
		return fmt.Errorf("%w: id %d generation %d", ErrStaleSlot, s.id, s.gen)
	}
	return nil
}

// Len is the number of buffers in the pool.
func (p *Pool) Len() int { return len(p.bufs) }

// Borrowed is the number of buffers currently checked out.
func (p *Pool) Borrowed() int { return p.out }

// Available is the number of buffers the kernel may select from.
func (p *Pool) Available() int { return len(p.bufs) - p.out }
