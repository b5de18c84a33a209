//go:build linux

package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// NewReactor sets up a ring of opts.QueueDepth entries, registers the
// receive buffers with the kernel and prepares the state machine. Nothing is
// submitted until Run.
func NewReactor(opts Options) (_ *Reactor, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, cleanup())
		}
	}()

	r, err := newRing(opts.QueueDepth)
	if err != nil {
		return nil, err
	}
	closers = append(closers, r.close)
	r.readLen = opts.ReadSize

	var (
		pool   *Pool
		inline []byte
	)
	switch opts.Mode {
	case BufferRing:
		mem, err := anonMap(opts.BufferEntries * opts.ReadSize)
		if err != nil {
			return nil, fmt.Errorf("mmap buffers: %w", err)
		}
		closers = append(closers, func() error { return unix.Munmap(mem) })

		br, err := newBufRing(r.fd, opts.BufferEntries, bufferGroup)
		if err != nil {
			return nil, err
		}
		closers = append(closers, br.close)

		if pool, err = NewPool(mem, opts.BufferEntries, opts.ReadSize, br); err != nil {
			return nil, err
		}
		pool.ProvideAll()
	case BufferInline:
		if inline, err = anonMap(opts.MaxConns * opts.ReadSize); err != nil {
			return nil, fmt.Errorf("mmap inline buffers: %w", err)
		}
		closers = append(closers, func() error { return unix.Munmap(inline) })
	}

	table, err := newContextTable(opts.MaxConns, inline)
	if err != nil {
		return nil, err
	}

	reactor := newReactor(r, newMachine(r, table, pool, opts))
	reactor.release = cleanup
	return reactor, nil
}
