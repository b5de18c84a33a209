//go:build !linux

package engine

import "errors"

// ErrUnsupported is returned when the kernel offers no io_uring.
var ErrUnsupported = errors.New("engine: io_uring is only supported on Linux")

// NewReactor always fails outside Linux.
func NewReactor(opts Options) (*Reactor, error) {
	return nil, ErrUnsupported
}
