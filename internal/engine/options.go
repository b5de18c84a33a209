package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Options configures one worker's reactor.
type Options struct {
	// Listener is a bound, listening socket owned by this worker.
	Listener int32
	// QueueDepth is the submission queue size requested from the kernel.
	QueueDepth uint32
	// ReadSize is the size of every receive buffer.
	ReadSize int
	// BufferEntries is the number of pooled buffers in BufferRing mode.
	BufferEntries int
	// MaxConns bounds the request contexts alive at once, including the
	// pending accept.
	MaxConns int

	Mode   BufferMode
	Faults FaultPolicy
	Stalls StallPolicy

	// Payload is written once per non-empty read.
	Payload []byte
	// SetNoDelay is applied to every accepted socket. Optional.
	SetNoDelay func(fd int32) error

	Logger logrus.FieldLogger
}

// Validate reports the first invalid field.
func (o *Options) Validate() error {
	if o.Listener < 0 {
		return fmt.Errorf("engine: invalid listener fd %d", o.Listener)
	}
	if o.QueueDepth == 0 || o.QueueDepth > maxPoolEntries || o.QueueDepth&(o.QueueDepth-1) != 0 {
		return fmt.Errorf("engine: queue depth must be a power of two in [1, %d], got %d", maxPoolEntries, o.QueueDepth)
	}
	if o.ReadSize <= 0 {
		return fmt.Errorf("engine: read size must be positive, got %d", o.ReadSize)
	}
	if o.MaxConns < 2 {
		return fmt.Errorf("engine: max conns must allow an accept and a connection, got %d", o.MaxConns)
	}
	if o.Mode == BufferRing {
		n := o.BufferEntries
		if n <= 0 || n > maxPoolEntries || n&(n-1) != 0 {
			return fmt.Errorf("engine: buffer entries must be a power of two in [1, %d], got %d", maxPoolEntries, n)
		}
	}
	if len(o.Payload) == 0 {
		return errors.New("engine: empty payload")
	}
	return nil
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}
