package engine

import (
	"fmt"
	"syscall"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

// submitter accepts a prepared operation, or reports false when the
// submission queue has no room.
type submitter interface {
	Prep(op Op) bool
}

// Stats counts state machine events. Read it from the worker goroutine only.
type Stats struct {
	Accepted        uint64
	Reads           uint64
	Responses       uint64
	ShortWrites     uint64
	Closed          uint64
	Resets          uint64
	Faults          uint64
	Retried         uint64
	BuffersReleased uint64
	// Stalled counts submissions that found the queue full, per kind.
	Stalled [numOpKinds]uint64
}

// StalledTotal sums Stalled over every kind.
func (s Stats) StalledTotal() uint64 {
	var n uint64
	for _, v := range s.Stalled {
		n += v
	}
	return n
}

// Machine is the connection state machine. It never blocks and never does
// I/O itself: for each completion it decides which operation to submit next.
type Machine struct {
	ring  submitter
	table *contextTable
	pool  *Pool
	opts  Options
	log   logrus.FieldLogger

	// deferred holds handles whose submission stalled under StallRetry.
	deferred *queue.Queue
	// acceptArmed is true while an accept is in flight or queued.
	acceptArmed bool
	// acceptStalled is set once a stalled re-arm has been counted and
	// cleared when an accept is queued again.
	acceptStalled bool
	// spare is an acquired context waiting to carry the next accept.
	spare    Handle
	hasSpare bool

	stats Stats
}

func newMachine(ring submitter, table *contextTable, pool *Pool, opts Options) *Machine {
	return &Machine{
		ring:     ring,
		table:    table,
		pool:     pool,
		opts:     opts,
		log:      opts.logger(),
		deferred: queue.New(),
	}
}

// Start queues the accept that seeds the loop.
func (m *Machine) Start() error {
	if !m.armAccept() {
		return fmt.Errorf("engine: could not queue initial accept")
	}
	return nil
}

// Flush re-arms a missing accept and retries deferred submissions in order.
// It runs before every submit-and-wait.
func (m *Machine) Flush() {
	if !m.acceptArmed {
		m.armAccept()
	}
	for m.deferred.Length() > 0 {
		h := m.deferred.Peek().(Handle)
		r, err := m.table.lookup(h)
		if err != nil {
			m.deferred.Remove()
			continue
		}
		if !m.ring.Prep(m.opFor(h, r)) {
			return
		}
		m.deferred.Remove()
		m.stats.Retried++
	}
}

// Handle runs the transition for one completion. A non-nil error is fatal
// for the worker.
func (m *Machine) Handle(c Completion) error {
	h := Handle(c.UserData)
	r, err := m.table.lookup(h)
	if err != nil {
		return fmt.Errorf("engine: completion for unknown context: %w", err)
	}

	if !c.HasBuffer() {
		return m.transition(h, r, c.Res)
	}
	if m.pool == nil {
		return fmt.Errorf("engine: kernel selected buffer %d without a pool", c.BufferID())
	}
	slot, err := m.pool.Checkout(c.BufferID())
	if err != nil {
		return err
	}
	err = m.transition(h, r, c.Res)
	// The payload never depends on what was read, so the slot goes back as
	// soon as the next step is decided.
	if rerr := m.pool.Release(slot); rerr != nil {
		if err == nil {
			err = rerr
		}
	} else {
		m.stats.BuffersReleased++
	}
	return err
}

func (m *Machine) transition(h Handle, r *request, res int32) error {
	switch Classify(res) {
	case OutcomeReset:
		m.stats.Resets++
		return m.abandon(h, r)
	case OutcomeFatal:
		err := fmt.Errorf("async request failed: %w for event: %s", syscall.Errno(-res), r.kind)
		return m.fault(h, r, err)
	}

	switch r.kind {
	case OpAccept:
		return m.onAccept(h, r, res)
	case OpRead:
		m.stats.Reads++
		if res == 0 {
			m.submit(OpClose, h, r)
		} else {
			m.submit(OpWrite, h, r)
		}
	case OpWrite:
		m.stats.Responses++
		if int(res) < len(m.opts.Payload) {
			m.stats.ShortWrites++
		}
		m.submit(OpRead, h, r)
	case OpClose:
		m.stats.Closed++
		return m.table.release(h)
	}
	return nil
}

func (m *Machine) onAccept(h Handle, r *request, fd int32) error {
	m.acceptArmed = false
	m.stats.Accepted++
	m.armAccept()

	// From here on the context belongs to the connection.
	r.kind, r.fd = OpRead, fd
	if m.opts.SetNoDelay != nil {
		if err := m.opts.SetNoDelay(fd); err != nil {
			return m.fault(h, r, fmt.Errorf("setsockopt(TCP_NODELAY): %w", err))
		}
	}
	m.submit(OpRead, h, r)
	return nil
}

// fault applies the fault policy to an unexpected failure on r. A failed
// accept is fatal under either policy.
func (m *Machine) fault(h Handle, r *request, err error) error {
	if m.opts.Faults == FaultAbort || r.kind == OpAccept {
		return err
	}
	m.stats.Faults++
	m.log.WithFields(logrus.Fields{
		"fd":    r.fd,
		"event": r.kind.String(),
		"err":   err,
	}).Warn("Isolating failed connection")
	return m.abandon(h, r)
}

// abandon gives up on r without replying. Connections go through Close so
// their context is freed by the close transition; a failed accept context is
// kept for the next accept.
func (m *Machine) abandon(h Handle, r *request) error {
	switch {
	case r.kind == OpAccept:
		m.acceptArmed = false
		m.spare, m.hasSpare = h, true
		m.armAccept()
	case r.kind == OpClose || r.fd < 0:
		m.stats.Closed++
		return m.table.release(h)
	default:
		m.submit(OpClose, h, r)
	}
	return nil
}

// armAccept queues an accept on a fresh context. On failure the accept stays
// disarmed and Flush tries again on the next tick; the stall is counted once.
func (m *Machine) armAccept() bool {
	if !m.hasSpare {
		h, err := m.table.acquire(OpAccept)
		if err != nil {
			m.stallAccept()
			return false
		}
		m.spare, m.hasSpare = h, true
	}
	r, err := m.table.lookup(m.spare)
	if err != nil {
		m.hasSpare = false
		return false
	}
	r.kind, r.fd = OpAccept, -1
	if !m.ring.Prep(m.opFor(m.spare, r)) {
		m.stallAccept()
		return false
	}
	m.hasSpare = false
	m.acceptArmed = true
	m.acceptStalled = false
	return true
}

func (m *Machine) stallAccept() {
	if !m.acceptStalled {
		m.acceptStalled = true
		m.stats.Stalled[OpAccept]++
	}
}

func (m *Machine) submit(kind OpKind, h Handle, r *request) bool {
	r.kind = kind
	if m.ring.Prep(m.opFor(h, r)) {
		return true
	}
	m.stats.Stalled[kind]++
	if m.opts.Stalls == StallRetry {
		m.deferred.Add(h)
	}
	return false
}

func (m *Machine) opFor(h Handle, r *request) Op {
	op := Op{Kind: r.kind, Fd: r.fd, UserData: uint64(h)}
	switch r.kind {
	case OpAccept:
		op.Fd = m.opts.Listener
	case OpRead:
		op.Buf = r.buf
	case OpWrite:
		op.Buf = m.opts.Payload
	}
	return op
}

// Stats returns a copy of the counters.
func (m *Machine) Stats() Stats { return m.stats }

// Live is the number of request contexts in use.
func (m *Machine) Live() int { return m.table.inUse() }

// Deferred is the number of submissions waiting for queue space.
func (m *Machine) Deferred() int { return m.deferred.Length() }
