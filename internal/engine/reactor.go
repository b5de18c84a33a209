package engine

// Ring is a submission/completion queue pair.
type Ring interface {
	submitter
	// SubmitAndWait submits every prepared operation and blocks until at
	// least minComplete completions are ready.
	SubmitAndWait(minComplete uint32) error
	// PeekBatch copies up to len(out) ready completions without consuming them.
	PeekBatch(out []Completion) int
	// Seen marks n peeked completions as consumed.
	Seen(n uint32)
	// Capacity is the completion queue size.
	Capacity() int
}

// Reactor drives one worker's ring.
type Reactor struct {
	ring    Ring
	machine *Machine
	batch   []Completion
	release func() error
}

func newReactor(ring Ring, m *Machine) *Reactor {
	return &Reactor{
		ring:    ring,
		machine: m,
		batch:   make([]Completion, ring.Capacity()),
	}
}

// Run seeds the first accept and then serves forever. It returns only on a
// fatal error.
func (r *Reactor) Run() error {
	if err := r.machine.Start(); err != nil {
		return err
	}
	for {
		if err := r.step(); err != nil {
			return err
		}
	}
}

// step is one iteration: flush, submit and wait for one completion, drain.
func (r *Reactor) step() error {
	r.machine.Flush()
	if err := r.ring.SubmitAndWait(1); err != nil {
		return err
	}
	return r.drain()
}

// drain dispatches every ready completion, one batch at a time, without
// blocking.
func (r *Reactor) drain() error {
	for {
		n := r.ring.PeekBatch(r.batch)
		if n == 0 {
			return nil
		}
		for i := 0; i < n; i++ {
			err := r.machine.Handle(r.batch[i])
			r.ring.Seen(1)
			if err != nil {
				return err
			}
		}
	}
}

// Stats returns the state machine counters. Call it from the goroutine
// running the reactor.
func (r *Reactor) Stats() Stats { return r.machine.Stats() }

// Close unmaps the ring and its buffers. Only tests tear a reactor down;
// a serving worker lives until the process exits.
func (r *Reactor) Close() error {
	if r.release == nil {
		return nil
	}
	return r.release()
}
