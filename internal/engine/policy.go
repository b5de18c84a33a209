package engine

import "fmt"

// BufferMode selects how receive buffers are owned.
type BufferMode uint8

const (
	// BufferRing shares one kernel-selected buffer pool among all
	// connections of a worker.
	BufferRing BufferMode = iota
	// BufferInline gives every request context its own receive buffer.
	BufferInline
)

// FaultPolicy decides what an unexpected negative completion result does.
type FaultPolicy uint8

const (
	// FaultAbort stops the worker, which terminates the process.
	FaultAbort FaultPolicy = iota
	// FaultIsolate logs the failure and closes only the affected connection.
	FaultIsolate
)

// StallPolicy decides what happens to a transition whose submission finds
// the submission queue full.
type StallPolicy uint8

const (
	// StallRetry parks the submission and retries it before the next wait.
	StallRetry StallPolicy = iota
	// StallDrop abandons the submission; the connection stays idle until the
	// peer does something that produces a new completion, which may be never.
	StallDrop
)

var (
	bufferModes   = map[string]BufferMode{"ring": BufferRing, "inline": BufferInline}
	faultPolicies = map[string]FaultPolicy{"abort": FaultAbort, "isolate": FaultIsolate}
	stallPolicies = map[string]StallPolicy{"retry": StallRetry, "drop": StallDrop}
)

func ParseBufferMode(s string) (BufferMode, error) {
	if v, ok := bufferModes[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown buffer mode %q (want ring or inline)", s)
}

func ParseFaultPolicy(s string) (FaultPolicy, error) {
	if v, ok := faultPolicies[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown fault policy %q (want abort or isolate)", s)
}

func ParseStallPolicy(s string) (StallPolicy, error) {
	if v, ok := stallPolicies[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown stall policy %q (want retry or drop)", s)
}

func (m BufferMode) String() string {
	if m == BufferInline {
		return "inline"
	}
	return "ring"
}

func (p FaultPolicy) String() string {
	if p == FaultIsolate {
		return "isolate"
	}
	return "abort"
}

func (p StallPolicy) String() string {
	if p == StallDrop {
		return "drop"
	}
	return "retry"
}
