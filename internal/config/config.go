// Package config holds the compiled-in server settings and their validation.
package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"

	"github.com/goceleris/ringserver/internal/engine"
)

const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 3003
	DefaultQueueDepth = 128
	DefaultReadSize   = 1024
	DefaultBacklog    = 1024
	// DefaultBufferEntries keeps one pooled buffer per backlog slot.
	DefaultBufferEntries = DefaultBacklog
	// DefaultMaxConns bounds request contexts per worker.
	DefaultMaxConns = 4096

	maxBufferEntries = 1 << 15
)

// Config is the full set of knobs for one server process. Every worker gets
// the same Config.
type Config struct {
	Host          string
	Port          int
	QueueDepth    int
	ReadSize      int
	Backlog       int
	BufferEntries int
	MaxConns      int
	Workers       int

	// Mode, Faults and Stalls are engine policy names.
	Mode   string
	Faults string
	Stalls string
}

// Default returns the configuration the server ships with.
func Default() Config {
	return Config{
		Host:          DefaultHost,
		Port:          DefaultPort,
		QueueDepth:    DefaultQueueDepth,
		ReadSize:      DefaultReadSize,
		Backlog:       DefaultBacklog,
		BufferEntries: DefaultBufferEntries,
		MaxConns:      DefaultMaxConns,
		Workers:       runtime.NumCPU(),
		Mode:          engine.BufferRing.String(),
		Faults:        engine.FaultAbort.String(),
		Stalls:        engine.StallRetry.String(),
	}
}

// Validate checks c and returns the first problem found.
func (c Config) Validate() error {
	if net.ParseIP(c.Host).To4() == nil {
		return fmt.Errorf("config: host %q is not an IPv4 address", c.Host)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if !powerOfTwo(c.QueueDepth) || c.QueueDepth > maxBufferEntries {
		return fmt.Errorf("config: queue depth must be a power of two up to %d, got %d", maxBufferEntries, c.QueueDepth)
	}
	if c.ReadSize <= 0 {
		return fmt.Errorf("config: read size must be positive, got %d", c.ReadSize)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("config: backlog must be positive, got %d", c.Backlog)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: need at least one worker, got %d", c.Workers)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("config: max conns must be positive, got %d", c.MaxConns)
	}

	mode, err := engine.ParseBufferMode(c.Mode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := engine.ParseFaultPolicy(c.Faults); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := engine.ParseStallPolicy(c.Stalls); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if mode == engine.BufferRing {
		if !powerOfTwo(c.BufferEntries) || c.BufferEntries > maxBufferEntries {
			return fmt.Errorf("config: buffer entries must be a power of two up to %d, got %d", maxBufferEntries, c.BufferEntries)
		}
		if c.BufferEntries < c.Backlog {
			return fmt.Errorf("config: buffer entries (%d) must cover the backlog (%d)", c.BufferEntries, c.Backlog)
		}
	}
	return nil
}

// Addr is the host:port the server binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func powerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }
