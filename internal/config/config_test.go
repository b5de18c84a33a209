package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "127.0.0.1:3003", c.Addr())
	assert.Equal(t, 128, c.QueueDepth)
	assert.Equal(t, 1024, c.ReadSize)
	assert.Equal(t, c.Backlog, c.BufferEntries)
	assert.Equal(t, runtime.NumCPU(), c.Workers)
	assert.Equal(t, "ring", c.Mode)
	assert.Equal(t, "abort", c.Faults)
	assert.Equal(t, "retry", c.Stalls)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"ephemeral port", func(c *Config) { c.Port = 0 }, true},
		{"inline ignores buffer entries", func(c *Config) { c.Mode = "inline"; c.BufferEntries = 3 }, true},
		{"ipv6 host", func(c *Config) { c.Host = "::1" }, false},
		{"hostname", func(c *Config) { c.Host = "localhost" }, false},
		{"port too large", func(c *Config) { c.Port = 70000 }, false},
		{"queue depth", func(c *Config) { c.QueueDepth = 100 }, false},
		{"read size", func(c *Config) { c.ReadSize = 0 }, false},
		{"backlog", func(c *Config) { c.Backlog = 0 }, false},
		{"workers", func(c *Config) { c.Workers = 0 }, false},
		{"max conns", func(c *Config) { c.MaxConns = 0 }, false},
		{"buffer entries not power of two", func(c *Config) { c.BufferEntries = 1000 }, false},
		{"buffer entries too many", func(c *Config) { c.BufferEntries = 1 << 16 }, false},
		{"buffer entries below backlog", func(c *Config) { c.BufferEntries = 512 }, false},
		{"mode", func(c *Config) { c.Mode = "heap" }, false},
		{"faults", func(c *Config) { c.Faults = "ignore" }, false},
		{"stalls", func(c *Config) { c.Stalls = "spin" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
