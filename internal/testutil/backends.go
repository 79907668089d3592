package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alexanderramin/dayplan/internal/kvstore"
)

// CountingBackend wraps a Backend and counts physical operations per key.
// Reads and key listings pass through uncounted except in Reads.
type CountingBackend struct {
	kvstore.Backend

	mu     sync.Mutex
	writes map[string]int
	values map[string][]string
	reads  atomic.Int64
}

// NewCountingBackend wraps inner.
func NewCountingBackend(inner kvstore.Backend) *CountingBackend {
	return &CountingBackend{
		Backend: inner,
		writes:  make(map[string]int),
		values:  make(map[string][]string),
	}
}

func (c *CountingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	c.reads.Add(1)
	return c.Backend.Read(ctx, key)
}

func (c *CountingBackend) Write(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.writes[key]++
	c.values[key] = append(c.values[key], string(value))
	c.mu.Unlock()
	return c.Backend.Write(ctx, key, value)
}

// Writes returns the number of physical writes to key.
func (c *CountingBackend) Writes(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[key]
}

// WrittenValues returns every value physically written to key, in order.
func (c *CountingBackend) WrittenValues(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.values[key]...)
}

// TotalWrites returns the number of physical writes across all keys,
// excluding availability probes.
func (c *CountingBackend) TotalWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, v := range c.writes {
		if k == "__dayplan_probe__" {
			continue
		}
		n += v
	}
	return n
}

// Reads returns the number of physical reads.
func (c *CountingBackend) Reads() int64 {
	return c.reads.Load()
}

// FailingBackend wraps a Backend and fails the next FailWrites writes with
// Err. Deletes and reads pass through.
type FailingBackend struct {
	kvstore.Backend

	mu         sync.Mutex
	FailWrites int
	Err        error
	attempts   int
}

func (f *FailingBackend) Write(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.attempts++
	if f.FailWrites > 0 {
		f.FailWrites--
		err := f.Err
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.Backend.Write(ctx, key, value)
}

// Attempts returns the number of write attempts seen, failed or not.
func (f *FailingBackend) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}
