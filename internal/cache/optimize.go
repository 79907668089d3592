package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// OptimizeStats summarizes one optimization pass.
type OptimizeStats struct {
	Evicted    []string
	Compacted  []string
	BytesFreed int
}

// Optimize frees store space: empty and malformed entries are removed and
// oversized entries are re-encoded compactly. Keys with pending writes are
// left alone.
func (c *Cache) Optimize(ctx context.Context) (OptimizeStats, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.optimize(ctx, "")
}

// optimize must be called with flushMu held. skip names a key about to be
// written that must not be evicted.
func (c *Cache) optimize(ctx context.Context, skip string) (OptimizeStats, error) {
	var stats OptimizeStats

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing keys: %w", err)
	}

	c.mu.Lock()
	protected := make(map[string]bool, len(c.pending)+1)
	for k := range c.pending {
		protected[k] = true
	}
	c.mu.Unlock()
	if skip != "" {
		protected[skip] = true
	}

	puts := make(map[string][]byte)
	var deletes []string
	for _, k := range keys {
		if protected[k] {
			continue
		}
		data, ok := c.store.GetRaw(ctx, k)
		if !ok || isEmptyValue(data) || !json.Valid(data) {
			deletes = append(deletes, k)
			stats.Evicted = append(stats.Evicted, k)
			stats.BytesFreed += len(data)
			continue
		}
		if c.cfg.OversizeBytes > 0 && len(data) > c.cfg.OversizeBytes {
			var buf bytes.Buffer
			if err := json.Compact(&buf, data); err == nil && buf.Len() < len(data) {
				puts[k] = buf.Bytes()
				stats.Compacted = append(stats.Compacted, k)
				stats.BytesFreed += len(data) - buf.Len()
			}
		}
	}

	if len(puts) == 0 && len(deletes) == 0 {
		return stats, nil
	}
	if err := c.store.Apply(ctx, puts, deletes); err != nil {
		return stats, fmt.Errorf("applying optimization: %w", err)
	}

	c.mu.Lock()
	for _, k := range deletes {
		delete(c.entries, k)
	}
	for k, v := range puts {
		if e, ok := c.entries[k]; ok {
			e.value = v
			c.entries[k] = e
		}
	}
	c.mu.Unlock()

	c.metrics.Optimizations.Inc()
	c.logger.InfoContext(ctx, "cache_storage_optimized",
		"evicted", len(stats.Evicted),
		"compacted", len(stats.Compacted),
		"bytes_freed", stats.BytesFreed,
	)
	return stats, nil
}

func isEmptyValue(data []byte) bool {
	switch string(bytes.TrimSpace(data)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
