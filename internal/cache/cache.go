package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alexanderramin/dayplan/internal/kvstore"
	"golang.org/x/sync/singleflight"
)

// Config tunes the cache.
type Config struct {
	// Debounce is the delay between a logical write and its physical commit.
	Debounce time.Duration
	// TTL bounds how long a clean entry is served from memory.
	TTL time.Duration
	// OversizeBytes marks stored values that optimization re-encodes compactly.
	OversizeBytes int
}

// DefaultConfig returns the standard tuning: 200ms debounce, 5m TTL.
func DefaultConfig() Config {
	return Config{
		Debounce:      200 * time.Millisecond,
		TTL:           5 * time.Minute,
		OversizeBytes: 256 * 1024,
	}
}

type entry struct {
	value    []byte
	loadedAt time.Time
}

type pendingWrite struct {
	value     []byte
	writtenAt time.Time
}

// Cache is an in-memory mirror of persisted keys that coalesces writes.
// A key's in-memory value is always the most recent write, whether or not
// it has reached the store.
type Cache struct {
	store   *kvstore.Store
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	// flushMu serializes physical commits so that a later value for a key
	// never lands before an earlier one. Lock order: flushMu, then mu.
	flushMu sync.Mutex

	mu      sync.Mutex
	entries map[string]entry
	pending map[string]pendingWrite
	timer   *time.Timer
	closed  bool

	loads singleflight.Group
}

// New creates a Cache over store. A nil metrics records nothing.
func New(store *kvstore.Store, cfg Config, logger *slog.Logger, metrics *Metrics) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Cache{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]entry),
		pending: make(map[string]pendingWrite),
	}
}

// Store returns the adapter the cache writes through to.
func (c *Cache) Store() *kvstore.Store {
	return c.store
}

// Read decodes the current value of key into dst. Fresh memory entries are
// served directly; otherwise the store is consulted and the entry cached.
// It returns false, leaving dst untouched, when no decodable value exists.
func (c *Cache) Read(ctx context.Context, key string, dst any) bool {
	data, ok := c.ReadRaw(ctx, key)
	if !ok {
		return false
	}
	if err := kvstore.Decode(data, dst); err != nil {
		c.logger.WarnContext(ctx, "cache_read_decode_failed", "key", key, "error", err.Error())
		return false
	}
	return true
}

// ReadRaw returns the current encoded value of key.
func (c *Cache) ReadRaw(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	_, dirty := c.pending[key]
	if ok && (dirty || c.fresh(e)) {
		c.mu.Unlock()
		c.metrics.Hits.Inc()
		return e.value, true
	}
	c.mu.Unlock()
	c.metrics.Misses.Inc()

	v, _, _ := c.loads.Do(key, func() (any, error) {
		data, found := c.store.GetRaw(ctx, key)
		if !found {
			return nil, nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		// A write may have landed while the store was being read.
		if cur, ok := c.entries[key]; ok && cur.loadedAt.After(e.loadedAt) {
			return cur.value, nil
		}
		c.entries[key] = entry{value: data, loadedAt: c.now()}
		return data, nil
	})
	data, _ := v.([]byte)
	if data == nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) fresh(e entry) bool {
	return c.cfg.TTL <= 0 || c.now().Sub(e.loadedAt) < c.cfg.TTL
}

// Write records value as the current value of key. With immediate set the
// physical write happens before returning; otherwise it is deferred to the
// next flush, which is (re)scheduled one debounce window from now.
func (c *Cache) Write(ctx context.Context, key string, value any, immediate bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return c.WriteRaw(ctx, key, data, immediate)
}

// WriteRaw is Write for already-encoded values.
func (c *Cache) WriteRaw(ctx context.Context, key string, data []byte, immediate bool) error {
	return c.writeMany(ctx, map[string][]byte{key: data}, immediate)
}

// BatchWrite applies Write to every key in values. Encoding failures abort
// the whole batch before anything is recorded; physical commits remain
// independent per key.
func (c *Cache) BatchWrite(ctx context.Context, values map[string]any, immediate bool) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %q: %w", k, err)
		}
		encoded[k] = data
	}
	return c.writeMany(ctx, encoded, immediate)
}

func (c *Cache) writeMany(ctx context.Context, values map[string][]byte, immediate bool) error {
	if immediate {
		c.flushMu.Lock()
		defer c.flushMu.Unlock()
	}

	c.mu.Lock()
	now := c.now()
	for k, data := range values {
		c.entries[k] = entry{value: data, loadedAt: now}
	}
	if immediate || c.closed {
		for k := range values {
			delete(c.pending, k)
		}
		if len(c.pending) == 0 && c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		if !immediate {
			c.flushMu.Lock()
			defer c.flushMu.Unlock()
		}
		return c.commitAll(ctx, toPending(values, now))
	}
	for k, data := range values {
		if _, ok := c.pending[k]; ok {
			c.metrics.Coalesced.Inc()
		}
		c.pending[k] = pendingWrite{value: data, writtenAt: now}
	}
	c.scheduleLocked()
	c.mu.Unlock()
	return nil
}

func toPending(values map[string][]byte, now time.Time) map[string]pendingWrite {
	out := make(map[string]pendingWrite, len(values))
	for k, v := range values {
		out[k] = pendingWrite{value: v, writtenAt: now}
	}
	return out
}

func (c *Cache) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, c.flushFromTimer)
}

func (c *Cache) flushFromTimer() {
	if err := c.Flush(context.Background()); err != nil {
		c.logger.Error("cache_debounced_flush_failed", "error", err.Error())
	}
}

// Flush cancels the debounce timer and commits every pending write before
// returning. Failed keys stay pending and are reported in the error.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	c.pending = make(map[string]pendingWrite)
	c.mu.Unlock()

	c.metrics.Flushes.Inc()
	if len(batch) == 0 {
		return nil
	}
	return c.commitAll(ctx, batch)
}

// Close is the shutdown hook: it clears the timer before flushing so the
// timer cannot fire a second write, and makes later writes immediate.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Flush(ctx)
}

// commitAll must be called with flushMu held.
func (c *Cache) commitAll(ctx context.Context, batch map[string]pendingWrite) error {
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		pw := batch[k]
		if err := c.commit(ctx, k, pw.value); err != nil {
			errs = append(errs, err)
			c.requeue(k, pw)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) commit(ctx context.Context, key string, data []byte) error {
	err := c.store.SetRaw(ctx, key, data)
	if errors.Is(err, kvstore.ErrQuotaExceeded) {
		c.logger.WarnContext(ctx, "cache_quota_exceeded", "key", key, "bytes", len(data))
		if _, optErr := c.optimize(ctx, key); optErr != nil {
			c.logger.WarnContext(ctx, "cache_optimize_failed", "error", optErr.Error())
		}
		err = c.store.SetRaw(ctx, key, data)
	}
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, kvstore.ErrQuotaExceeded):
			reason = "quota"
		case errors.Is(err, kvstore.ErrUnavailable):
			reason = "unavailable"
		}
		c.metrics.WriteFailures.WithLabelValues(reason).Inc()
		c.logger.ErrorContext(ctx, "cache_commit_failed", "key", key, "reason", reason, "error", err.Error())
		return fmt.Errorf("committing %q: %w", key, err)
	}
	c.metrics.PhysicalWrites.WithLabelValues(key).Inc()
	return nil
}

// requeue keeps a failed value pending unless a newer write superseded it.
func (c *Cache) requeue(key string, pw pendingWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, newer := c.pending[key]; !newer {
		c.pending[key] = pw
	}
}

// Pending returns the keys awaiting a physical write, sorted.
func (c *Cache) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasPendingTimer reports whether a debounced flush is scheduled.
func (c *Cache) HasPendingTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Invalidate drops the memory entry for key so the next read goes to the
// store. Pending writes are kept.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dirty := c.pending[key]; !dirty {
		delete(c.entries, key)
	}
}
