package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/events"
)

var (
	// ErrNotFound indicates no record matched the locator.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID indicates an insert supplied an id already in use.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrUnknownCollection indicates a key outside the collection namespace.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Locator selects one record: by id when ID is set, otherwise the first
// record whose fields equal every Query entry.
type Locator struct {
	ID    string
	Query map[string]any
}

// IsZero reports whether the locator selects nothing.
func (l Locator) IsZero() bool {
	return l.ID == "" && len(l.Query) == 0
}

func (l Locator) String() string {
	if l.ID != "" {
		return "id=" + l.ID
	}
	return fmt.Sprintf("query=%v", l.Query)
}

func (l Locator) index(records []domain.Record) int {
	for i, r := range records {
		if l.ID != "" {
			if r.ID() == l.ID {
				return i
			}
			continue
		}
		if len(l.Query) > 0 && r.Matches(l.Query) {
			return i
		}
	}
	return -1
}

// CollectionRepo reads and writes collections through the cache. Every
// save publishes data:<collection>:updated and data:updated after the
// repo lock is released, so handlers may call back into the repo.
type CollectionRepo struct {
	cache  *cache.Cache
	bus    *events.Bus
	logger *slog.Logger

	mu sync.Mutex
}

// NewCollectionRepo creates a CollectionRepo.
func NewCollectionRepo(c *cache.Cache, bus *events.Bus, logger *slog.Logger) *CollectionRepo {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CollectionRepo{cache: c, bus: bus, logger: logger}
}

// Cache returns the cache the repo writes through.
func (r *CollectionRepo) Cache() *cache.Cache {
	return r.cache
}

type publication struct {
	name    string
	payload any
}

func (r *CollectionRepo) publish(pubs []publication) {
	if r.bus == nil {
		return
	}
	for _, p := range pubs {
		r.bus.Publish(p.name, p.payload)
	}
}

func updatePublications(c domain.Collection, value any) []publication {
	return []publication{
		{name: events.UpdatedTopic(c), payload: value},
		{name: events.TopicDataUpdated, payload: events.DataUpdated{Collection: c}},
	}
}

// Value returns the current value of collection c. An absent collection is
// created with its default value; a stored value of the wrong shape is
// reported as the default but left in place for the diagnostic to repair.
func (r *CollectionRepo) Value(ctx context.Context, c domain.Collection) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valueLocked(ctx, c)
}

func (r *CollectionRepo) valueLocked(ctx context.Context, c domain.Collection) (any, error) {
	d, ok := domain.Describe(c)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	raw, found := r.cache.ReadRaw(ctx, string(c))
	if !found {
		def := d.DefaultValue()
		if err := r.cache.Write(ctx, string(c), def, false); err != nil {
			return nil, fmt.Errorf("creating %s: %w", c, err)
		}
		r.logger.DebugContext(ctx, "collection_created", "collection", string(c))
		return def, nil
	}
	var v any
	if r.cache.Read(ctx, string(c), &v) && shapeMatches(d, v) {
		return v, nil
	}
	r.logger.WarnContext(ctx, "collection_shape_invalid", "collection", string(c), "bytes", len(raw))
	return d.DefaultValue(), nil
}

func shapeMatches(d domain.Descriptor, v any) bool {
	switch v.(type) {
	case []any:
		return d.Kind == domain.KindArray
	case map[string]any:
		return d.Kind == domain.KindSingleton
	}
	return false
}

// SetValue replaces the whole value of collection c.
func (r *CollectionRepo) SetValue(ctx context.Context, c domain.Collection, value any) error {
	if !domain.IsValidCollection(c) {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	r.mu.Lock()
	err := r.cache.Write(ctx, string(c), value, false)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("saving %s: %w", c, err)
	}
	r.publish(updatePublications(c, value))
	return nil
}

// Reset writes the collection's default value.
func (r *CollectionRepo) Reset(ctx context.Context, c domain.Collection) error {
	d, ok := domain.Describe(c)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	r.cache.Invalidate(string(c))
	return r.SetValue(ctx, c, d.DefaultValue())
}

// List returns the records of target. Entries that are not objects are
// skipped.
func (r *CollectionRepo) List(ctx context.Context, t domain.Target) ([]domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, _, err := r.recordsLocked(ctx, t)
	return records, err
}

// recordsLocked returns the target's records and, for singleton targets,
// the enclosing object.
func (r *CollectionRepo) recordsLocked(ctx context.Context, t domain.Target) ([]domain.Record, map[string]any, error) {
	v, err := r.valueLocked(ctx, t.Collection)
	if err != nil {
		return nil, nil, err
	}
	if t.Field == "" {
		records, _ := domain.RecordsFromAny(v)
		return cloneAll(records), nil, nil
	}
	obj, _ := v.(map[string]any)
	if obj == nil {
		return nil, nil, fmt.Errorf("%s is not an object", t.Collection)
	}
	records, _ := domain.RecordsFromAny(obj[t.Field])
	return cloneAll(records), obj, nil
}

func cloneAll(records []domain.Record) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

// Find returns a copy of the record selected by loc.
func (r *CollectionRepo) Find(ctx context.Context, t domain.Target, loc Locator) (domain.Record, error) {
	records, err := r.List(ctx, t)
	if err != nil {
		return nil, err
	}
	if i := loc.index(records); i >= 0 {
		return records[i], nil
	}
	return nil, fmt.Errorf("%s %s: %w", t, loc, ErrNotFound)
}

// mutate runs fn over the target's records under the repo lock and saves
// the result. fn returns the new records plus any record-level events.
func (r *CollectionRepo) mutate(ctx context.Context, t domain.Target, fn func([]domain.Record) ([]domain.Record, []publication, error)) error {
	r.mu.Lock()
	records, obj, err := r.recordsLocked(ctx, t)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	next, pubs, err := fn(records)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	var value any = domain.RecordsToAny(next)
	if t.Field != "" {
		updated := make(map[string]any, len(obj))
		for k, v := range obj {
			updated[k] = v
		}
		updated[t.Field] = value
		value = updated
	}
	err = r.cache.Write(ctx, string(t.Collection), value, false)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("saving %s: %w", t, err)
	}

	r.publish(append(pubs, updatePublications(t.Collection, value)...))
	return nil
}

// Insert appends rec. A record whose id is already present is rejected
// with ErrDuplicateID.
func (r *CollectionRepo) Insert(ctx context.Context, t domain.Target, rec domain.Record) error {
	return r.mutate(ctx, t, func(records []domain.Record) ([]domain.Record, []publication, error) {
		if id := rec.ID(); id != "" && (Locator{ID: id}).index(records) >= 0 {
			return nil, nil, fmt.Errorf("%s id=%s: %w", t, id, ErrDuplicateID)
		}
		added := rec.Clone()
		return append(records, added), []publication{{name: events.AddedTopic(t.Collection), payload: added}}, nil
	})
}

// Update merges patch into the record selected by loc and returns the
// record before and after the change.
func (r *CollectionRepo) Update(ctx context.Context, t domain.Target, loc Locator, patch domain.Record) (before, after domain.Record, err error) {
	err = r.mutate(ctx, t, func(records []domain.Record) ([]domain.Record, []publication, error) {
		i := loc.index(records)
		if i < 0 {
			return nil, nil, fmt.Errorf("%s %s: %w", t, loc, ErrNotFound)
		}
		before = records[i].Clone()
		after = records[i].Merge(patch)
		records[i] = after
		return records, nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after.Clone(), nil
}

// Upsert replaces the record with rec's id, or appends rec when no record
// has that id. It reports whether rec was appended.
func (r *CollectionRepo) Upsert(ctx context.Context, t domain.Target, rec domain.Record) (created bool, err error) {
	id := rec.ID()
	if id == "" {
		return false, fmt.Errorf("upserting into %s: record has no id", t)
	}
	err = r.mutate(ctx, t, func(records []domain.Record) ([]domain.Record, []publication, error) {
		if i := (Locator{ID: id}).index(records); i >= 0 {
			records[i] = rec.Clone()
			return records, nil, nil
		}
		created = true
		return append(records, rec.Clone()), nil, nil
	})
	return created, err
}

// Delete removes the record selected by loc and returns it.
func (r *CollectionRepo) Delete(ctx context.Context, t domain.Target, loc Locator) (domain.Record, error) {
	var removed domain.Record
	err := r.mutate(ctx, t, func(records []domain.Record) ([]domain.Record, []publication, error) {
		i := loc.index(records)
		if i < 0 {
			return nil, nil, fmt.Errorf("%s %s: %w", t, loc, ErrNotFound)
		}
		removed = records[i]
		next := append(records[:i:i], records[i+1:]...)
		return next, []publication{{name: events.DeletedTopic(t.Collection), payload: removed}}, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
