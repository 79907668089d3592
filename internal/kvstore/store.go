package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

const probeKey = "__dayplan_probe__"

// Store is the JSON-level adapter every other component goes through.
// Reads never fail: a missing, unparseable or mistyped value leaves the
// caller's default in place.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// NewStore wraps backend. A nil logger discards log output.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{backend: backend, logger: logger}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get decodes the value stored under key into dst, which must be a non-nil
// pointer. It returns false, leaving dst untouched, when the key is
// missing, holds null, or cannot be decoded into dst's type.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, ok := s.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := Decode(data, dst); err != nil {
		s.logger.WarnContext(ctx, "store_get_decode_failed", "key", key, "error", err.Error())
		return false
	}
	return true
}

// GetRaw returns the stored bytes for key. JSON null counts as missing.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "store_get_missing", "key", key)
		} else {
			s.logger.WarnContext(ctx, "store_get_failed", "key", key, "error", err.Error())
		}
		return nil, false
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, false
	}
	return data, true
}

// Set serializes value and writes it under key. Quota failures are
// returned wrapped in ErrQuotaExceeded for the caller to handle.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return s.SetRaw(ctx, key, data)
}

// SetRaw writes already-encoded bytes under key.
func (s *Store) SetRaw(ctx context.Context, key string, data []byte) error {
	if err := s.backend.Write(ctx, key, data); err != nil {
		return err
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Keys lists every stored key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.backend.Keys(ctx)
}

// Size reports the bytes held by the store. Backends that track usage
// answer directly; otherwise every value is read and measured.
func (s *Store) Size(ctx context.Context) (int64, error) {
	if u, ok := s.backend.(interface {
		UsedBytes(ctx context.Context) (int64, error)
	}); ok {
		return u.UsedBytes(ctx)
	}
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		data, err := s.backend.Read(ctx, k)
		if err != nil {
			continue
		}
		total += int64(len(data))
	}
	return total, nil
}

// Apply writes puts and removes deletes, atomically when the backend
// supports batches.
func (s *Store) Apply(ctx context.Context, puts map[string][]byte, deletes []string) error {
	if bb, ok := s.backend.(BatchBackend); ok {
		return bb.WriteBatch(ctx, puts, deletes)
	}
	for _, k := range deletes {
		if err := s.Remove(ctx, k); err != nil {
			return err
		}
	}
	for k, v := range puts {
		if err := s.SetRaw(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// IsAvailable probes the backend with a throwaway write and delete.
func (s *Store) IsAvailable(ctx context.Context) bool {
	if err := s.backend.Write(ctx, probeKey, []byte(`"probe"`)); err != nil {
		s.logger.WarnContext(ctx, "store_unavailable", "error", err.Error())
		return false
	}
	if err := s.backend.Delete(ctx, probeKey); err != nil {
		s.logger.WarnContext(ctx, "store_unavailable", "error", err.Error())
		return false
	}
	return true
}

// Decode unmarshals data into dst without touching dst on failure.
func Decode(data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", dst)
	}
	tmp := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(data, tmp.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(tmp.Elem())
	return nil
}
