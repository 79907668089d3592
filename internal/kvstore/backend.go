package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = errors.New("key not found")

	// ErrQuotaExceeded indicates a write would exceed the store's size limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnavailable indicates the store cannot be used at all.
	ErrUnavailable = errors.New("storage unavailable")
)

// Backend is a synchronous byte-oriented key-value store.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// BatchBackend is implemented by backends that can apply several puts and
// deletes as one unit.
type BatchBackend interface {
	Backend
	WriteBatch(ctx context.Context, puts map[string][]byte, deletes []string) error
}

// DisabledBackend stands in for a store that could not be opened. Every
// call fails with ErrUnavailable.
type DisabledBackend struct {
	Reason error
}

func (b DisabledBackend) err() error {
	if b.Reason != nil {
		return errors.Join(ErrUnavailable, b.Reason)
	}
	return ErrUnavailable
}

func (b DisabledBackend) Read(context.Context, string) ([]byte, error)  { return nil, b.err() }
func (b DisabledBackend) Write(context.Context, string, []byte) error   { return b.err() }
func (b DisabledBackend) Delete(context.Context, string) error          { return b.err() }
func (b DisabledBackend) Keys(context.Context) ([]string, error)        { return nil, b.err() }
