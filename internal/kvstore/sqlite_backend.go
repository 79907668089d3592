package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/dayplan/internal/db"
)

// SQLiteBackend implements Backend over the kv_entries table. A positive
// quota caps the total stored bytes.
type SQLiteBackend struct {
	db         *sql.DB
	uow        db.UnitOfWork
	quotaBytes int64
}

// NewSQLiteBackend creates a SQLiteBackend. quotaBytes <= 0 disables the quota.
func NewSQLiteBackend(conn *sql.DB, quotaBytes int64) *SQLiteBackend {
	return &SQLiteBackend{
		db:         conn,
		uow:        db.NewSQLiteUnitOfWork(conn),
		quotaBytes: quotaBytes,
	}
}

func (b *SQLiteBackend) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, nil
}

func (b *SQLiteBackend) Write(ctx context.Context, key string, value []byte) error {
	return b.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return b.put(ctx, tx, key, value)
	})
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// WriteBatch applies deletes first, then puts, in a single transaction.
// The quota is checked per put against the running total.
func (b *SQLiteBackend) WriteBatch(ctx context.Context, puts map[string][]byte, deletes []string) error {
	return b.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		for _, k := range deletes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, k); err != nil {
				return fmt.Errorf("deleting %q: %w", k, err)
			}
		}
		for k, v := range puts {
			if err := b.put(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// UsedBytes returns the total size of all stored values.
func (b *SQLiteBackend) UsedBytes(ctx context.Context) (int64, error) {
	var used int64
	if err := b.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM kv_entries`).Scan(&used); err != nil {
		return 0, fmt.Errorf("measuring store size: %w", err)
	}
	return used, nil
}

func (b *SQLiteBackend) put(ctx context.Context, tx db.DBTX, key string, value []byte) error {
	if b.quotaBytes > 0 {
		var others int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size), 0) FROM kv_entries WHERE key != ?`, key).Scan(&others)
		if err != nil {
			return fmt.Errorf("measuring store size: %w", err)
		}
		if others+int64(len(value)) > b.quotaBytes {
			return fmt.Errorf("writing %q (%d bytes): %w", key, len(value), ErrQuotaExceeded)
		}
	}

	query := `INSERT INTO kv_entries (key, value, size, updated_at, write_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			updated_at = excluded.updated_at,
			write_count = kv_entries.write_count + 1`
	_, err := tx.ExecContext(ctx, query, key, value, len(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}
