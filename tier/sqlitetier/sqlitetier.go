// Package sqlitetier is a collaborator tier backed by an embedded SQLite
// database file (pure-Go driver, no cgo). One row per key; expiry lives in
// an indexed expires_at column (NULL = never) and is enforced lazily on
// read and in bulk by Cleanup.
//
// Collaborator tiers rank after the built-in chain: construct one and
// attach it through the engine options.
package sqlitetier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/tiercache/tier"
)

// TierID names this tier in health maps and hook events.
const TierID tier.ID = "sqlite_file"

const defaultTable = "cache_entries"

type Config struct {
	// Path is the database file. Required.
	Path string

	// Table holds the entries. Must be a plain identifier.
	// Default "cache_entries".
	Table string
}

type Cache struct {
	db  *sql.DB
	now func() time.Time

	qGet   string
	qPut   string
	qDel   string
	qClear string
	qSweep string
}

var _ tier.Tier = (*Cache)(nil)

func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlitetier: no database path", tier.ErrUnavailable)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("sqlitetier: invalid table name %q", table)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlitetier: %w", tier.ErrUnavailable, err)
	}
	// One writer at a time keeps SQLITE_BUSY out of the hot path; WAL still
	// lets other processes read concurrently.
	db.SetMaxOpenConns(1)

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER
)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlitetier: create table: %w", tier.ErrUnavailable, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)", table, table)
	if _, err := db.ExecContext(ctx, idx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlitetier: create index: %w", tier.ErrUnavailable, err)
	}

	return &Cache{
		db:     db,
		now:    time.Now,
		qGet:   fmt.Sprintf("SELECT value, expires_at FROM %s WHERE key = ?", table),
		qPut:   fmt.Sprintf("INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at", table),
		qDel:   fmt.Sprintf("DELETE FROM %s WHERE key = ?", table),
		qClear: fmt.Sprintf("DELETE FROM %s", table),
		qSweep: fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?", table),
	}, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (c *Cache) ID() tier.ID { return TierID }

func (c *Cache) Probe(ctx context.Context) error { return tier.RoundTrip(ctx, c) }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var exp sql.NullInt64
	err := c.db.QueryRowContext(ctx, c.qGet, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp.Valid && exp.Int64 <= c.now().Unix() {
		_, _ = c.db.ExecContext(ctx, c.qDel, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	var exp any
	if !expiresAt.IsZero() {
		exp = unixCeil(expiresAt)
	}
	if _, err := c.db.ExecContext(ctx, c.qPut, key, payload, exp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, c.qDel, key)
	return err
}

func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, c.qClear)
	return err
}

// Cleanup deletes every expired row in one statement and reports the count.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, c.qSweep, c.now().Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *Cache) Close(context.Context) error { return c.db.Close() }

// unixCeil rounds an expiry up to whole seconds so an entry is never
// reported dead before its TTL has fully elapsed.
func unixCeil(t time.Time) int64 {
	u := t.Unix()
	if !t.Equal(time.Unix(u, 0)) {
		u++
	}
	return u
}
