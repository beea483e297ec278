// Package pgtable is a collaborator tier backed by a PostgreSQL table: one
// row per key, BYTEA payload, expiry in an indexed bigint column (NULL =
// never) enforced lazily on read and in bulk by Cleanup.
//
// Connections come from pgxpool; the tier owns the pool and closes it with
// the engine.
package pgtable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/tiercache/tier"
)

// TierID names this tier in health maps and hook events.
const TierID tier.ID = "sql_table"

const defaultTable = "cache_entries"

type Config struct {
	// DSN is the pgx connection string. Required.
	DSN string

	// Table holds the entries. Must be a plain identifier.
	// Default "cache_entries".
	Table string
}

type Cache struct {
	pool *pgxpool.Pool
	now  func() time.Time

	qGet   string
	qPut   string
	qDel   string
	qClear string
	qSweep string
}

var _ tier.Tier = (*Cache)(nil)

func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: pgtable: no DSN", tier.ErrUnavailable)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("pgtable: invalid table name %q", table)
	}

	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: pgtable: %w", tier.ErrUnavailable, err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: pgtable: %w", tier.ErrUnavailable, err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at BIGINT
)`, table)
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: pgtable: create table: %w", tier.ErrUnavailable, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at)", table, table)
	if _, err := p.Exec(ctx, idx); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: pgtable: create index: %w", tier.ErrUnavailable, err)
	}

	return &Cache{
		pool:   p,
		now:    time.Now,
		qGet:   fmt.Sprintf("SELECT value, expires_at FROM %s WHERE key = $1", table),
		qPut:   fmt.Sprintf("INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at", table),
		qDel:   fmt.Sprintf("DELETE FROM %s WHERE key = $1", table),
		qClear: fmt.Sprintf("DELETE FROM %s", table),
		qSweep: fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1", table),
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
	var exp *int64
	err := c.pool.QueryRow(ctx, c.qGet, key).Scan(&value, &exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp != nil && *exp <= c.now().Unix() {
		_, _ = c.pool.Exec(ctx, c.qDel, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) (bool, error) {
	var exp *int64
	if !expiresAt.IsZero() {
		v := unixCeil(expiresAt)
		exp = &v
	}
	if _, err := c.pool.Exec(ctx, c.qPut, key, payload, exp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.pool.Exec(ctx, c.qDel, key)
	return err
}

func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, c.qClear)
	return err
}

// Cleanup deletes every expired row in one statement and reports the count.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx, c.qSweep, c.now().Unix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (c *Cache) Close(context.Context) error {
	c.pool.Close()
	return nil
}

func unixCeil(t time.Time) int64 {
	u := t.Unix()
	if !t.Equal(time.Unix(u, 0)) {
		u++
	}
	return u
}
