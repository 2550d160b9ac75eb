// Package sqlitekv implements kv.Store on a single SQLite database file.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jacentio/tendril/kv"
)

// Store is an SQLite backed kv.Store. It does not support publish/subscribe.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

var _ kv.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// tx runs fn in a transaction after evicting expired keys among keys.
func (s *Store) tx(ctx context.Context, op string, keys []string, fn func(*sql.Tx) error) error {
	if s.closed.Load() {
		return fmt.Errorf("sqlite %s: %w", op, kv.ErrNotConnected)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	for _, k := range keys {
		if err := s.evict(ctx, tx, k); err != nil {
			tx.Rollback()
			return wrap(op, err)
		}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return wrap(op, err)
	}
	return wrap(op, tx.Commit())
}

func (s *Store) evict(ctx context.Context, tx *sql.Tx, key string) error {
	var at int64
	err := tx.QueryRowContext(ctx, `SELECT at FROM kv_expiry WHERE k = ?`, key).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.now().UnixNano() < at {
		return nil
	}
	return removeKey(ctx, tx, key)
}

func removeKey(ctx context.Context, tx *sql.Tx, key string) error {
	for _, q := range []string{
		`DELETE FROM kv_hash WHERE k = ?`,
		`DELETE FROM kv_set WHERE k = ?`,
		`DELETE FROM kv_string WHERE k = ?`,
		`DELETE FROM kv_expiry WHERE k = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, key); err != nil {
			return err
		}
	}
	return nil
}

func exists(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM kv_hash WHERE k = ?1
		UNION ALL SELECT 1 FROM kv_set WHERE k = ?1
		UNION ALL SELECT 1 FROM kv_string WHERE k = ?1
		LIMIT 1`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// dropIfEmpty removes the expiry of a key that no longer holds a value.
func dropIfEmpty(ctx context.Context, tx *sql.Tx, key string) error {
	ok, err := exists(ctx, tx, key)
	if err != nil || ok {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM kv_expiry WHERE k = ?`, key)
	return err
}

func (s *Store) HGetAll(ctx context.Context, key string) (kv.Hash, error) {
	h := kv.Hash{}
	err := s.tx(ctx, "hgetall", []string{key}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT f, v FROM kv_hash WHERE k = ?`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f, v string
			if err := rows.Scan(&f, &v); err != nil {
				return err
			}
			h[f] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields kv.Hash) error {
	if len(fields) == 0 {
		return nil
	}
	return s.tx(ctx, "hset", []string{key}, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO kv_hash (k, f, v) VALUES (?, ?, ?)
			ON CONFLICT (k, f) DO UPDATE SET v = excluded.v`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for f, v := range fields {
			if _, err := stmt.ExecContext(ctx, key, f, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.tx(ctx, "hdel", []string{key}, func(tx *sql.Tx) error {
		for _, f := range fields {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_hash WHERE k = ? AND f = ?`, key, f); err != nil {
				return err
			}
		}
		return dropIfEmpty(ctx, tx, key)
	})
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.tx(ctx, "del", nil, func(tx *sql.Tx) error {
		for _, k := range keys {
			if err := removeKey(ctx, tx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.tx(ctx, "exists", []string{key}, func(tx *sql.Tx) error {
		var err error
		ok, err = exists(ctx, tx, key)
		return err
	})
	return ok, err
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.tx(ctx, "sadd", []string{key}, func(tx *sql.Tx) error {
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO kv_set (k, m) VALUES (?, ?)`, key, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.tx(ctx, "srem", []string{key}, func(tx *sql.Tx) error {
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_set WHERE k = ? AND m = ?`, key, m); err != nil {
				return err
			}
		}
		return dropIfEmpty(ctx, tx, key)
	})
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.tx(ctx, "smembers", []string{key}, func(tx *sql.Tx) error {
		var err error
		out, err = queryStrings(ctx, tx, `SELECT m FROM kv_set WHERE k = ?`, key)
		return err
	})
	return out, err
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := s.tx(ctx, "sismember", []string{key}, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM kv_set WHERE k = ? AND m = ?`, key, member).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.tx(ctx, "scard", []string{key}, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_set WHERE k = ?`, key).Scan(&n)
	})
	return n, err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.tx(ctx, "get", []string{key}, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT v FROM kv_string WHERE k = ?`, key).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		ok = err == nil
		return err
	})
	return v, ok, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.tx(ctx, "set", nil, func(tx *sql.Tx) error {
		if err := removeKey(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_string (k, v) VALUES (?, ?)`, key, value); err != nil {
			return err
		}
		if ttl <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO kv_expiry (k, at) VALUES (?, ?)`, key, s.now().Add(ttl).UnixNano())
		return err
	})
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.tx(ctx, "expire", []string{key}, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, key)
		if err != nil || !ok {
			return err
		}
		if ttl <= 0 {
			return removeKey(ctx, tx, key)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO kv_expiry (k, at) VALUES (?, ?)
			ON CONFLICT (k) DO UPDATE SET at = excluded.at`, key, s.now().Add(ttl).UnixNano())
		return err
	})
}

// Keys returns live keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.tx(ctx, "keys", nil, func(tx *sql.Tx) error {
		var err error
		out, err = queryStrings(ctx, tx, `SELECT k FROM (
				SELECT k FROM kv_hash UNION SELECT k FROM kv_set UNION SELECT k FROM kv_string
			) WHERE substr(k, 1, length(?1)) = ?1
			AND k NOT IN (SELECT k FROM kv_expiry WHERE at <= ?2)
			ORDER BY k`, prefix, s.now().UnixNano())
		return err
	})
	return out, err
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("sqlite ping: %w", kv.ErrNotConnected)
	}
	return wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("sqlite %s: %w: %v", op, kv.ErrNotConnected, err)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
