// Package cache keeps indicative aggregator quotes in sqlite so repeated
// quote lookups inside the TTL skip the network. Settlement pricing never
// reads from it.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Tag records which provider and chain produced an entry so a refresh can
// drop every quote from that source at once.
type Tag struct {
	Provider string
	ChainID  string
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

var quoteSchema = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	`CREATE TABLE IF NOT EXISTS quote_cache (
		key         TEXT PRIMARY KEY,
		provider    TEXT NOT NULL DEFAULT '',
		chain_id    TEXT NOT NULL DEFAULT '',
		value       BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		ttl_seconds INTEGER NOT NULL
	);`,
	"CREATE INDEX IF NOT EXISTS idx_quote_cache_source ON quote_cache(provider, chain_id);",
}

func Open(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	for _, query := range quoteSchema {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	store := &Store{db: db, lock: flock.New(lockPath)}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries whose TTL has fully elapsed. Open calls it once.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM quote_cache WHERE created_at + ttl_seconds < ?", time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

// Get reports the entry's age against its TTL. Stale entries inside
// maxStale are still returned so callers can fall back to them.
func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var (
		value       []byte
		createdUnix int64
		ttlSeconds  int64
	)
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM quote_cache WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	age := time.Since(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}, nil
}

// Set upserts an entry. TTLs under one second are rounded up to one.
func (s *Store) Set(key string, tag Tag, value []byte, ttl time.Duration) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO quote_cache (key, provider, chain_id, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			provider=excluded.provider,
			chain_id=excluded.chain_id,
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, normalizeTag(tag.Provider), normalizeTag(tag.ChainID), value, time.Now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Invalidate drops every entry written under tag and returns how many were
// removed. An empty ChainID matches all chains of the provider.
func (s *Store) Invalidate(tag Tag) (int64, error) {
	provider := normalizeTag(tag.Provider)
	if provider == "" {
		return 0, fmt.Errorf("invalidate cache: provider is required")
	}
	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()

	query := "DELETE FROM quote_cache WHERE provider = ?"
	args := []any{provider}
	if chain := normalizeTag(tag.ChainID); chain != "" {
		query += " AND chain_id = ?"
		args = append(args, chain)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) acquire() (func(), error) {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock cache: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func normalizeTag(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
