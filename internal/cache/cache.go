/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package cache keeps downloaded newspaper images in a local SQLite file so a
// restart can revalidate with the server instead of fetching the full body.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	applog "wallnewspaper/internal/log"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// EnvMaxBytes caps the total body bytes kept in the cache.
	EnvMaxBytes     = "WNP_CACHE_MAX_BYTES"
	defaultMaxBytes = 64 * 1024 * 1024

	schemaVersion = 1
)

// Entry is one cached response body.
type Entry struct {
	URL         string
	ETag        string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Cache is an LRU blob cache keyed by URL.
type Cache struct {
	db       *sql.DB
	maxBytes int64
	log      *slog.Logger
}

// DefaultPath returns <user cache dir>/wallnewspaper/textures.sqlite.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "wallnewspaper", "textures.sqlite"), nil
}

// MaxBytesFromEnv reads WNP_CACHE_MAX_BYTES, defaulting to 64MB.
func MaxBytesFromEnv() int64 {
	v := os.Getenv(EnvMaxBytes)
	if v == "" {
		return defaultMaxBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultMaxBytes
	}
	return n
}

// Open creates or opens the cache database at path. maxBytes <= 0 disables eviction.
func Open(path string, maxBytes int64) (*Cache, error) {
	l := applog.WithOperation(applog.WithComponent("cache"), "open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		l.Error("cache migration failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("cache ready", slog.Int64("max_bytes", maxBytes))
	return &Cache{db: db, maxBytes: maxBytes, log: applog.WithComponent("cache")}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS version (
		id      INTEGER PRIMARY KEY CHECK(id=1),
		schema  INTEGER NOT NULL
	);`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 1:
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS blobs (
					url          TEXT PRIMARY KEY,
					etag         TEXT NOT NULL DEFAULT '',
					content_type TEXT NOT NULL DEFAULT '',
					body         BLOB NOT NULL,
					size         INTEGER NOT NULL,
					fetched_at   TEXT NOT NULL,
					access_seq   INTEGER NOT NULL
				);`,
				`CREATE INDEX IF NOT EXISTS idx_blobs_access ON blobs(access_seq);`,
			}
			for _, q := range stmts {
				if _, err := db.ExecContext(ctx, q); err != nil {
					return fmt.Errorf("migration %d: %w", next, err)
				}
			}
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO version(id, schema) VALUES(1, ?)
			ON CONFLICT(id) DO UPDATE SET schema=excluded.schema`, next); err != nil {
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		cur = next
	}
	return nil
}

// Close releases the database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the entry for url and marks it most recently used.
func (c *Cache) Get(ctx context.Context, url string) (Entry, bool, error) {
	e := Entry{URL: url}
	var fetched string
	err := c.db.QueryRowContext(ctx, `SELECT etag, content_type, body, fetched_at FROM blobs WHERE url=?`, url).
		Scan(&e.ETag, &e.ContentType, &e.Body, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query blob: %w", err)
	}
	e.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetched)
	if _, err := c.db.ExecContext(ctx, `UPDATE blobs SET access_seq=(SELECT COALESCE(MAX(access_seq),0)+1 FROM blobs) WHERE url=?`, url); err != nil {
		c.log.Warn("touch failed", slog.String("url", url), slog.Any("err", err))
	}
	return e, true, nil
}

// Put upserts e and evicts least recently used entries beyond the size cap.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.URL == "" {
		return errors.New("cache entry needs a url")
	}
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `INSERT INTO blobs(url, etag, content_type, body, size, fetched_at, access_seq)
		VALUES(?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(access_seq),0)+1 FROM blobs))
		ON CONFLICT(url) DO UPDATE SET etag=excluded.etag, content_type=excluded.content_type,
			body=excluded.body, size=excluded.size, fetched_at=excluded.fetched_at, access_seq=excluded.access_seq`,
		e.URL, e.ETag, e.ContentType, e.Body, len(e.Body), e.FetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	if c.maxBytes > 0 {
		return c.evictToFit(ctx)
	}
	return nil
}

// TotalBytes returns the summed size of all cached bodies.
func (c *Cache) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM blobs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum blob size: %w", err)
	}
	return total, nil
}

func (c *Cache) evictToFit(ctx context.Context) error {
	total, err := c.TotalBytes(ctx)
	if err != nil {
		return err
	}
	if total <= c.maxBytes {
		return nil
	}
	rows, err := c.db.QueryContext(ctx, `SELECT url, size FROM blobs ORDER BY access_seq ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	var victims []any
	for rows.Next() && total > c.maxBytes {
		var url string
		var size int64
		if err := rows.Scan(&url, &size); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, url)
		total -= size
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// close the cursor before writing
	if err := rows.Close(); err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	q := `DELETE FROM blobs WHERE url IN (?` + strings.Repeat(",?", len(victims)-1) + `)`
	if _, err := c.db.ExecContext(ctx, q, victims...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	c.log.Debug("evicted", slog.Int("entries", len(victims)), slog.Int64("remaining", total))
	return nil
}
