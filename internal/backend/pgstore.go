/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	applog "wallnewspaper/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore keeps instances and participants in Postgres.
type PGStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPG connects with the pgx stdlib driver, pings and applies migrations.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &PGStore{db: db, log: applog.WithComponent("backend.pg")}
	if err := s.migrate(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies embedded SQL migrations in filename order and records them.
func (s *PGStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    BIGINT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied := map[int64]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, name := range files {
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		if applied[v] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		s.log.Info("applying migration", slog.String("file", name))
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2) ON CONFLICT DO NOTHING`, v, name); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int64, error) {
	base := path.Base(name)
	prefix, _, _ := strings.Cut(base, "_")
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

func (s *PGStore) Join(ctx context.Context, instance string) (JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JoinResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO instances(id) VALUES($1) ON CONFLICT (id) DO NOTHING`, instance); err != nil {
		return JoinResult{}, fmt.Errorf("ensure instance: %w", err)
	}
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO participants(id, instance_id) VALUES($1, $2)`, id, instance); err != nil {
		return JoinResult{}, fmt.Errorf("insert participant: %w", err)
	}
	st, err := loadState(ctx, tx, instance)
	if err != nil {
		return JoinResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return JoinResult{}, fmt.Errorf("commit: %w", err)
	}
	return JoinResult{Participant: id, InstanceState: st}, nil
}

// Leave removes participant. When the last one leaves, the start offset is
// cleared so the next session draws a fresh one.
func (s *PGStore) Leave(ctx context.Context, instance, participant string) (InstanceState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InstanceState{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = $1 FOR UPDATE`, instance).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceState{}, ErrNotFound
	}
	if err != nil {
		return InstanceState{}, fmt.Errorf("lock instance: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = $1 AND instance_id = $2`, participant, instance)
	if err != nil {
		return InstanceState{}, fmt.Errorf("delete participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return InstanceState{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE instances SET start_offset = NULL, updated_at = now()
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM participants WHERE instance_id = $1)`, instance); err != nil {
		return InstanceState{}, fmt.Errorf("reset offset: %w", err)
	}
	st, err := loadState(ctx, tx, instance)
	if err != nil {
		return InstanceState{}, err
	}
	if err := tx.Commit(); err != nil {
		return InstanceState{}, fmt.Errorf("commit: %w", err)
	}
	return st, nil
}

func (s *PGStore) SetOffset(ctx context.Context, instance, participant string, offset int) (InstanceState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InstanceState{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = $1 FOR UPDATE`, instance).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceState{}, ErrNotFound
	}
	if err != nil {
		return InstanceState{}, fmt.Errorf("lock instance: %w", err)
	}
	owner, err := ownerOf(ctx, tx, instance)
	if err != nil {
		return InstanceState{}, err
	}
	if owner != participant {
		return InstanceState{}, ErrNotOwner
	}
	if _, err := tx.ExecContext(ctx, `UPDATE instances SET start_offset = $2, version = version + 1, updated_at = now() WHERE id = $1`, instance, offset); err != nil {
		return InstanceState{}, fmt.Errorf("update offset: %w", err)
	}
	st, err := loadState(ctx, tx, instance)
	if err != nil {
		return InstanceState{}, err
	}
	if err := tx.Commit(); err != nil {
		return InstanceState{}, fmt.Errorf("commit: %w", err)
	}
	return st, nil
}

func (s *PGStore) Get(ctx context.Context, instance string) (InstanceState, error) {
	return loadState(ctx, s.db, instance)
}

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Close() error { return s.db.Close() }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadState(ctx context.Context, q querier, instance string) (InstanceState, error) {
	var (
		off sql.NullInt64
		st  = InstanceState{Instance: instance}
	)
	err := q.QueryRowContext(ctx, `SELECT start_offset, version, updated_at FROM instances WHERE id = $1`, instance).
		Scan(&off, &st.Version, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceState{}, ErrNotFound
	}
	if err != nil {
		return InstanceState{}, fmt.Errorf("select instance: %w", err)
	}
	st.Offset, st.HasOffset = int(off.Int64), off.Valid
	st.UpdatedAt = st.UpdatedAt.UTC()
	if st.Owner, err = ownerOf(ctx, q, instance); err != nil {
		return InstanceState{}, err
	}
	return st, nil
}

func ownerOf(ctx context.Context, q querier, instance string) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT id::text FROM participants WHERE instance_id = $1 ORDER BY seq LIMIT 1`, instance).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select owner: %w", err)
	}
	return owner, nil
}
