// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements the durable store over modernc.org/sqlite.
//
// # Description
//
// One `members` table holds the whole forest. The id column is the
// PRIMARY KEY, so identifier uniqueness is enforced by the store even
// across server processes; the engine's advisory create lock and
// pre-insert re-check only narrow the window, they are not the
// guarantee.
//
// The pool is capped at a single connection. SQLite allows one writer
// at a time anyway; funneling every transaction through one connection
// turns lock contention into queueing instead of SQLITE_BUSY churn.
// WAL mode keeps point reads cheap while a write transaction is open.
//
// # Error classification
//
// Driver failures that indicate a busy or temporarily unavailable
// database are wrapped in storage.TransientError so the engine's retry
// loop can tell them apart from business failures. Constraint
// violations on the primary key map to storage.ErrDuplicateID.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/lineage/services/registry/datatypes"
	"github.com/AleutianAI/lineage/services/registry/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS members (
    id                      TEXT PRIMARY KEY,
    father_id               TEXT,
    name                    TEXT NOT NULL,
    gender                  TEXT NOT NULL CHECK (gender IN ('male','female')),
    generation              INTEGER NOT NULL DEFAULT 1,
    branch                  TEXT NOT NULL DEFAULT '',
    birth_year              INTEGER,
    death_year              INTEGER,
    status                  TEXT NOT NULL DEFAULT 'living',
    email                   TEXT NOT NULL DEFAULT '',
    phone                   TEXT NOT NULL DEFAULT '',
    biography               TEXT NOT NULL DEFAULT '',
    sons_count              INTEGER NOT NULL DEFAULT 0,
    daughters_count         INTEGER NOT NULL DEFAULT 0,
    cached_father_name      TEXT NOT NULL DEFAULT '',
    cached_grandfather_name TEXT NOT NULL DEFAULT '',
    version                 INTEGER NOT NULL DEFAULT 1,
    created_at              INTEGER NOT NULL,
    updated_at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_members_father ON members(father_id);
CREATE INDEX IF NOT EXISTS idx_members_generation ON members(generation);
`

const memberColumns = `id, father_id, name, gender, generation, branch,
	birth_year, death_year, status, email, phone, biography,
	sons_count, daughters_count, cached_father_name, cached_grandfather_name,
	version, created_at, updated_at`

// Store is the SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at dbPath and applies the
// schema. The parent directory is created if missing.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; see the package comment.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping probes liveness with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify(err)
	}
	return nil
}

// WithTx runs fn in one transaction with rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	t := &tx{tx: dbTx}
	if err := fn(t); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Get is a point lookup outside any transaction.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.Member, error) {
	return get(ctx, s.db, id)
}

// List returns members matching the filter, ordered by id.
func (s *Store) List(ctx context.Context, f storage.Filter) ([]*datatypes.Member, error) {
	query := "SELECT " + memberColumns + " FROM members"
	var where []string
	var args []any
	if f.FatherID != nil {
		where = append(where, "father_id = ?")
		args = append(args, *f.FatherID)
	}
	if f.Generation != nil {
		where = append(where, "generation = ?")
		args = append(args, *f.Generation)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*datatypes.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

// Snapshot returns every member keyed by id.
func (s *Store) Snapshot(ctx context.Context) (map[string]*datatypes.Member, error) {
	members, err := s.List(ctx, storage.Filter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*datatypes.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	return byID, nil
}

// =============================================================================
// Transaction
// =============================================================================

type tx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) Get(ctx context.Context, id string) (*datatypes.Member, error) {
	return get(ctx, t.tx, id)
}

func (t *tx) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, "SELECT 1 FROM members WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func (t *tx) MaxID(ctx context.Context, prefix string) (string, error) {
	// Zero padding keeps lexical and numeric order aligned; ordering
	// by length first stays correct if the sequence ever outgrows the
	// configured width.
	var id string
	err := t.tx.QueryRowContext(ctx,
		"SELECT id FROM members WHERE id LIKE ? || '%' ORDER BY length(id) DESC, id DESC LIMIT 1",
		prefix).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func (t *tx) Insert(ctx context.Context, m *datatypes.Member) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO members (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, nullStr(m.FatherID), m.Name, m.Gender, m.Generation, m.Branch,
		nullInt(m.BirthYear), nullInt(m.DeathYear), m.Status, m.Email, m.Phone, m.Biography,
		m.SonsCount, m.DaughtersCount, m.CachedFatherName, m.CachedGrandfatherName,
		m.Version, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateID
		}
		return classify(err)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, m *datatypes.Member) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE members SET
			father_id = ?, name = ?, gender = ?, generation = ?, branch = ?,
			birth_year = ?, death_year = ?, status = ?, email = ?, phone = ?,
			biography = ?, sons_count = ?, daughters_count = ?,
			cached_father_name = ?, cached_grandfather_name = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		nullStr(m.FatherID), m.Name, m.Gender, m.Generation, m.Branch,
		nullInt(m.BirthYear), nullInt(m.DeathYear), m.Status, m.Email, m.Phone,
		m.Biography, m.SonsCount, m.DaughtersCount,
		m.CachedFatherName, m.CachedGrandfatherName,
		m.Version, m.UpdatedAt,
		m.ID, m.Version-1)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		// Distinguish a vanished row from a version race.
		var stored int64
		err := t.tx.QueryRowContext(ctx, "SELECT version FROM members WHERE id = ?", m.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return classify(err)
		}
		return &storage.ConflictError{Expected: m.Version - 1, Actual: stored}
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM members WHERE id = ?", id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) AdjustCounter(ctx context.Context, id string, field storage.CounterField, delta int) error {
	var column string
	switch field {
	case storage.CounterSons:
		column = "sons_count"
	case storage.CounterDaughters:
		column = "daughters_count"
	default:
		return fmt.Errorf("unknown counter field %q", field)
	}
	res, err := t.tx.ExecContext(ctx,
		"UPDATE members SET "+column+" = "+column+" + ?, version = version + 1, updated_at = ? WHERE id = ?",
		delta, datatypes.NowMillis(), id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) CountChildren(ctx context.Context, id string) (int, int, error) {
	var sons, daughters int
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN gender = 'male' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN gender = 'female' THEN 1 ELSE 0 END), 0)
		FROM members WHERE father_id = ?`, id).Scan(&sons, &daughters)
	if err != nil {
		return 0, 0, classify(err)
	}
	return sons, daughters, nil
}

// =============================================================================
// Helpers
// =============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, id string) (*datatypes.Member, error) {
	row := q.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*datatypes.Member, error) {
	var m datatypes.Member
	var fatherID sql.NullString
	var birthYear, deathYear sql.NullInt64
	err := s.Scan(
		&m.ID, &fatherID, &m.Name, &m.Gender, &m.Generation, &m.Branch,
		&birthYear, &deathYear, &m.Status, &m.Email, &m.Phone, &m.Biography,
		&m.SonsCount, &m.DaughtersCount, &m.CachedFatherName, &m.CachedGrandfatherName,
		&m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify(err)
	}
	if fatherID.Valid {
		v := fatherID.String
		m.FatherID = &v
	}
	if birthYear.Valid {
		v := int(birthYear.Int64)
		m.BirthYear = &v
	}
	if deathYear.Valid {
		v := int(deathYear.Int64)
		m.DeathYear = &v
	}
	return &m, nil
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed (1555)")
}

// classify wraps busy/locked/io driver failures as transient so the
// engine's retry loop can distinguish them from business failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"sqlite_ioerr",
		"connection reset",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return &storage.TransientError{Err: err}
		}
	}
	return err
}
