// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Schema is the upload registry schema.
const Schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	stored_name  TEXT NOT NULL,
	size         INTEGER NOT NULL,
	digest       TEXT NOT NULL,
	content_type TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at);
CREATE INDEX IF NOT EXISTS idx_uploads_digest ON uploads(digest);
`

// registry is the SQLite-backed record of stored uploads.
type registry struct {
	db *sql.DB
}

func openRegistry(path string) (*registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &registry{db: db}, nil
}

func (r *registry) insert(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO uploads (id, name, stored_name, size, digest, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.StoredName, rec.Size, rec.Digest, rec.ContentType, rec.CreatedAt.UnixNano(),
	)
	return errors.Wrap(err, "failed to insert upload")
}

func (r *registry) list(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, name, stored_name, size, digest, content_type, created_at
	          FROM uploads ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list uploads")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, errors.Wrap(rows.Err(), "failed to list uploads")
}

func (r *registry) get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, stored_name, size, digest, content_type, created_at
		 FROM uploads WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindNotFound, id, ErrNotFound.Message, nil)
	}
	return rec, err
}

func (r *registry) delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete upload")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newError(KindNotFound, id, ErrNotFound.Message, nil)
	}
	return nil
}

func (r *registry) close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var created int64
	if err := s.Scan(&rec.ID, &rec.Name, &rec.StoredName, &rec.Size, &rec.Digest, &rec.ContentType, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan upload")
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}
