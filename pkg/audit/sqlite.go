// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
)

// SQLiteStore persists audit entries in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore creates a SQLite-backed store on db and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.Configuration("audit store requires a database")
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "create audit schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens dsn with the modernc driver. The returned store owns the
// connection and closes it on Close.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.Configuration("audit dsn must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "open audit database", err).
			WithContext("dsn", dsn)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close releases the connection if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single entry.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return errors.New(errors.CodeInternal, "encode audit payload", err).
			WithContext("state_type", e.StateType)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO waspnest_audit (
			run_id, agent, skill, step, point, status, state_type, payload_json, error_text, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RunID,
		e.Agent,
		e.Skill,
		e.Step,
		string(e.Point),
		string(e.Status),
		e.StateType,
		string(payload),
		e.Error,
		normalizeTime(e.At),
	)
	return err
}

// List returns entries matching filter in recording order. Payloads come
// back as generic JSON values.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT run_id, agent, skill, step, point, status, state_type, payload_json, error_text, recorded_at
		FROM waspnest_audit
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Skill != "" {
		addFilter("skill = ?", filter.Skill)
	}
	if filter.Point != "" {
		addFilter("point = ?", string(filter.Point))
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			point       string
			status      string
			payloadJSON string
			at          sql.NullTime
		)
		if err := rows.Scan(
			&e.RunID,
			&e.Agent,
			&e.Skill,
			&e.Step,
			&point,
			&status,
			&e.StateType,
			&payloadJSON,
			&e.Error,
			&at,
		); err != nil {
			return nil, err
		}
		e.Point, e.Status = hooks.Point(point), hooks.RunStatus(status)
		if out, err := decodePayload([]byte(payloadJSON)); err == nil {
			e.Payload = out
		}
		if at.Valid {
			e.At = at.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS waspnest_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			skill TEXT NOT NULL,
			step INTEGER NOT NULL,
			point TEXT NOT NULL,
			status TEXT NOT NULL,
			state_type TEXT NOT NULL,
			payload_json TEXT,
			error_text TEXT NOT NULL,
			recorded_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_waspnest_audit_run ON waspnest_audit(run_id);
		CREATE INDEX IF NOT EXISTS idx_waspnest_audit_skill ON waspnest_audit(skill);
	`)
	return err
}
