package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"pf-scalp-bot/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms INTEGER NOT NULL,
		kind TEXT NOT NULL,
		phase TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL DEFAULT '',
		position_id TEXT NOT NULL DEFAULT '',
		entry_price REAL NOT NULL DEFAULT 0,
		size REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	)`)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) AppendJournal(ctx context.Context, e state.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (at_ms, kind, phase, symbol, side, position_id, entry_price, size, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AtMS, e.Kind, e.Phase, e.Symbol, e.Side, e.PositionID, e.EntryPrice, e.Size, e.Reason)
	return err
}

// RecentJournal returns up to limit entries, newest first.
func (s *Store) RecentJournal(ctx context.Context, limit int) ([]state.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, kind, phase, symbol, side, position_id, entry_price, size, reason FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.JournalEntry
	for rows.Next() {
		var e state.JournalEntry
		if err := rows.Scan(&e.AtMS, &e.Kind, &e.Phase, &e.Symbol, &e.Side, &e.PositionID, &e.EntryPrice, &e.Size, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ state.Store   = (*Store)(nil)
	_ state.Journal = (*Store)(nil)
)
