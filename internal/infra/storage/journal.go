package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chadiek/speakassist/internal/history"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_created_at ON turns(created_at);`

// Journal is a durable log of conversation turns backed by sqlite. It only shrinks on Clear.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record implements history.Journal. Re-recording a turn with a known ID is a no-op.
func (j *Journal) Record(ctx context.Context, t history.Turn) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO turns (id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, string(t.Role), t.Content, t.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("record turn %s: %w", t.ID, err)
	}
	return nil
}

// Recent returns up to limit of the newest turns, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]history.Turn, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []history.Turn
	for rows.Next() {
		var (
			t    history.Turn
			role string
			ts   int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &ts); err != nil {
			return nil, err
		}
		t.Role = history.Role(role)
		t.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Clear implements history.Journal by deleting every recorded turn.
func (j *Journal) Clear(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
