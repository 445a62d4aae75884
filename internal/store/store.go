// Package store persists transcript rows and audit labels in sqlite.
// Rows are append-only: nothing in this package updates or deletes them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/HexSleeves/guesscard/internal/transcript"
)

// timeLayout is fixed width so lexical order on the column is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS chat_logs (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	run_started_at TEXT,
	role           TEXT NOT NULL,
	card           TEXT,
	llm            TEXT,
	response       TEXT NOT NULL,
	context        TEXT,
	treatment      TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_logs_run ON chat_logs(run_id, created_at);

CREATE TABLE IF NOT EXISTS run_labels (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	response   TEXT NOT NULL,
	context    TEXT,
	model      TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_labels_run ON run_labels(run_id);
`

// Store is an explicitly opened handle on the game database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Concurrent games append through one connection; sqlite allows one writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// dsn builds a sqlite URI for path. The path is percent-escaped so that '?'
// and '#' in a file name are not read as the start of the query.
func dsn(path string) string {
	u := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     path,
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
	return u.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendRow inserts one transcript row. ID and timestamps are assigned here
// when unset; the stored row is returned.
func (s *Store) AppendRow(ctx context.Context, row transcript.Row) (transcript.Row, error) {
	if row.RunID == "" {
		return row, errors.New("append row: run id is required")
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if len(row.LLM) == 0 {
		row.LLM = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_logs (id, run_id, run_started_at, role, card, llm, response, context, treatment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.RunID, formatTime(row.RunStartedAt), string(row.Role),
		nullString(row.Card), string(row.LLM), row.Response,
		nullString(row.Context), nullString(row.Treatment),
		formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
	)
	if err != nil {
		return row, fmt.Errorf("insert chat log: %w", err)
	}
	return row, nil
}

// RunRows returns every row of a run in creation order, ties broken by
// insertion order.
func (s *Store) RunRows(ctx context.Context, runID string) ([]transcript.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, run_started_at, role, card, llm, response, context, treatment, created_at, updated_at
		FROM chat_logs
		WHERE run_id = ?
		ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	defer rows.Close()

	var out []transcript.Row
	for rows.Next() {
		var (
			r                                transcript.Row
			role, llm, started, created, upd string
			card, rendered, treatment        sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &started, &role, &card, &llm, &r.Response, &rendered, &treatment, &created, &upd); err != nil {
			return nil, fmt.Errorf("scan chat log: %w", err)
		}
		if r.Role, err = transcript.ParseRole(role); err != nil {
			return nil, fmt.Errorf("chat log %s: %w", r.ID, err)
		}
		r.Card = card.String
		r.Context = rendered.String
		r.Treatment = treatment.String
		r.LLM = json.RawMessage(llm)
		r.RunStartedAt = parseTime(started)
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(upd)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunIDs returns distinct run ids ordered by first activity. With
// unlabeledOnly, runs that already have a label are excluded.
func (s *Store) RunIDs(ctx context.Context, unlabeledOnly bool) ([]string, error) {
	query := `
		SELECT c.run_id
		FROM chat_logs c`
	if unlabeledOnly {
		query += `
		LEFT JOIN run_labels l ON l.run_id = c.run_id
		WHERE l.run_id IS NULL`
	}
	query += `
		GROUP BY c.run_id
		ORDER BY MIN(c.created_at), MIN(c.rowid)`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendLabel stores an audit label.
func (s *Store) AppendLabel(ctx context.Context, label transcript.Label) (transcript.Label, error) {
	if label.RunID == "" {
		return label, errors.New("append label: run id is required")
	}
	if label.ID == "" {
		label.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if label.CreatedAt.IsZero() {
		label.CreatedAt = now
	}
	label.UpdatedAt = now

	verdict, err := json.Marshal(label.Verdict)
	if err != nil {
		return label, fmt.Errorf("encode verdict: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_labels (id, run_id, response, context, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		label.ID, label.RunID, string(verdict), nullString(label.Context), nullString(label.Model),
		formatTime(label.CreatedAt), formatTime(label.UpdatedAt),
	)
	if err != nil {
		return label, fmt.Errorf("insert run label: %w", err)
	}
	return label, nil
}

// Labels returns the labels of a run, oldest first.
func (s *Store) Labels(ctx context.Context, runID string) ([]transcript.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, response, context, model, created_at, updated_at
		FROM run_labels
		WHERE run_id = ?
		ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run labels: %w", err)
	}
	defer rows.Close()

	var out []transcript.Label
	for rows.Next() {
		var (
			l               transcript.Label
			response        string
			prompt, model   sql.NullString
			created, update string
		)
		if err := rows.Scan(&l.ID, &l.RunID, &response, &prompt, &model, &created, &update); err != nil {
			return nil, fmt.Errorf("scan run label: %w", err)
		}
		if err := json.Unmarshal([]byte(response), &l.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict for label %s: %w", l.ID, err)
		}
		l.Context = prompt.String
		l.Model = model.String
		l.CreatedAt = parseTime(created)
		l.UpdatedAt = parseTime(update)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Runs summarizes the most recent runs, newest first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]transcript.RunSummary, error) {
	query := `
		SELECT c.run_id,
		       MIN(c.run_started_at),
		       COALESCE(MAX(c.card), ''),
		       COALESCE(MAX(c.treatment), ''),
		       COUNT(*),
		       (SELECT COUNT(*) FROM run_labels l WHERE l.run_id = c.run_id),
		       COALESCE((SELECT response FROM chat_logs s
		                 WHERE s.run_id = c.run_id AND s.role = 'system'
		                 ORDER BY s.created_at DESC, s.rowid DESC LIMIT 1), '')
		FROM chat_logs c
		GROUP BY c.run_id
		ORDER BY MIN(c.created_at) DESC, MIN(c.rowid) DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []transcript.RunSummary
	for rows.Next() {
		var (
			r       transcript.RunSummary
			started sql.NullString
		)
		if err := rows.Scan(&r.RunID, &started, &r.Card, &r.Treatment, &r.Rows, &r.Labels, &r.LastEvent); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Card returns the secret card recorded for a run.
func (s *Store) Card(ctx context.Context, runID string) (string, error) {
	var card sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT card FROM chat_logs
		WHERE run_id = ? AND card IS NOT NULL AND card != ''
		ORDER BY created_at, rowid LIMIT 1`, runID).Scan(&card)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("card for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query card: %w", err)
	}
	return card.String, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
