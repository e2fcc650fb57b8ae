// Package history persists every finished job and its report, keyed by job
// id, and serves the listing, stats and export queries.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/report"
)

// ErrNotFound is returned when no entry exists for a job id.
var ErrNotFound = errors.New("history entry not found")

// Entry is the persisted form of a job plus its report. Report is nil unless
// the job succeeded.
type Entry struct {
	JobID        string         `json:"job_id"`
	SourceName   string         `json:"source_name"`
	SourcePath   string         `json:"-"`
	SourceKind   string         `json:"source_kind"`
	Detectors    []string       `json:"detectors"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	ProcessingMs float64        `json:"processing_ms"`
	Report       *report.Report `json:"report,omitempty"`
}

// MaxListLimit caps one List page; larger requests are clamped to it.
const MaxListLimit = 500

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	From   time.Time
	To     time.Time
	Label  string
	Limit  int
	Offset int
}

// Stats summarizes the stored history.
type Stats struct {
	TotalJobs        int            `json:"total_jobs"`
	JobsWithWeapon   int            `json:"jobs_with_weapon"`
	AvgProcessingMs  float64        `json:"avg_processing_ms"`
	BySourceKind     map[string]int `json:"by_source_kind"`
	DetectionsPerLbl map[string]int `json:"detections_per_label"`
}

// Store is a durable, queryable history of jobs backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	// Pragmas ride on the DSN so every pooled connection gets them; the
	// foreign_keys pragma is per-connection and the label-row cleanup on
	// delete depends on CASCADE firing everywhere. WAL keeps writers from
	// blocking readers; same-id writes still serialize on the row.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			source_name TEXT NOT NULL,
			source_path TEXT NOT NULL DEFAULT '',
			source_kind TEXT NOT NULL,
			detectors TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			processing_ms REAL NOT NULL DEFAULT 0,
			has_weapon INTEGER NOT NULL DEFAULT 0,
			detections_count INTEGER NOT NULL DEFAULT 0,
			report_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS report_labels (
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			count INTEGER NOT NULL,
			max_confidence REAL NOT NULL,
			PRIMARY KEY (job_id, label)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_labels_label ON report_labels(label)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Put writes an entry, replacing any previous entry for the same job id. The
// write happens in one transaction so a failure never leaves a half-written
// entry, and writing the same id twice leaves exactly the second content.
func (s *Store) Put(ctx context.Context, e Entry) error {
	var reportJSON sql.NullString
	hasWeapon := 0
	detCount := 0
	if e.Report != nil {
		data, err := json.Marshal(e.Report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		reportJSON = sql.NullString{String: string(data), Valid: true}
		detCount = len(e.Report.Detections)
		if e.Report.HasWeapon {
			hasWeapon = 1
		}
	}

	var finishedMs int64
	if !e.FinishedAt.IsZero() {
		finishedMs = e.FinishedAt.UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO jobs
		(id, source_name, source_path, source_kind, detectors, status, error, created_at, finished_at, processing_ms, has_weapon, detections_count, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_name = excluded.source_name,
			source_path = excluded.source_path,
			source_kind = excluded.source_kind,
			detectors = excluded.detectors,
			status = excluded.status,
			error = excluded.error,
			created_at = excluded.created_at,
			finished_at = excluded.finished_at,
			processing_ms = excluded.processing_ms,
			has_weapon = excluded.has_weapon,
			detections_count = excluded.detections_count,
			report_json = excluded.report_json`,
		e.JobID, e.SourceName, e.SourcePath, e.SourceKind, strings.Join(e.Detectors, ","),
		e.Status, e.Error, e.CreatedAt.UnixMilli(), finishedMs,
		e.ProcessingMs, hasWeapon, detCount, reportJSON)
	if err != nil {
		return fmt.Errorf("save history entry %s: %w", e.JobID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_labels WHERE job_id = ?`, e.JobID); err != nil {
		return fmt.Errorf("save history entry %s: %w", e.JobID, err)
	}
	if e.Report != nil {
		for label, sum := range e.Report.Summary {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO report_labels (job_id, label, count, max_confidence) VALUES (?, ?, ?, ?)`,
				e.JobID, label, sum.Count, sum.MaxConfidence)
			if err != nil {
				return fmt.Errorf("save history entry %s: %w", e.JobID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save history entry %s: %w", e.JobID, err)
	}
	return nil
}

// Get returns the entry for a job id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source_name, source_path, source_kind, detectors, status, error,
		created_at, finished_at, processing_ms, report_json
		FROM jobs WHERE id = ?`, jobID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load history entry %s: %w", jobID, err)
	}
	return e, nil
}

// List returns entries newest first, filtered by creation time range and
// retained-detection label. Pagination is stable for an unchanged data set
// because ordering includes the unique id.
func (s *Store) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if f.Label != "" {
		where = append(where, "EXISTS (SELECT 1 FROM report_labels rl WHERE rl.job_id = jobs.id AND rl.label = ?)")
		args = append(args, f.Label)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	query := `SELECT id, source_name, source_path, source_kind, detectors, status, error,
		created_at, finished_at, processing_ms, report_json
		FROM jobs WHERE ` + cond + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	return entries, total, nil
}

// Delete removes the entry for a job id. Deleting an unknown id returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete history entry %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history entry %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats computes history-wide statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		BySourceKind:     make(map[string]int),
		DetectionsPerLbl: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(has_weapon), 0), COALESCE(AVG(processing_ms), 0) FROM jobs`).
		Scan(&st.TotalJobs, &st.JobsWithWeapon, &st.AvgProcessingMs)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_kind, COUNT(*) FROM jobs GROUP BY source_kind`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("history stats: %w", err)
		}
		st.BySourceKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}

	lrows, err := s.db.QueryContext(ctx, `SELECT label, SUM(count) FROM report_labels GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer lrows.Close()
	for lrows.Next() {
		var label string
		var n int
		if err := lrows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("history stats: %w", err)
		}
		st.DetectionsPerLbl[label] = n
	}
	if err := lrows.Err(); err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}

	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var detectors string
	var createdMs, finishedMs int64
	var reportJSON sql.NullString

	err := row.Scan(&e.JobID, &e.SourceName, &e.SourcePath, &e.SourceKind, &detectors, &e.Status,
		&e.Error, &createdMs, &finishedMs, &e.ProcessingMs, &reportJSON)
	if err != nil {
		return nil, err
	}

	if detectors != "" {
		e.Detectors = strings.Split(detectors, ",")
	}
	e.CreatedAt = time.UnixMilli(createdMs).UTC()
	if finishedMs > 0 {
		e.FinishedAt = time.UnixMilli(finishedMs).UTC()
	}
	if reportJSON.Valid {
		var r report.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &r); err != nil {
			return nil, fmt.Errorf("decode stored report: %w", err)
		}
		e.Report = &r
	}
	return &e, nil
}
