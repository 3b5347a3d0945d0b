package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates the database at dbPath. The parent
// directory is created if needed.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys and WAL mode for better concurrent read behavior.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// NewInMemoryStorage creates an in-memory SQLite storage (for testing).
func NewInMemoryStorage() (*SQLiteStorage, error) {
	return NewSQLiteStorage(":memory:")
}

func (s *SQLiteStorage) migrate() error {
	if _, err := s.db.Exec(initialMigration); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

const initialMigration = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    story_key TEXT NOT NULL,
    summary TEXT,
    project_id INTEGER NOT NULL,
    branch TEXT,
    mr_iid INTEGER DEFAULT 0,
    mr_url TEXT,
    state TEXT NOT NULL,
    score REAL DEFAULT 0,
    error TEXT,
    started_at TEXT,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_dimensions (
    run_id TEXT NOT NULL,
    dimension TEXT NOT NULL,
    fraction REAL NOT NULL,
    PRIMARY KEY (run_id, dimension),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_story_key ON runs(story_key);
CREATE INDEX IF NOT EXISTS idx_runs_project_id ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_recorded_at ON runs(recorded_at DESC);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run record and its dimension fractions.
func (s *SQLiteStorage) SaveRun(ctx context.Context, rec *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	// Stored explicitly in RFC3339 so scanRun can parse it back; the
	// schema default datetime('now') uses a different layout.
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, story_key, summary, project_id, branch, mr_iid, mr_url, state, score, error, started_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.StoryKey,
		nullableString(rec.Summary),
		rec.ProjectID,
		nullableString(rec.Branch),
		rec.MergeReqIID,
		nullableString(rec.MergeReqURL),
		rec.State,
		rec.Score,
		nullableString(rec.Error),
		nullableTime(rec.StartedAt),
		rec.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for dimension, fraction := range rec.Dimensions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_dimensions (run_id, dimension, fraction)
			VALUES (?, ?, ?)
		`, rec.ID, dimension, fraction)
		if err != nil {
			return fmt.Errorf("failed to insert dimension: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordOutcome converts a batch outcome into a run record and stores it.
// It satisfies the batch runner's recorder contract.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, outcome domain.Outcome) error {
	rec := &RunRecord{
		StoryKey: outcome.StoryKey,
		Score:    outcome.Score,
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	if run := outcome.Run; run != nil {
		rec.Summary = run.Story.Summary
		rec.ProjectID = run.ProjectID
		rec.Branch = run.Branch
		rec.MergeReqIID = run.MergeReqIID
		rec.MergeReqURL = run.MergeReqURL
		rec.State = string(run.State)
		rec.StartedAt = run.StartedAt
		rec.Dimensions = make(map[string]float64, len(run.Progress))
		for dimension, record := range run.Progress {
			rec.Dimensions[string(dimension)] = record.Fraction
		}
	} else {
		rec.State = string(domain.StateFetched)
	}
	return s.SaveRun(ctx, rec)
}

// GetRun retrieves a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, story_key, summary, project_id, branch, mr_iid, mr_url, state, score, error, started_at, recorded_at
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRun(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, err
	}

	if err := s.loadDimensions(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRuns retrieves runs matching the filter, most recent first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, error) {
	query := `
		SELECT id, story_key, summary, project_id, branch, mr_iid, mr_url, state, score, error, started_at, recorded_at
		FROM runs
	`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY recorded_at DESC"

	limit := 100
	offset := 0
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		offset = filter.Offset
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := s.loadDimensions(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// CountRuns returns the count of runs matching the filter.
func (s *SQLiteStorage) CountRuns(ctx context.Context, filter *RunFilter) (int, error) {
	query := `SELECT COUNT(*) FROM runs`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// DeleteRun deletes a run and its dimension rows.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

// GetRunsByStory returns all stored runs for a story key.
func (s *SQLiteStorage) GetRunsByStory(ctx context.Context, storyKey string) ([]*RunRecord, error) {
	return s.ListRuns(ctx, &RunFilter{StoryKey: storyKey, Limit: 100})
}

// GetRecentRuns returns the most recent runs.
func (s *SQLiteStorage) GetRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	return s.ListRuns(ctx, &RunFilter{Limit: limit})
}

// GetStats returns aggregate statistics over stored runs.
func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		RunsByDay:     make(map[string]int),
		RunsByProject: make(map[int]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN error IS NULL THEN 1 ELSE 0 END), 0) as ok,
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(AVG(score), 0) as avg_score
		FROM runs
	`).Scan(&stats.TotalRuns, &stats.OKCount, &stats.FailedCount, &stats.AvgScore)
	if err != nil {
		return nil, fmt.Errorf("failed to get overall stats: %w", err)
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.OKCount) / float64(stats.TotalRuns) * 100
	}

	dayRows, err := s.db.QueryContext(ctx, `
		SELECT date(recorded_at) as day, COUNT(*) as count
		FROM runs
		WHERE recorded_at >= strftime('%Y-%m-%dT%H:%M:%SZ', 'now', '-30 days')
		GROUP BY day
		ORDER BY day DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs by day: %w", err)
	}
	defer dayRows.Close()

	for dayRows.Next() {
		var day string
		var count int
		if err := dayRows.Scan(&day, &count); err != nil {
			return nil, err
		}
		stats.RunsByDay[day] = count
	}
	if err := dayRows.Err(); err != nil {
		return nil, err
	}

	projRows, err := s.db.QueryContext(ctx, `
		SELECT project_id, COUNT(*) as count
		FROM runs
		GROUP BY project_id
		ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs by project: %w", err)
	}
	defer projRows.Close()

	for projRows.Next() {
		var projectID, count int
		if err := projRows.Scan(&projectID, &count); err != nil {
			return nil, err
		}
		stats.RunsByProject[projectID] = count
	}

	return stats, projRows.Err()
}

// Helper functions

func (s *SQLiteStorage) loadDimensions(ctx context.Context, rec *RunRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dimension, fraction FROM run_dimensions WHERE run_id = ?
	`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	rec.Dimensions = make(map[string]float64)
	for rows.Next() {
		var dimension string
		var fraction float64
		if err := rows.Scan(&dimension, &fraction); err != nil {
			return err
		}
		rec.Dimensions[dimension] = fraction
	}
	return rows.Err()
}

func scanRun(scan func(dest ...any) error) (*RunRecord, error) {
	var rec RunRecord
	var summary, branch, mrURL, errStr, startedAt, recordedAt sql.NullString

	err := scan(
		&rec.ID,
		&rec.StoryKey,
		&summary,
		&rec.ProjectID,
		&branch,
		&rec.MergeReqIID,
		&mrURL,
		&rec.State,
		&rec.Score,
		&errStr,
		&startedAt,
		&recordedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Summary = summary.String
	rec.Branch = branch.String
	rec.MergeReqURL = mrURL.String
	rec.Error = errStr.String
	if startedAt.Valid {
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt.String)
	}
	if recordedAt.Valid {
		rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt.String)
	}

	return &rec, nil
}

// escapeLikeWildcards escapes SQL LIKE wildcards in user input.
func escapeLikeWildcards(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func buildWhereClause(filter *RunFilter) (string, []any) {
	if filter == nil {
		return "", nil
	}

	var conditions []string
	var args []any

	if filter.StoryKey != "" {
		conditions = append(conditions, "story_key LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLikeWildcards(filter.StoryKey)+"%")
	}
	if filter.ProjectID != 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.OnlyOK {
		conditions = append(conditions, "error IS NULL")
	}

	return strings.Join(conditions, " AND "), args
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
