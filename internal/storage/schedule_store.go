package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/model"
)

var (
	// ErrDuplicateSchedule is returned when inserting a schedule whose id already exists
	ErrDuplicateSchedule = errors.New("schedule id already exists")

	// ErrScheduleNotFound is returned when an update targets a schedule that does not exist
	ErrScheduleNotFound = errors.New("schedule not found")
)

// ScheduleStore defines the persistence interface for schedules and their
// execution history. Schedules are mutable rows; execution records are
// append-only and keyed by an insertion sequence.
type ScheduleStore interface {
	// InsertSchedule persists a new schedule
	InsertSchedule(ctx context.Context, s *model.Schedule) error

	// GetSchedule retrieves a schedule by id, returning nil when absent
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)

	// ListSchedules retrieves all schedules in creation order
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)

	// UpdateSchedule overwrites the mutable columns of an existing schedule
	UpdateSchedule(ctx context.Context, s *model.Schedule) error

	// UpdateStatus sets the status of a schedule
	UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus) error

	// UpdateNextRun sets the next fire time of a schedule
	UpdateNextRun(ctx context.Context, id string, next *time.Time) error

	// RecordOutcome applies a completed execution attempt in one write:
	// run_count+1, last_run_at, and the proposed status. A paused schedule
	// keeps its paused status.
	RecordOutcome(ctx context.Context, id string, lastRun time.Time, proposed model.ScheduleStatus) error

	// DeleteSchedule removes a schedule, reporting whether a row existed.
	// Execution history is retained.
	DeleteSchedule(ctx context.Context, id string) (bool, error)

	// AppendExecution appends a finalized execution record
	AppendExecution(ctx context.Context, r *model.ExecutionRecord) error

	// ListExecutions retrieves up to limit records for a schedule, newest first
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*model.ExecutionRecord, error)

	// PurgeExecutionsBefore deletes execution records started before the given time
	PurgeExecutionsBefore(ctx context.Context, before time.Time) (int64, error)

	// CountByStatus returns the number of schedules per status
	CountByStatus(ctx context.Context) (map[model.ScheduleStatus]int, error)

	// Close closes the underlying database
	Close() error
}

// SQLiteStore implements ScheduleStore using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. An existing
// database is reused as-is so schedules survive restarts.
func NewSQLiteStore(logger *zap.Logger, path string) (*SQLiteStore, error) {
	// The pragmas ride the DSN so each pooled connection applies them; a
	// plain Exec would bind them to a single connection.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			cron_expression TEXT NOT NULL,
			executor_name TEXT NOT NULL,
			executor_input TEXT,
			status TEXT NOT NULL,
			run_count INTEGER NOT NULL DEFAULT 0,
			timeout_ns INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_run_at DATETIME,
			next_run_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_status ON schedules(status);
		CREATE INDEX IF NOT EXISTS idx_schedules_created_at ON schedules(created_at);

		CREATE TABLE IF NOT EXISTS executions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			schedule_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			result TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_executions_schedule_id ON executions(schedule_id);
		CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// InsertSchedule implements ScheduleStore.InsertSchedule
func (s *SQLiteStore) InsertSchedule(ctx context.Context, sched *model.Schedule) error {
	var inputStr string
	if len(sched.ExecutorInput) > 0 {
		inputStr = string(sched.ExecutorInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, name, description, cron_expression, executor_name, executor_input,
			status, run_count, timeout_ns, created_at, last_run_at, next_run_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID,
		sched.Name,
		sched.Description,
		sched.CronExpression,
		sched.ExecutorName,
		sql.NullString{String: inputStr, Valid: inputStr != ""},
		sched.Status,
		sched.RunCount,
		int64(sched.Timeout),
		sched.CreatedAt,
		nullTime(sched.LastRunAt),
		nullTime(sched.NextRunAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", ErrDuplicateSchedule, sched.ID)
		}
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// GetSchedule implements ScheduleStore.GetSchedule
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, cron_expression, executor_name, executor_input,
		       status, run_count, timeout_ns, created_at, last_run_at, next_run_at
		FROM schedules
		WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules implements ScheduleStore.ListSchedules
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, cron_expression, executor_name, executor_input,
		       status, run_count, timeout_ns, created_at, last_run_at, next_run_at
		FROM schedules
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return schedules, nil
}

// UpdateSchedule implements ScheduleStore.UpdateSchedule
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sched *model.Schedule) error {
	var inputStr string
	if len(sched.ExecutorInput) > 0 {
		inputStr = string(sched.ExecutorInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			name = ?,
			description = ?,
			cron_expression = ?,
			executor_name = ?,
			executor_input = ?,
			status = ?,
			timeout_ns = ?,
			next_run_at = ?
		WHERE id = ?`,
		sched.Name,
		sched.Description,
		sched.CronExpression,
		sched.ExecutorName,
		sql.NullString{String: inputStr, Valid: inputStr != ""},
		sched.Status,
		int64(sched.Timeout),
		nullTime(sched.NextRunAt),
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return s.requireRow(result, sched.ID)
}

// UpdateStatus implements ScheduleStore.UpdateStatus
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update schedule status: %w", err)
	}
	return s.requireRow(result, id)
}

// UpdateNextRun implements ScheduleStore.UpdateNextRun
func (s *SQLiteStore) UpdateNextRun(ctx context.Context, id string, next *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE schedules SET next_run_at = ? WHERE id = ?", nullTime(next), id)
	if err != nil {
		return fmt.Errorf("failed to update next run time: %w", err)
	}
	return s.requireRow(result, id)
}

// RecordOutcome implements ScheduleStore.RecordOutcome
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id string, lastRun time.Time, proposed model.ScheduleStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			run_count = run_count + 1,
			last_run_at = ?,
			status = CASE WHEN status = ? THEN status ELSE ? END
		WHERE id = ?`,
		lastRun, model.ScheduleStatusPaused, proposed, id)
	if err != nil {
		return fmt.Errorf("failed to record execution outcome: %w", err)
	}
	return s.requireRow(result, id)
}

// DeleteSchedule implements ScheduleStore.DeleteSchedule
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// AppendExecution implements ScheduleStore.AppendExecution
func (s *SQLiteStore) AppendExecution(ctx context.Context, r *model.ExecutionRecord) error {
	var resultStr string
	if len(r.Result) > 0 {
		resultStr = string(r.Result)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, schedule_id, status, error, result, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.ScheduleID,
		r.Status,
		sql.NullString{String: r.Error, Valid: r.Error != ""},
		sql.NullString{String: resultStr, Valid: resultStr != ""},
		r.StartedAt,
		nullTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}
	return nil
}

// ListExecutions implements ScheduleStore.ListExecutions
func (s *SQLiteStore) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*model.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, status, error, result, started_at, finished_at
		FROM executions
		WHERE schedule_id = ?
		ORDER BY seq DESC
		LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var records []*model.ExecutionRecord
	for rows.Next() {
		record := &model.ExecutionRecord{}
		var errStr, resultStr sql.NullString
		var finishedAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&record.ScheduleID,
			&record.Status,
			&errStr,
			&resultStr,
			&record.StartedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		if errStr.Valid {
			record.Error = errStr.String
		}
		if resultStr.Valid && resultStr.String != "" {
			record.Result = json.RawMessage(resultStr.String)
		}
		if finishedAt.Valid {
			record.FinishedAt = &finishedAt.Time
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// PurgeExecutionsBefore implements ScheduleStore.PurgeExecutionsBefore
func (s *SQLiteStore) PurgeExecutionsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE started_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Purged old execution records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// CountByStatus implements ScheduleStore.CountByStatus
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.ScheduleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM schedules GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ScheduleStatus]int)
	for rows.Next() {
		var status model.ScheduleStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return counts, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// requireRow converts a zero-row update into ErrScheduleNotFound
func (s *SQLiteStore) requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSchedule reads one schedule row
func scanSchedule(row rowScanner) (*model.Schedule, error) {
	sched := &model.Schedule{}
	var description, input sql.NullString
	var timeoutNanos int64
	var lastRunAt, nextRunAt sql.NullTime

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&description,
		&sched.CronExpression,
		&sched.ExecutorName,
		&input,
		&sched.Status,
		&sched.RunCount,
		&timeoutNanos,
		&sched.CreatedAt,
		&lastRunAt,
		&nextRunAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		sched.Description = description.String
	}
	if input.Valid && input.String != "" {
		sched.ExecutorInput = json.RawMessage(input.String)
	}
	sched.Timeout = time.Duration(timeoutNanos)
	if lastRunAt.Valid {
		sched.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		sched.NextRunAt = &nextRunAt.Time
	}

	return sched, nil
}

// nullTime converts an optional time into its sql representation
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
