// Package storage persists runs and their task executions in sqlite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Concurrent training runs share one file.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		inputs TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_task TEXT,
		failed_task TEXT,
		error_kind TEXT,
		error TEXT,
		replay_of INTEGER,
		result_path TEXT
	);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		task_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		used_fallback INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		record TEXT,
		error TEXT,
		sequence_num INTEGER NOT NULL,
		UNIQUE(run_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return 0, err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (run_key, created_at, inputs, status, current_task, replay_of)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Key, run.CreatedAt, string(inputs), run.Status, run.CurrentTask, run.ReplayOf,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const runColumns = `id, run_key, created_at, completed_at, inputs, status, current_task,
	failed_task, error_kind, error, replay_of, result_path`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var inputs string
	var completedAt sql.NullTime
	var currentTask, failedTask, errorKind, errText, resultPath sql.NullString
	var replayOf sql.NullInt64

	err := row.Scan(
		&run.ID, &run.Key, &run.CreatedAt, &completedAt, &inputs, &run.Status, &currentTask,
		&failedTask, &errorKind, &errText, &replayOf, &resultPath,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return nil, fmt.Errorf("run %d inputs: %w", run.ID, err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.CurrentTask = currentTask.String
	run.FailedTask = failedTask.String
	run.ErrorKind = errorKind.String
	run.Error = errText.String
	run.ResultPath = resultPath.String
	if replayOf.Valid {
		id := replayOf.Int64
		run.ReplayOf = &id
	}
	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return run, err
}

// LatestRun returns the most recently created run.
func (s *Storage) LatestRun() (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, current_task = ?, failed_task = ?,
		 error_kind = ?, error = ?, result_path = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.CurrentTask, run.FailedTask,
		run.ErrorKind, run.Error, run.ResultPath, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func encodeRecord(rec *report.Record) (*string, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func (s *Storage) CreateExecution(exec *models.Execution) (int64, error) {
	record, err := encodeRecord(exec.Record)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO executions (run_id, task_id, agent_role, status, attempts, used_fallback, started_at, completed_at, record, error, sequence_num)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.TaskID, exec.AgentRole, exec.Status, exec.Attempts, exec.UsedFallback,
		exec.StartedAt, exec.CompletedAt, record, exec.Error, exec.SequenceNum,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, task_id, agent_role, status, attempts, used_fallback, started_at, completed_at, record, error, sequence_num
		 FROM executions WHERE run_id = ? ORDER BY sequence_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		var exec models.Execution
		var record, errText sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&exec.ID, &exec.RunID, &exec.TaskID, &exec.AgentRole, &exec.Status, &exec.Attempts,
			&exec.UsedFallback, &startedAt, &completedAt, &record, &errText, &exec.SequenceNum,
		)
		if err != nil {
			return nil, err
		}

		if startedAt.Valid {
			exec.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		if record.Valid {
			var rec report.Record
			if err := json.Unmarshal([]byte(record.String), &rec); err != nil {
				return nil, fmt.Errorf("execution %d record: %w", exec.ID, err)
			}
			exec.Record = &rec
		}
		exec.Error = errText.String

		execs = append(execs, &exec)
	}

	return execs, rows.Err()
}

func (s *Storage) UpdateExecution(exec *models.Execution) error {
	record, err := encodeRecord(exec.Record)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE executions SET agent_role = ?, status = ?, attempts = ?, used_fallback = ?, started_at = ?, completed_at = ?, record = ?, error = ?
		 WHERE id = ?`,
		exec.AgentRole, exec.Status, exec.Attempts, exec.UsedFallback, exec.StartedAt, exec.CompletedAt, record, exec.Error, exec.ID,
	)
	return err
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM executions WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return tx.Commit()
}

// Helper to format time for display
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
