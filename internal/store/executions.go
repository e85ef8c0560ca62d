package store

import (
	"database/sql"
	"fmt"
)

// ExecutionRow is a persisted execution record. Result and LLMRequest are
// JSON-serialized.
type ExecutionRow struct {
	ID              string
	ProfileID       string
	Script          string
	Status          string
	Result          *string
	Stdout          string
	Stderr          string
	Error           *string
	LLMRequest      *string
	ExecutionTimeMS *int64
	CreatedAt       string
	CompletedAt     *string
}

const executionColumns = "id, profile_id, script, status, result, stdout, stderr, error, llm_request, execution_time_ms, created_at, completed_at"

func scanExecution(row interface{ Scan(...any) error }) (*ExecutionRow, error) {
	var e ExecutionRow
	if err := row.Scan(&e.ID, &e.ProfileID, &e.Script, &e.Status, &e.Result, &e.Stdout,
		&e.Stderr, &e.Error, &e.LLMRequest, &e.ExecutionTimeMS, &e.CreatedAt, &e.CompletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertExecution adds a new pending execution record.
func (s *Store) InsertExecution(e *ExecutionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO executions (id, profile_id, script, status, created_at) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.ProfileID, e.Script, e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// FinishExecution persists a terminal transition.
func (s *Store) FinishExecution(e *ExecutionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE executions SET status = ?, result = ?, stdout = ?, stderr = ?,
		 error = ?, execution_time_ms = ?, completed_at = ? WHERE id = ?`,
		e.Status, e.Result, e.Stdout, e.Stderr, e.Error, e.ExecutionTimeMS, e.CompletedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution by id, or nil if absent.
func (s *Store) GetExecution(id string) (*ExecutionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanExecution(s.db.QueryRow(
		"SELECT "+executionColumns+" FROM executions WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	ProfileID string
	Status    string
	Limit     int
	Offset    int
}

// ListExecutions returns persisted executions, newest first.
func (s *Store) ListExecutions(f ExecutionFilter) ([]*ExecutionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + executionColumns + " FROM executions"
	var conds []string
	var params []any

	if f.ProfileID != "" {
		conds = append(conds, "profile_id = ?")
		params = append(params, f.ProfileID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		params = append(params, f.Status)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	params = append(params, f.Limit, f.Offset)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRow
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkStaleExecutions moves every non-terminal record to error state.
// Called once at startup; in-flight state does not survive restarts.
func (s *Store) MarkStaleExecutions(message, now string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE executions SET status = 'error', error = ?, completed_at = ?
		 WHERE status IN ('pending', 'running', 'awaiting_llm')`,
		message, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale executions: %w", err)
	}
	return res.RowsAffected()
}

// CountExecutionsByStatus returns execution counts grouped by status.
func (s *Store) CountExecutionsByStatus() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
