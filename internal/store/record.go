package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

// RecordExists reports whether a record was already written for sessionID.
func (t *Tx) RecordExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessment_records WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, persistence("check record", err)
	}
	return n > 0, nil
}

// LastActivity returns the creation time of the employee's newest record, or
// nil when the employee has none.
func (t *Tx) LastActivity(ctx context.Context, employeeID string) (*time.Time, error) {
	var last time.Time
	err := t.tx.QueryRowContext(ctx,
		`SELECT created_at FROM assessment_records WHERE employee_id = ? ORDER BY created_at DESC LIMIT 1`,
		employeeID,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("last activity", err)
	}
	return &last, nil
}

// InsertRecord appends an assessment record. Records are never updated.
func (t *Tx) InsertRecord(ctx context.Context, r model.AssessmentRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO assessment_records (id, session_id, employee_id, scenario_id, phase, score, difficulty, skill, completed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.EmployeeID, r.ScenarioID, r.Phase, r.Score, r.Difficulty, r.Skill, r.Completed, r.CreatedAt,
	)
	if err != nil {
		return classify("insert record", err)
	}
	return nil
}

// CountOutcomes returns how many completed records of phase an employee has
// and how many of them scored at least passThreshold.
func (t *Tx) CountOutcomes(ctx context.Context, employeeID string, phase model.Phase, passThreshold int) (attempts, passes int, err error) {
	err = t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN score >= ? THEN 1 ELSE 0 END), 0)
		 FROM assessment_records
		 WHERE employee_id = ? AND phase = ? AND completed = 1`,
		passThreshold, employeeID, phase,
	).Scan(&attempts, &passes)
	if err != nil {
		return 0, 0, persistence("count outcomes", err)
	}
	return attempts, passes, nil
}

// ListRecordFacts returns every completed record joined with the employee's
// department and the scenario title, oldest first.
func (s *Store) ListRecordFacts(ctx context.Context) ([]model.RecordFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.session_id, r.employee_id, r.scenario_id, r.phase, r.score, r.difficulty, r.skill,
		        r.completed, r.created_at, COALESCE(e.department, ''), COALESCE(sc.title, '')
		 FROM assessment_records r
		 LEFT JOIN employees e ON e.id = r.employee_id
		 LEFT JOIN scenarios sc ON sc.id = r.scenario_id
		 WHERE r.completed = 1
		 ORDER BY r.created_at, r.id`,
	)
	if err != nil {
		return nil, persistence("list records", err)
	}
	defer rows.Close()
	var facts []model.RecordFact
	for rows.Next() {
		var f model.RecordFact
		r := &f.Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.EmployeeID, &r.ScenarioID, &r.Phase, &r.Score, &r.Difficulty, &r.Skill,
			&r.Completed, &r.CreatedAt, &f.Department, &f.ScenarioTitle); err != nil {
			return nil, persistence("scan record", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ListEmployeeRecords returns an employee's records, newest first.
func (s *Store) ListEmployeeRecords(ctx context.Context, employeeID string) ([]model.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, employee_id, scenario_id, phase, score, difficulty, skill, completed, created_at
		 FROM assessment_records WHERE employee_id = ? ORDER BY created_at DESC, id`, employeeID,
	)
	if err != nil {
		return nil, persistence("list employee records", err)
	}
	defer rows.Close()
	var records []model.AssessmentRecord
	for rows.Next() {
		var r model.AssessmentRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.EmployeeID, &r.ScenarioID, &r.Phase, &r.Score, &r.Difficulty, &r.Skill,
			&r.Completed, &r.CreatedAt); err != nil {
			return nil, persistence("scan record", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
