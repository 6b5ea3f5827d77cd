package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

const employeeColumns = `id, name, department, rating, win_rate, streak, total_points, skills_profile, last_activity_at, created_at`

// CreateEmployee inserts a new employee. A duplicate id is a conflict.
func (s *Store) CreateEmployee(ctx context.Context, e model.Employee) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	profile, err := json.Marshal(nonNilProfile(e.SkillsProfile))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO employees (`+employeeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Department, e.Rating, e.WinRate, e.Streak, e.TotalPoints, string(profile), e.LastActivityAt, e.CreatedAt,
	)
	if err != nil {
		slog.Error("failed to create employee", "id", e.ID, "error", err)
		return classify("create employee", err)
	}
	slog.Info("created employee", "id", e.ID, "department", e.Department)
	return nil
}

// GetEmployee returns an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	return getEmployee(ctx, s.db, id)
}

// GetEmployee reads an employee inside the transaction.
func (t *Tx) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	return getEmployee(ctx, t.tx, id)
}

// ListEmployees returns all employees ordered by rating, highest first.
func (s *Store) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY rating DESC, id`)
	if err != nil {
		return nil, persistence("list employees", err)
	}
	defer rows.Close()
	var employees []model.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, persistence("scan employee", err)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// UpdateEmployee writes the mutable profile fields back.
func (t *Tx) UpdateEmployee(ctx context.Context, e model.Employee) error {
	profile, err := json.Marshal(nonNilProfile(e.SkillsProfile))
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE employees
		 SET rating = ?, win_rate = ?, streak = ?, total_points = ?, skills_profile = ?, last_activity_at = ?
		 WHERE id = ?`,
		e.Rating, e.WinRate, e.Streak, e.TotalPoints, string(profile), e.LastActivityAt, e.ID,
	)
	if err != nil {
		return persistence("update employee", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("employee", e.ID)
	}
	return nil
}

func getEmployee(ctx context.Context, q querier, id string) (model.Employee, error) {
	e, err := scanEmployee(q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Employee{}, notFound("employee", id)
	}
	if err != nil {
		return model.Employee{}, persistence("get employee", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(r rowScanner) (model.Employee, error) {
	var (
		e       model.Employee
		profile string
	)
	if err := r.Scan(&e.ID, &e.Name, &e.Department, &e.Rating, &e.WinRate, &e.Streak, &e.TotalPoints, &profile, &e.LastActivityAt, &e.CreatedAt); err != nil {
		return e, err
	}
	e.SkillsProfile = map[string]float64{}
	if profile != "" {
		if err := json.Unmarshal([]byte(profile), &e.SkillsProfile); err != nil {
			return e, err
		}
	}
	return e, nil
}

func nonNilProfile(p map[string]float64) map[string]float64 {
	if p == nil {
		return map[string]float64{}
	}
	return p
}
