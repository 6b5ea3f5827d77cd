package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

const scenarioColumns = `id, title, description, skill, difficulty, rubric, type, questions, created_at`

// CreateScenario publishes a scenario. Scenarios are immutable afterwards,
// so a duplicate id is a conflict rather than an update.
func (s *Store) CreateScenario(ctx context.Context, sc model.Scenario) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	if sc.Type == "" {
		sc.Type = model.ScenarioText
	}
	qs := sc.Questions
	if qs == nil {
		qs = []model.Question{}
	}
	bank, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scenarios (`+scenarioColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Title, sc.Description, sc.Skill, sc.Difficulty, sc.Rubric, sc.Type, string(bank), sc.CreatedAt,
	)
	if err != nil {
		return classify("create scenario", err)
	}
	return nil
}

// GetScenario returns a scenario by ID, including its question bank.
func (s *Store) GetScenario(ctx context.Context, id string) (model.Scenario, error) {
	sc, err := scanScenario(s.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Scenario{}, notFound("scenario", id)
	}
	if err != nil {
		return model.Scenario{}, persistence("get scenario", err)
	}
	return sc, nil
}

// ListScenarios returns all scenarios ordered by ID.
func (s *Store) ListScenarios(ctx context.Context) ([]model.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, persistence("list scenarios", err)
	}
	defer rows.Close()
	var scenarios []model.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, persistence("scan scenario", err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

func scanScenario(r rowScanner) (model.Scenario, error) {
	var (
		sc   model.Scenario
		bank string
	)
	if err := r.Scan(&sc.ID, &sc.Title, &sc.Description, &sc.Skill, &sc.Difficulty, &sc.Rubric, &sc.Type, &bank, &sc.CreatedAt); err != nil {
		return sc, err
	}
	if bank != "" {
		if err := json.Unmarshal([]byte(bank), &sc.Questions); err != nil {
			return sc, err
		}
	}
	return sc, nil
}
