package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

const sessionColumns = `id, employee_id, scenario_id, phase, mode, status, questions, answers, max_questions,
	final_score, version, started_at, updated_at, completed_at`

// CreateSession inserts a new in-progress session at version 1. A second
// session for the same (employee, scenario, phase) is a conflict.
func (s *Store) CreateSession(ctx context.Context, sess *model.AssessmentSession) error {
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.UpdatedAt = now
	sess.Version = 1
	if sess.Status == "" {
		sess.Status = model.StatusInProgress
	}

	qs, as, err := encodeProgress(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessment_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.EmployeeID, sess.ScenarioID, sess.Phase, sess.Mode, sess.Status, qs, as, sess.MaxQuestions,
		sess.FinalScore, sess.Version, sess.StartedAt, sess.UpdatedAt, sess.CompletedAt,
	)
	if err != nil {
		return classify("create session", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (model.AssessmentSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM assessment_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.AssessmentSession{}, notFound("session", id)
	}
	if err != nil {
		return model.AssessmentSession{}, persistence("get session", err)
	}
	return sess, nil
}

// FindSession returns the session for an (employee, scenario, phase) triple.
// Returns nil and nil error if there is none.
func (s *Store) FindSession(ctx context.Context, employeeID, scenarioID string, phase model.Phase) (*model.AssessmentSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM assessment_sessions
		 WHERE employee_id = ? AND scenario_id = ? AND phase = ?`,
		employeeID, scenarioID, phase,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("find session", err)
	}
	return &sess, nil
}

// UpdateSession writes sess back if the stored version still equals
// sess.Version, then bumps sess.Version. A stale version is a conflict.
func (s *Store) UpdateSession(ctx context.Context, sess *model.AssessmentSession) error {
	return updateSession(ctx, s.db, sess)
}

// UpdateSession is the transactional form of Store.UpdateSession.
func (t *Tx) UpdateSession(ctx context.Context, sess *model.AssessmentSession) error {
	return updateSession(ctx, t.tx, sess)
}

func updateSession(ctx context.Context, q querier, sess *model.AssessmentSession) error {
	qs, as, err := encodeProgress(sess)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE assessment_sessions
		 SET status = ?, questions = ?, answers = ?, max_questions = ?, final_score = ?,
		     version = version + 1, updated_at = ?, completed_at = ?
		 WHERE id = ? AND version = ?`,
		sess.Status, qs, as, sess.MaxQuestions, sess.FinalScore, now, sess.CompletedAt,
		sess.ID, sess.Version,
	)
	if err != nil {
		return persistence("update session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("update session", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q at version %d: %w", sess.ID, sess.Version, model.ErrConflict)
	}
	sess.Version++
	sess.UpdatedAt = now
	return nil
}

func encodeProgress(sess *model.AssessmentSession) (string, string, error) {
	qs := sess.QuestionsAsked
	if qs == nil {
		qs = []model.Question{}
	}
	as := sess.AnswersGiven
	if as == nil {
		as = []model.Answer{}
	}
	qb, err := json.Marshal(qs)
	if err != nil {
		return "", "", fmt.Errorf("encode questions: %w", err)
	}
	ab, err := json.Marshal(as)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	return string(qb), string(ab), nil
}

func scanSession(r rowScanner) (model.AssessmentSession, error) {
	var (
		sess       model.AssessmentSession
		qs, as     string
		finalScore sql.NullInt64
	)
	err := r.Scan(&sess.ID, &sess.EmployeeID, &sess.ScenarioID, &sess.Phase, &sess.Mode, &sess.Status, &qs, &as,
		&sess.MaxQuestions, &finalScore, &sess.Version, &sess.StartedAt, &sess.UpdatedAt, &sess.CompletedAt)
	if err != nil {
		return sess, err
	}
	if finalScore.Valid {
		v := int(finalScore.Int64)
		sess.FinalScore = &v
	}
	if err := json.Unmarshal([]byte(qs), &sess.QuestionsAsked); err != nil {
		return sess, fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal([]byte(as), &sess.AnswersGiven); err != nil {
		return sess, fmt.Errorf("decode answers: %w", err)
	}
	return sess, nil
}

// SessionCounts tallies sessions for completion-rate reporting. In-progress
// sessions not touched since staleBefore are counted as stale.
func (s *Store) SessionCounts(ctx context.Context, staleBefore time.Time) (model.SessionCounts, error) {
	var c model.SessionCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' AND updated_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' AND updated_at < ? THEN 1 ELSE 0 END), 0)
		 FROM assessment_sessions`,
		staleBefore.UTC(), staleBefore.UTC(),
	).Scan(&c.Completed, &c.InProgress, &c.Stale)
	if err != nil {
		return c, persistence("count sessions", err)
	}
	return c, nil
}
