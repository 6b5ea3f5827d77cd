// Package profile applies a completed assessment to the employee's profile:
// rating, win rate, streak, skill proficiency and points.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/rating"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

// TxRunner opens store transactions.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *store.Tx) error) error
}

// Completion describes a session that just reached its final score.
type Completion struct {
	SessionID  string
	EmployeeID string
	ScenarioID string
	Phase      model.Phase
	FinalScore int
	Skill      string
	Difficulty model.Difficulty
}

// Result reports what OnSessionCompleted did.
type Result struct {
	Employee    model.Employee
	RatingDelta int
	// Duplicate is true when the session had already been applied.
	Duplicate bool
}

// Updater is the only writer of employee profile fields after registration.
type Updater struct {
	db      TxRunner
	cfg     model.EngineConfig
	metrics *metrics.Manager
	now     func() time.Time
}

// Option configures an Updater.
type Option func(*Updater)

// WithMetrics records rating deltas.
func WithMetrics(m *metrics.Manager) Option {
	return func(u *Updater) { u.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// New creates an Updater.
func New(db TxRunner, cfg model.EngineConfig, opts ...Option) *Updater {
	u := &Updater{db: db, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// OnSessionCompleted applies c in its own transaction.
func (u *Updater) OnSessionCompleted(ctx context.Context, c Completion) (Result, error) {
	var res Result
	err := u.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		res, err = u.Apply(ctx, tx, c)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	u.Observe(c, res)
	return res, nil
}

// Apply performs the update inside an existing transaction. Callers that use
// Apply directly must call Observe after the transaction commits.
//
// A session is applied at most once: the record insert is keyed by session id
// and a second call reports Duplicate without touching the employee.
func (u *Updater) Apply(ctx context.Context, tx *store.Tx, c Completion) (Result, error) {
	exists, err := tx.RecordExists(ctx, c.SessionID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		emp, err := tx.GetEmployee(ctx, c.EmployeeID)
		if err != nil {
			return Result{}, err
		}
		return Result{Employee: emp, Duplicate: true}, nil
	}

	emp, err := tx.GetEmployee(ctx, c.EmployeeID)
	if err != nil {
		return Result{}, err
	}
	// Read before the insert so the streak sees the previous activity, not this one.
	prior, err := tx.LastActivity(ctx, c.EmployeeID)
	if err != nil {
		return Result{}, err
	}

	err = tx.InsertRecord(ctx, model.AssessmentRecord{
		ID:         uuid.NewString(),
		SessionID:  c.SessionID,
		EmployeeID: c.EmployeeID,
		ScenarioID: c.ScenarioID,
		Phase:      c.Phase,
		Score:      c.FinalScore,
		Difficulty: c.Difficulty,
		Skill:      c.Skill,
		Completed:  true,
		CreatedAt:  u.now().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert record: %w", err)
	}

	before := emp.Rating
	if c.Phase == model.PhasePost {
		attempts, passes, err := tx.CountOutcomes(ctx, c.EmployeeID, model.PhasePost, u.passThreshold())
		if err != nil {
			return Result{}, err
		}
		emp.WinRate = rating.WinRate(attempts, passes)
		emp.Rating = rating.UpdateRating(
			emp.Rating,
			rating.OpponentRating(c.Difficulty),
			rating.Outcome(c.FinalScore, u.passThreshold()),
			u.kFactor(),
		)
		emp.TotalPoints += c.FinalScore
		if c.Skill != "" {
			if emp.SkillsProfile == nil {
				emp.SkillsProfile = map[string]float64{}
			}
			observed := float64(c.FinalScore)
			if prev, ok := emp.SkillsProfile[c.Skill]; ok {
				emp.SkillsProfile[c.Skill] = rating.UpdateSkillProficiency(prev, observed, u.smoothing())
			} else {
				emp.SkillsProfile[c.Skill] = observed
			}
		}
	}

	now := u.now().In(u.location())
	emp.Streak = rating.UpdateStreak(prior, now, emp.Streak)
	nowUTC := now.UTC()
	emp.LastActivityAt = &nowUTC

	if err := tx.UpdateEmployee(ctx, emp); err != nil {
		return Result{}, err
	}
	return Result{Employee: emp, RatingDelta: emp.Rating - before}, nil
}

// Observe logs and records metrics for a committed result.
func (u *Updater) Observe(c Completion, res Result) {
	if res.Duplicate {
		slog.Debug("session already applied", "session_id", c.SessionID)
		return
	}
	if c.Phase == model.PhasePost {
		u.metrics.RatingChanged(res.RatingDelta)
	}
	slog.Info("profile updated",
		"employee_id", c.EmployeeID,
		"session_id", c.SessionID,
		"phase", c.Phase,
		"score", c.FinalScore,
		"rating", res.Employee.Rating,
		"delta", res.RatingDelta,
		"streak", res.Employee.Streak,
	)
}

func (u *Updater) passThreshold() int {
	if u.cfg.PassThreshold > 0 {
		return u.cfg.PassThreshold
	}
	return rating.DefaultPassThreshold
}

func (u *Updater) kFactor() float64 {
	if u.cfg.KFactor > 0 {
		return u.cfg.KFactor
	}
	return rating.DefaultKFactor
}

func (u *Updater) smoothing() float64 {
	if u.cfg.SkillSmoothing > 0 {
		return u.cfg.SkillSmoothing
	}
	return rating.DefaultSmoothing
}

func (u *Updater) location() *time.Location {
	if u.cfg.Location != nil {
		return u.cfg.Location
	}
	return time.UTC
}
