// Package session runs assessment sessions: it builds the question queue,
// scores each answer, adapts difficulty and finalizes the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/evaluator"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/lock"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/profile"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/retry"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

// Scorer scores one answer.
type Scorer interface {
	ScoreAnswer(ctx context.Context, scenario model.Scenario, question model.Question, answer string) (evaluator.Result, error)
}

// QuestionSource produces questions for a scenario at a difficulty.
type QuestionSource interface {
	Generate(ctx context.Context, scenario model.Scenario, difficulty model.Difficulty, count int) ([]model.Question, error)
}

// SettledRun is how many consecutive answers pinned at the same end of the
// difficulty scale end an adaptive session early.
const SettledRun = 2

// MaxFamiliarity is the top of the self-reported familiarity scale.
const MaxFamiliarity = 5

// StartRequest opens or resumes a session.
type StartRequest struct {
	EmployeeID string
	ScenarioID string
	Phase      model.Phase
	// Mode defaults to adaptive for pre sessions and personalized for post.
	Mode model.SessionMode
	// Familiarity (0-5) picks the first adaptive question's difficulty.
	// Nil starts at the scenario's own difficulty.
	Familiarity *int
}

// QuestionView is a question as shown to the employee.
type QuestionView struct {
	Text       string             `json:"text"`
	Type       model.ScenarioType `json:"type"`
	Difficulty model.Difficulty   `json:"difficulty"`
	Options    []string           `json:"options,omitempty"`
}

// View is the state of a session returned to callers.
type View struct {
	SessionID      string              `json:"session_id"`
	EmployeeID     string              `json:"employee_id"`
	ScenarioID     string              `json:"scenario_id"`
	Phase          model.Phase         `json:"phase"`
	Mode           model.SessionMode   `json:"mode"`
	Status         model.SessionStatus `json:"status"`
	Question       *QuestionView       `json:"question,omitempty"`
	QuestionNumber int                 `json:"question_number,omitempty"`
	TotalQuestions int                 `json:"total_questions"`
	Answered       int                 `json:"answered"`
	LastScore      *int                `json:"last_score,omitempty"`
	LastFeedback   string              `json:"last_feedback,omitempty"`
	FinalScore     *int                `json:"final_score,omitempty"`
	Answers        []model.Answer      `json:"answers,omitempty"`
	Resumed        bool                `json:"resumed,omitempty"`
}

// Engine drives sessions. It holds no per-session state in memory; every
// call re-reads the session from the store.
type Engine struct {
	store     *store.Store
	scorer    Scorer
	questions QuestionSource
	profiles  *profile.Updater
	locker    lock.Locker
	cfg       model.EngineConfig
	metrics   *metrics.Manager
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMetrics records session lifecycle metrics.
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. questions may be nil when every scenario carries a
// large enough question bank.
func New(st *store.Store, scorer Scorer, questions QuestionSource, profiles *profile.Updater, cfg model.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		scorer:    scorer,
		questions: questions,
		profiles:  profiles,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = lock.NewMemory()
	}
	return e
}

// NextDifficulty steps difficulty up when score >= high, down when
// score <= low, and leaves it unchanged otherwise. The result is clamped to
// the ends of the difficulty order.
func NextDifficulty(current model.Difficulty, score, high, low int) model.Difficulty {
	switch {
	case score >= high:
		return current.Step(1)
	case score <= low:
		return current.Step(-1)
	default:
		return current
	}
}

// FamiliarityDifficulty maps a 0-5 self-assessment to a starting difficulty.
func FamiliarityDifficulty(familiarity int) model.Difficulty {
	switch {
	case familiarity <= 1:
		return model.DifficultyEasy
	case familiarity <= 3:
		return model.DifficultyNormal
	default:
		return model.DifficultyHard
	}
}

// Start returns the existing session for (employee, scenario, phase) if there
// is one, otherwise creates it with a fresh question queue.
func (e *Engine) Start(ctx context.Context, req StartRequest) (View, error) {
	if err := e.normalize(&req); err != nil {
		return View{}, err
	}

	release, err := e.locker.Acquire(ctx, "start:"+req.EmployeeID+":"+req.ScenarioID+":"+string(req.Phase))
	if err != nil {
		return View{}, err
	}
	defer release()

	existing, err := e.store.FindSession(ctx, req.EmployeeID, req.ScenarioID, req.Phase)
	if err != nil {
		return View{}, err
	}
	if existing != nil {
		slog.Info("resuming session", "session_id", existing.ID, "status", existing.Status, "answered", len(existing.AnswersGiven))
		v := newView(existing, nil)
		v.Resumed = true
		return v, nil
	}

	if _, err := e.store.GetEmployee(ctx, req.EmployeeID); err != nil {
		return View{}, err
	}
	scenario, err := e.store.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		return View{}, err
	}

	sess := &model.AssessmentSession{
		ID:         uuid.NewString(),
		EmployeeID: req.EmployeeID,
		ScenarioID: req.ScenarioID,
		Phase:      req.Phase,
		Mode:       req.Mode,
		Status:     model.StatusInProgress,
		StartedAt:  e.now().UTC(),
	}

	switch req.Mode {
	case model.ModeAdaptive:
		start := scenario.Difficulty
		if req.Familiarity != nil {
			start = FamiliarityDifficulty(*req.Familiarity)
		}
		q, err := e.nextQuestion(ctx, scenario, start, nil)
		if err != nil {
			return View{}, err
		}
		sess.QuestionsAsked = []model.Question{q}
		sess.MaxQuestions = e.adaptiveMax()
	default:
		qs, err := e.personalizedQueue(ctx, scenario)
		if err != nil {
			return View{}, err
		}
		sess.QuestionsAsked = qs
		sess.MaxQuestions = len(qs)
	}

	if err := e.store.CreateSession(ctx, sess); err != nil {
		if !errors.Is(err, model.ErrConflict) {
			return View{}, err
		}
		// Another instance created it first.
		existing, ferr := e.store.FindSession(ctx, req.EmployeeID, req.ScenarioID, req.Phase)
		if ferr != nil || existing == nil {
			return View{}, err
		}
		v := newView(existing, nil)
		v.Resumed = true
		return v, nil
	}

	e.metrics.SessionStarted(string(sess.Phase), string(sess.Mode))
	slog.Info("session started",
		"session_id", sess.ID,
		"employee_id", sess.EmployeeID,
		"scenario_id", sess.ScenarioID,
		"phase", sess.Phase,
		"mode", sess.Mode,
		"questions", len(sess.QuestionsAsked),
	)
	return newView(sess, nil), nil
}

// SubmitAnswer scores the answer to the current question. When the session
// is already completed it returns the stored result without side effects.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (View, error) {
	if strings.TrimSpace(sessionID) == "" {
		return View{}, fmt.Errorf("%w: session id is required", model.ErrValidation)
	}

	release, err := e.locker.Acquire(ctx, "session:"+sessionID)
	if err != nil {
		return View{}, err
	}
	defer release()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	if sess.Completed() {
		return newView(&sess, nil), nil
	}
	if strings.TrimSpace(answer) == "" {
		return View{}, fmt.Errorf("%w: answer is required", model.ErrValidation)
	}

	scenario, err := e.store.GetScenario(ctx, sess.ScenarioID)
	if err != nil {
		return View{}, err
	}

	q := sess.CurrentQuestion()
	if q == nil {
		// Every asked question is answered but completion never committed.
		return e.complete(ctx, &sess, scenario, nil)
	}

	var res evaluator.Result
	err = e.evalPolicy().Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.scorer.ScoreAnswer(ctx, scenario, *q, answer)
		if err != nil && !errors.Is(err, model.ErrEvaluationFailure) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		slog.Warn("scoring failed, answer not recorded", "session_id", sess.ID, "question", sess.NextIndex(), "error", err)
		return View{}, err
	}

	scored := model.Answer{Question: q.Text, Answer: answer, Score: res.Score, Feedback: res.Feedback}
	next := sess
	next.QuestionsAsked = append([]model.Question(nil), sess.QuestionsAsked...)
	next.AnswersGiven = append(append([]model.Answer(nil), sess.AnswersGiven...), scored)

	if !e.isLast(&next) {
		if next.Mode == model.ModeAdaptive {
			d := NextDifficulty(q.Difficulty, res.Score, e.stepUp(), e.stepDown())
			nq, err := e.nextQuestion(ctx, scenario, d, next.QuestionsAsked)
			if err != nil {
				return View{}, err
			}
			next.QuestionsAsked = append(next.QuestionsAsked, nq)
		}
		if err := e.store.UpdateSession(ctx, &next); err != nil {
			return View{}, err
		}
		slog.Debug("answer recorded", "session_id", next.ID, "answered", len(next.AnswersGiven), "score", res.Score)
		return newView(&next, &scored), nil
	}

	return e.complete(ctx, &next, scenario, &scored)
}

// Status returns the current view of a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (View, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return newView(&sess, nil), nil
}

// complete finalizes sess and applies it to the employee's profile in a
// single transaction.
func (e *Engine) complete(ctx context.Context, sess *model.AssessmentSession, scenario model.Scenario, last *model.Answer) (View, error) {
	final := meanScore(sess.AnswersGiven)
	now := e.now().UTC()
	sess.Status = model.StatusCompleted
	sess.FinalScore = &final
	sess.CompletedAt = &now

	skill := scenario.Skill
	if skill == "" {
		skill = scenario.Title
	}
	c := profile.Completion{
		SessionID:  sess.ID,
		EmployeeID: sess.EmployeeID,
		ScenarioID: sess.ScenarioID,
		Phase:      sess.Phase,
		FinalScore: final,
		Skill:      skill,
		Difficulty: scenario.Difficulty,
	}

	var applied profile.Result
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		var err error
		applied, err = e.profiles.Apply(ctx, tx, c)
		return err
	})
	if err != nil {
		return View{}, err
	}

	e.profiles.Observe(c, applied)
	e.metrics.SessionCompleted(string(sess.Phase))
	slog.Info("session completed", "session_id", sess.ID, "final_score", final, "answers", len(sess.AnswersGiven))
	return newView(sess, last), nil
}

func (e *Engine) isLast(sess *model.AssessmentSession) bool {
	answered := len(sess.AnswersGiven)
	if sess.Mode == model.ModeAdaptive {
		return answered >= sess.MaxQuestions || e.settled(sess)
	}
	return answered >= len(sess.QuestionsAsked)
}

// settled reports whether the last SettledRun answers all pushed against the
// same end of the difficulty scale: at or above step-up on Hard, or at or
// below step-down on Easy. Further questions could not move the level.
func (e *Engine) settled(sess *model.AssessmentSession) bool {
	answered := len(sess.AnswersGiven)
	if answered < SettledRun {
		return false
	}
	side := 0
	for i := answered - SettledRun; i < answered; i++ {
		s := e.pressure(sess.QuestionsAsked[i].Difficulty, sess.AnswersGiven[i].Score)
		if s == 0 || (side != 0 && s != side) {
			return false
		}
		side = s
	}
	return true
}

// pressure is +1 when score would step up from the top level, -1 when it
// would step down from the bottom level, and 0 otherwise.
func (e *Engine) pressure(d model.Difficulty, score int) int {
	switch {
	case d == model.DifficultyHard && score >= e.stepUp():
		return 1
	case d == model.DifficultyEasy && score <= e.stepDown():
		return -1
	}
	return 0
}

// personalizedQueue takes questions from the scenario's bank and asks the
// generator for any shortfall.
func (e *Engine) personalizedQueue(ctx context.Context, scenario model.Scenario) ([]model.Question, error) {
	n := e.cfg.PersonalizedLength
	if n <= 0 {
		n = model.DefaultEngineConfig().PersonalizedLength
	}

	queue := make([]model.Question, 0, n)
	for _, q := range scenario.Questions {
		if len(queue) == n {
			break
		}
		queue = append(queue, withDefaults(q, scenario, scenario.Difficulty))
	}
	if missing := n - len(queue); missing > 0 {
		if e.questions == nil {
			if len(queue) == 0 {
				return nil, fmt.Errorf("%w: scenario %q has no questions", model.ErrValidation, scenario.ID)
			}
			return queue, nil
		}
		generated, err := e.questions.Generate(ctx, scenario, scenario.Difficulty, missing)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrEvaluationFailure, err)
		}
		if len(generated) < missing {
			return nil, fmt.Errorf("%w: generator returned %d of %d questions", model.ErrEvaluationFailure, len(generated), missing)
		}
		generated = generated[:missing]
		for _, q := range generated {
			queue = append(queue, withDefaults(q, scenario, scenario.Difficulty))
		}
	}
	return queue, nil
}

// nextQuestion picks an unasked bank question at difficulty, or generates one.
func (e *Engine) nextQuestion(ctx context.Context, scenario model.Scenario, difficulty model.Difficulty, asked []model.Question) (model.Question, error) {
	seen := make(map[string]bool, len(asked))
	for _, q := range asked {
		seen[q.Text] = true
	}
	for _, q := range scenario.Questions {
		q = withDefaults(q, scenario, scenario.Difficulty)
		if q.Difficulty == difficulty && !seen[q.Text] {
			return q, nil
		}
	}
	if e.questions == nil {
		return model.Question{}, fmt.Errorf("%w: scenario %q has no unasked %s question", model.ErrValidation, scenario.ID, difficulty)
	}
	qs, err := e.questions.Generate(ctx, scenario, difficulty, 1)
	if err != nil {
		return model.Question{}, fmt.Errorf("%w: %w", model.ErrEvaluationFailure, err)
	}
	if len(qs) == 0 {
		return model.Question{}, fmt.Errorf("%w: generator returned no %s question", model.ErrEvaluationFailure, difficulty)
	}
	return withDefaults(qs[0], scenario, difficulty), nil
}

func withDefaults(q model.Question, scenario model.Scenario, difficulty model.Difficulty) model.Question {
	if q.Type == "" {
		q.Type = scenario.Type
	}
	if q.Type == "" {
		q.Type = model.ScenarioText
	}
	if q.Difficulty == "" {
		q.Difficulty = difficulty
	}
	return q
}

func (e *Engine) normalize(req *StartRequest) error {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.ScenarioID = strings.TrimSpace(req.ScenarioID)
	if req.EmployeeID == "" || req.ScenarioID == "" {
		return fmt.Errorf("%w: employee id and scenario id are required", model.ErrValidation)
	}
	switch req.Phase {
	case "":
		req.Phase = model.PhasePost
	case model.PhasePre, model.PhasePost:
	default:
		return fmt.Errorf("%w: unknown phase %q", model.ErrValidation, req.Phase)
	}
	switch req.Mode {
	case "":
		req.Mode = model.ModePersonalized
		if req.Phase == model.PhasePre {
			req.Mode = model.ModeAdaptive
		}
	case model.ModePersonalized, model.ModeAdaptive:
	default:
		return fmt.Errorf("%w: unknown mode %q", model.ErrValidation, req.Mode)
	}
	if f := req.Familiarity; f != nil && (*f < 0 || *f > MaxFamiliarity) {
		return fmt.Errorf("%w: familiarity must be between 0 and %d", model.ErrValidation, MaxFamiliarity)
	}
	return nil
}

func (e *Engine) evalPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: e.cfg.EvalAttempts, Delay: e.cfg.EvalRetryDelay}
}

func (e *Engine) adaptiveMax() int {
	if e.cfg.AdaptiveMaxQuestion > 0 {
		return e.cfg.AdaptiveMaxQuestion
	}
	return model.DefaultEngineConfig().AdaptiveMaxQuestion
}

func (e *Engine) stepUp() int {
	if e.cfg.StepUpThreshold > 0 {
		return e.cfg.StepUpThreshold
	}
	return model.DefaultEngineConfig().StepUpThreshold
}

func (e *Engine) stepDown() int {
	if e.cfg.StepDownThreshold > 0 {
		return e.cfg.StepDownThreshold
	}
	return model.DefaultEngineConfig().StepDownThreshold
}

func meanScore(answers []model.Answer) int {
	if len(answers) == 0 {
		return 0
	}
	sum := 0
	for _, a := range answers {
		sum += a.Score
	}
	return int(math.Round(float64(sum) / float64(len(answers))))
}

func newView(sess *model.AssessmentSession, last *model.Answer) View {
	v := View{
		SessionID:  sess.ID,
		EmployeeID: sess.EmployeeID,
		ScenarioID: sess.ScenarioID,
		Phase:      sess.Phase,
		Mode:       sess.Mode,
		Status:     sess.Status,
		Answered:   len(sess.AnswersGiven),
		FinalScore: sess.FinalScore,
	}
	v.TotalQuestions = len(sess.QuestionsAsked)
	if sess.Mode == model.ModeAdaptive {
		v.TotalQuestions = sess.MaxQuestions
	}
	if last != nil {
		score := last.Score
		v.LastScore = &score
		v.LastFeedback = last.Feedback
	}
	if q := sess.CurrentQuestion(); q != nil {
		v.Question = &QuestionView{Text: q.Text, Type: q.Type, Difficulty: q.Difficulty, Options: q.Options}
		v.QuestionNumber = sess.NextIndex() + 1
	}
	if sess.Completed() {
		v.Answers = sess.AnswersGiven
	}
	return v
}
