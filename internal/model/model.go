package model

import (
	"strings"
	"time"
)

// Difficulty represents scenario or question difficulty. Levels are ordered.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyNormal Difficulty = "Normal"
	DifficultyHard   Difficulty = "Hard"
)

var difficultyOrder = []Difficulty{DifficultyEasy, DifficultyNormal, DifficultyHard}

// ParseDifficulty normalizes a difficulty label. "medium" is accepted as an alias of Normal.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy, true
	case "normal", "medium":
		return DifficultyNormal, true
	case "hard":
		return DifficultyHard, true
	}
	return "", false
}

// Level returns the zero-based position of d in the difficulty order, or -1 if unknown.
func (d Difficulty) Level() int {
	for i, v := range difficultyOrder {
		if v == d {
			return i
		}
	}
	return -1
}

// Step moves d by delta levels, clamped to the ends of the order.
func (d Difficulty) Step(delta int) Difficulty {
	lvl := d.Level()
	if lvl < 0 {
		return d
	}
	lvl += delta
	if lvl < 0 {
		lvl = 0
	}
	if lvl >= len(difficultyOrder) {
		lvl = len(difficultyOrder) - 1
	}
	return difficultyOrder[lvl]
}

// ScenarioType tells how answers to a scenario are scored.
type ScenarioType string

const (
	ScenarioText           ScenarioType = "text"
	ScenarioMultipleChoice ScenarioType = "multiple_choice"
)

// Phase distinguishes baseline (pre) from outcome (post) assessments.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// SessionStatus represents the status of an assessment session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// SessionMode selects how a session builds its question queue.
type SessionMode string

const (
	// ModePersonalized asks a fixed-length queue prepared at start.
	ModePersonalized SessionMode = "personalized"
	// ModeAdaptive generates one question at a time, stepping difficulty after each answer.
	ModeAdaptive SessionMode = "adaptive"
)

// Employee is a rated participant.
type Employee struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Department     string             `json:"department"`
	Rating         int                `json:"rating"`
	WinRate        float64            `json:"win_rate"`
	Streak         int                `json:"streak"`
	TotalPoints    int                `json:"total_points"`
	SkillsProfile  map[string]float64 `json:"skills_profile"`
	LastActivityAt *time.Time         `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Question is a single item asked during a session.
type Question struct {
	Text       string       `json:"text"`
	Type       ScenarioType `json:"type"`
	Difficulty Difficulty   `json:"difficulty"`
	Options    []string     `json:"options,omitempty"`
	// Answer is the canonical answer for multiple-choice items. Never sent to clients.
	Answer string `json:"answer,omitempty"`
}

// Scenario is an assessable unit.
type Scenario struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Skill       string       `json:"skill"`
	Difficulty  Difficulty   `json:"difficulty"`
	Rubric      string       `json:"rubric"`
	Type        ScenarioType `json:"type"`
	Questions   []Question   `json:"questions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Answer is one scored response inside a session.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// AssessmentSession is a single adaptive run for one employee against one scenario.
type AssessmentSession struct {
	ID             string        `json:"id"`
	EmployeeID     string        `json:"employee_id"`
	ScenarioID     string        `json:"scenario_id"`
	Phase          Phase         `json:"phase"`
	Mode           SessionMode   `json:"mode"`
	Status         SessionStatus `json:"status"`
	QuestionsAsked []Question    `json:"questions_asked"`
	AnswersGiven   []Answer      `json:"answers_given"`
	// MaxQuestions bounds adaptive sessions; personalized sessions ask exactly len(QuestionsAsked).
	MaxQuestions int        `json:"max_questions"`
	FinalScore   *int       `json:"final_score,omitempty"`
	Version      int        `json:"version"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NextIndex is the index of the question awaiting an answer.
func (s *AssessmentSession) NextIndex() int {
	return len(s.AnswersGiven)
}

// Completed reports whether the session reached its terminal state.
func (s *AssessmentSession) Completed() bool {
	return s.Status == StatusCompleted
}

// CurrentQuestion returns the question awaiting an answer, or nil.
func (s *AssessmentSession) CurrentQuestion() *Question {
	if s.Completed() || s.NextIndex() >= len(s.QuestionsAsked) {
		return nil
	}
	return &s.QuestionsAsked[s.NextIndex()]
}

// AssessmentRecord is a finalized, append-only assessment result.
type AssessmentRecord struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	EmployeeID string     `json:"employee_id"`
	ScenarioID string     `json:"scenario_id"`
	Phase      Phase      `json:"phase"`
	Score      int        `json:"score"`
	Difficulty Difficulty `json:"difficulty"`
	Skill      string     `json:"skill"`
	Completed  bool       `json:"completed"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RecordFact is a completed record joined with the attributes analytics
// groups by.
type RecordFact struct {
	Record        AssessmentRecord
	Department    string
	ScenarioTitle string
}

// SessionCounts tallies sessions by state for completion-rate reporting.
type SessionCounts struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Stale      int `json:"stale"`
}

// EngineConfig holds runtime assessment parameters set via CLI flags or config file.
type EngineConfig struct {
	PassThreshold       int           // score at or above counts as a pass
	KFactor             float64       // ELO k-factor
	SkillSmoothing      float64       // EMA weight of the newest observation
	PersonalizedLength  int           // questions per personalized session
	AdaptiveMaxQuestion int           // upper bound for adaptive sessions
	StepUpThreshold     int           // adaptive: score at or above steps difficulty up
	StepDownThreshold   int           // adaptive: score at or below steps difficulty down
	OracleModels        []string      // model identities used for multi-model scoring
	OracleTimeout       time.Duration // soft timeout per oracle call
	EvalAttempts        int           // whole-evaluation attempts before giving up
	EvalRetryDelay      time.Duration
	StaleAfter          time.Duration // in-progress sessions older than this are abandoned
	Location            *time.Location
}

// DefaultEngineConfig returns the tunables used when nothing is configured.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PassThreshold:       70,
		KFactor:             32,
		SkillSmoothing:      0.1,
		PersonalizedLength:  5,
		AdaptiveMaxQuestion: 8,
		StepUpThreshold:     80,
		StepDownThreshold:   50,
		OracleModels:        []string{"llama3.2", "qwen2.5"},
		OracleTimeout:       30 * time.Second,
		EvalAttempts:        2,
		EvalRetryDelay:      500 * time.Millisecond,
		StaleAfter:          7 * 24 * time.Hour,
		Location:            time.UTC,
	}
}
