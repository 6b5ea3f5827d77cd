package handler

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/i18n"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/rating"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/session"
)

type startSessionRequest struct {
	EmployeeID  string `json:"employee_id" validate:"required,max=64"`
	ScenarioID  string `json:"scenario_id" validate:"required,max=64"`
	Phase       string `json:"phase" validate:"omitempty,oneof=pre post"`
	Mode        string `json:"mode" validate:"omitempty,oneof=adaptive personalized"`
	Familiarity *int   `json:"familiarity" validate:"omitempty,min=0,max=5"`
}

type submitAnswerRequest struct {
	Answer string `json:"answer" validate:"required,max=8000"`
}

type createEmployeeRequest struct {
	ID         string `json:"id" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	Department string `json:"department" validate:"max=200"`
	Rating     *int   `json:"rating" validate:"omitempty,min=0"`
}

type questionRequest struct {
	Text       string   `json:"text" validate:"required"`
	Type       string   `json:"type" validate:"omitempty,oneof=text multiple_choice"`
	Difficulty string   `json:"difficulty" validate:"omitempty,oneof=Easy Normal Hard easy normal medium hard"`
	Options    []string `json:"options" validate:"omitempty,dive,required"`
	Answer     string   `json:"answer"`
}

type createScenarioRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=64"`
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description" validate:"required"`
	Skill       string            `json:"skill" validate:"max=100"`
	Difficulty  string            `json:"difficulty" validate:"required,oneof=Easy Normal Hard easy normal medium hard"`
	Rubric      string            `json:"rubric"`
	Type        string            `json:"type" validate:"omitempty,oneof=text multiple_choice"`
	Questions   []questionRequest `json:"questions" validate:"omitempty,dive"`
}

// toScenario converts the request, checking rules a tag cannot express.
func (req createScenarioRequest) toScenario() (model.Scenario, map[string]string) {
	fields := make(map[string]string)
	sc := model.Scenario{
		ID:          req.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Skill:       strings.TrimSpace(req.Skill),
		Rubric:      req.Rubric,
		Type:        model.ScenarioType(req.Type),
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Type == "" {
		sc.Type = model.ScenarioText
	}
	sc.Difficulty, _ = model.ParseDifficulty(req.Difficulty)

	for i, q := range req.Questions {
		mq := model.Question{
			Text:    q.Text,
			Type:    model.ScenarioType(q.Type),
			Options: q.Options,
			Answer:  strings.TrimSpace(q.Answer),
		}
		if mq.Type == "" {
			mq.Type = sc.Type
		}
		mq.Difficulty = sc.Difficulty
		if q.Difficulty != "" {
			mq.Difficulty, _ = model.ParseDifficulty(q.Difficulty)
		}
		if mq.Type == model.ScenarioMultipleChoice {
			key := fmt.Sprintf("questions[%d].answer", i)
			switch {
			case len(mq.Options) < 2:
				fields[fmt.Sprintf("questions[%d].options", i)] = "options must list at least 2 choices"
			case mq.Answer == "":
				fields[key] = "answer is a required field"
			case !slices.ContainsFunc(mq.Options, func(o string) bool { return strings.EqualFold(strings.TrimSpace(o), mq.Answer) }):
				fields[key] = "answer must be one of the options"
			}
		}
		sc.Questions = append(sc.Questions, mq)
	}
	if len(fields) > 0 {
		return model.Scenario{}, fields
	}
	return sc, nil
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if fields, err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, fields)
		return
	} else if fields != nil {
		validationFailed(w, r, fields)
		return
	}

	view, err := h.sessions.Start(r.Context(), session.StartRequest{
		EmployeeID:  req.EmployeeID,
		ScenarioID:  req.ScenarioID,
		Phase:       model.Phase(req.Phase),
		Mode:        model.SessionMode(req.Mode),
		Familiarity: req.Familiarity,
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	ok(w, status, view, progressMessage(r, view))
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req submitAnswerRequest
	if fields, err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, fields)
		return
	} else if fields != nil {
		validationFailed(w, r, fields)
		return
	}

	view, err := h.sessions.SubmitAnswer(r.Context(), sessionID, req.Answer)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, view, progressMessage(r, view))
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, view, progressMessage(r, view))
}

// progressMessage describes how far along a session is.
func progressMessage(r *http.Request, v session.View) string {
	if v.Status == model.StatusCompleted && v.FinalScore != nil {
		return i18n.Td(r.Context(), "SessionCompleted", map[string]any{"Score": *v.FinalScore})
	}
	return i18n.Tp(r.Context(), "QuestionsRemaining", max(v.TotalQuestions-v.Answered, 0))
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.reports.Overview(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, ov, "")
}

func (h *Handler) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req createEmployeeRequest
	if fields, err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, fields)
		return
	} else if fields != nil {
		validationFailed(w, r, fields)
		return
	}

	e := model.Employee{
		ID:            req.ID,
		Name:          strings.TrimSpace(req.Name),
		Department:    strings.TrimSpace(req.Department),
		Rating:        rating.DefaultRating,
		SkillsProfile: map[string]float64{},
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if req.Rating != nil {
		e.Rating = *req.Rating
	}
	if err := h.directory.CreateEmployee(r.Context(), e); err != nil {
		failCreate(w, r, err)
		return
	}
	created, err := h.directory.GetEmployee(r.Context(), e.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, created, "")
}

type leaderboardEntry struct {
	Rank int `json:"rank"`
	model.Employee
}

// handleLeaderboard lists employees by rating. Ties share a rank.
func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	employees, err := h.directory.ListEmployees(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	board := make([]leaderboardEntry, 0, len(employees))
	for i, e := range employees {
		rank := i + 1
		if i > 0 && e.Rating == employees[i-1].Rating {
			rank = board[i-1].Rank
		}
		board = append(board, leaderboardEntry{Rank: rank, Employee: e})
	}
	ok(w, http.StatusOK, board, "")
}

type employeeResponse struct {
	model.Employee
	Records []model.AssessmentRecord `json:"records"`
}

func (h *Handler) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "employeeID")
	e, err := h.directory.GetEmployee(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	records, err := h.directory.ListEmployeeRecords(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if records == nil {
		records = []model.AssessmentRecord{}
	}
	ok(w, http.StatusOK, employeeResponse{Employee: e, Records: records}, "")
}

func (h *Handler) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var req createScenarioRequest
	if fields, err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, fields)
		return
	} else if fields != nil {
		validationFailed(w, r, fields)
		return
	}

	sc, fields := req.toScenario()
	if fields != nil {
		validationFailed(w, r, fields)
		return
	}
	if err := h.directory.CreateScenario(r.Context(), sc); err != nil {
		failCreate(w, r, err)
		return
	}
	ok(w, http.StatusCreated, publicScenario(sc), "")
}

func (h *Handler) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.directory.ListScenarios(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]model.Scenario, 0, len(scenarios))
	for _, sc := range scenarios {
		out = append(out, publicScenario(sc))
	}
	ok(w, http.StatusOK, out, "")
}

// publicScenario copies sc without the canonical answers, which stay server side.
func publicScenario(sc model.Scenario) model.Scenario {
	sc.Questions = slices.Clone(sc.Questions)
	for i := range sc.Questions {
		sc.Questions[i].Answer = ""
	}
	return sc
}

// failCreate reports a duplicate id as 409 with its own message.
func failCreate(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrConflict) {
		writeJSON(w, http.StatusConflict, envelope{Message: i18n.T(r.Context(), "ErrAlreadyExists")})
		return
	}
	fail(w, r, err)
}
