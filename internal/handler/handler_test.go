package handler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/analytics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/i18n"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/rating"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/session"
)

type fakeSessions struct {
	startReq  session.StartRequest
	view      session.View
	err       error
	submitted string
}

func (f *fakeSessions) Start(_ context.Context, req session.StartRequest) (session.View, error) {
	f.startReq = req
	return f.view, f.err
}

func (f *fakeSessions) SubmitAnswer(_ context.Context, _, answer string) (session.View, error) {
	f.submitted = answer
	return f.view, f.err
}

func (f *fakeSessions) Status(_ context.Context, id string) (session.View, error) {
	if f.err != nil {
		return session.View{}, f.err
	}
	v := f.view
	v.SessionID = id
	return v, nil
}

type fakeReports struct {
	ov analytics.Overview
}

func (f fakeReports) Overview(context.Context) (analytics.Overview, error) { return f.ov, nil }

type fakeDirectory struct {
	employees map[string]model.Employee
	scenarios map[string]model.Scenario
	records   []model.AssessmentRecord
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{employees: map[string]model.Employee{}, scenarios: map[string]model.Scenario{}}
}

func (d *fakeDirectory) CreateEmployee(_ context.Context, e model.Employee) error {
	if _, ok := d.employees[e.ID]; ok {
		return fmt.Errorf("create employee: %w", model.ErrConflict)
	}
	d.employees[e.ID] = e
	return nil
}

func (d *fakeDirectory) GetEmployee(_ context.Context, id string) (model.Employee, error) {
	e, ok := d.employees[id]
	if !ok {
		return model.Employee{}, fmt.Errorf("employee %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

func (d *fakeDirectory) ListEmployees(context.Context) ([]model.Employee, error) {
	list := make([]model.Employee, 0, len(d.employees))
	for _, e := range d.employees {
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b model.Employee) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return list, nil
}

func (d *fakeDirectory) ListScenarios(context.Context) ([]model.Scenario, error) {
	list := make([]model.Scenario, 0, len(d.scenarios))
	for _, sc := range d.scenarios {
		list = append(list, sc)
	}
	slices.SortFunc(list, func(a, b model.Scenario) int { return cmp.Compare(a.ID, b.ID) })
	return list, nil
}

func (d *fakeDirectory) ListEmployeeRecords(context.Context, string) ([]model.AssessmentRecord, error) {
	return d.records, nil
}

func (d *fakeDirectory) CreateScenario(_ context.Context, sc model.Scenario) error {
	d.scenarios[sc.ID] = sc
	return nil
}

type testServer struct {
	sessions  *fakeSessions
	directory *fakeDirectory
	srv       http.Handler
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	bundle, err := i18n.New("en")
	require.NoError(t, err)
	ts := &testServer{sessions: &fakeSessions{}, directory: newDirectory()}
	h := New(ts.sessions, fakeReports{ov: analytics.Overview{TotalRecords: 3}}, ts.directory, bundle, opts...)
	ts.srv = h.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	var env map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func intPtr(n int) *int { return &n }

func TestStartSession(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.view = session.View{SessionID: "s1", Status: model.StatusInProgress, TotalQuestions: 5}

	rec, env := ts.do(t, http.MethodPost, "/sessions", `{"employee_id":"e1","scenario_id":"sc1","phase":"pre","familiarity":4}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "5 questions remaining.", env["message"])
	assert.Equal(t, "s1", env["data"].(map[string]any)["session_id"])
	assert.Equal(t, model.PhasePre, ts.sessions.startReq.Phase)
	require.NotNil(t, ts.sessions.startReq.Familiarity)
	assert.Equal(t, 4, *ts.sessions.startReq.Familiarity)
}

func TestStartSessionResumedIsOK(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.view = session.View{SessionID: "s1", Resumed: true, TotalQuestions: 5, Answered: 4}

	rec, env := ts.do(t, http.MethodPost, "/sessions", `{"employee_id":"e1","scenario_id":"sc1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 question remaining.", env["message"])
}

func TestStartSessionValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing employee", `{"scenario_id":"sc1"}`, "employee_id"},
		{"bad phase", `{"employee_id":"e1","scenario_id":"sc1","phase":"mid"}`, "phase"},
		{"bad mode", `{"employee_id":"e1","scenario_id":"sc1","mode":"random"}`, "mode"},
		{"familiarity too high", `{"employee_id":"e1","scenario_id":"sc1","familiarity":9}`, "familiarity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec, env := ts.do(t, http.MethodPost, "/sessions", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, env["success"])
			assert.Equal(t, "The request is invalid.", env["message"])
			assert.Contains(t, env["errors"], tt.field)
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodPost, "/sessions", `{"employee_id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The request body is not valid JSON.", env["message"])
}

func TestSubmitAnswer(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.view = session.View{Status: model.StatusCompleted, FinalScore: intPtr(85), TotalQuestions: 5, Answered: 5}

	rec, env := ts.do(t, http.MethodPost, "/sessions/s1/answers", `{"answer":"I would apologise first."}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Assessment completed with a score of 85.", env["message"])
	assert.Equal(t, "I would apologise first.", ts.sessions.submitted)
}

func TestSubmitAnswerLocalized(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.view = session.View{Status: model.StatusCompleted, FinalScore: intPtr(85)}

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/answers", strings.NewReader(`{"answer":"ok"}`))
	req.Header.Set("Accept-Language", "ms")
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "Penilaian selesai dengan skor 85.")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("answer: %w", model.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("session x: %w", model.ErrNotFound), http.StatusNotFound},
		{"evaluation", fmt.Errorf("score: %w", model.ErrEvaluationFailure), http.StatusBadGateway},
		{"conflict", fmt.Errorf("update: %w", model.ErrConflict), http.StatusConflict},
		{"persistence", fmt.Errorf("db: %w", model.ErrPersistence), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.sessions.err = tt.err

			rec, env := ts.do(t, http.MethodPost, "/sessions/s1/answers", `{"answer":"x"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, env["success"])
			assert.NotEmpty(t, env["message"])
			assert.NotContains(t, env["message"], "boom")
		})
	}
}

func TestSessionStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.view = session.View{TotalQuestions: 3}

	rec, env := ts.do(t, http.MethodGet, "/sessions/abc", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", env["data"].(map[string]any)["session_id"])
}

func TestOverview(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodGet, "/analytics/overview", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, env["data"].(map[string]any)["total_records"])
}

func TestCreateEmployee(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/employees", `{"id":"e9","name":"Aisyah","department":"Support"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := env["data"].(map[string]any)
	assert.Equal(t, "e9", data["id"])
	assert.EqualValues(t, rating.DefaultRating, data["rating"])

	rec, env = ts.do(t, http.MethodPost, "/employees", `{"id":"e9","name":"Again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "A resource with this id already exists.", env["message"])
}

func TestCreateEmployeeGeneratesID(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodPost, "/employees", `{"name":"Ben"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, env["data"].(map[string]any)["id"])
}

func TestGetEmployee(t *testing.T) {
	ts := newTestServer(t)
	ts.directory.employees["e1"] = model.Employee{ID: "e1", Name: "Aisyah", Rating: 1024}
	ts.directory.records = []model.AssessmentRecord{{ID: "r1", Score: 85}}

	rec, env := ts.do(t, http.MethodGet, "/employees/e1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := env["data"].(map[string]any)
	assert.EqualValues(t, 1024, data["rating"])
	assert.Len(t, data["records"], 1)

	rec, _ = ts.do(t, http.MethodGet, "/employees/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScenario(t *testing.T) {
	ts := newTestServer(t)
	body := `{
		"id": "sc1",
		"title": "Refund request",
		"description": "A customer wants a refund outside policy.",
		"difficulty": "medium",
		"type": "multiple_choice",
		"questions": [{"text": "First step?", "options": ["Apologise", "Refuse"], "answer": "apologise"}]
	}`

	rec, env := ts.do(t, http.MethodPost, "/scenarios", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	stored := ts.directory.scenarios["sc1"]
	assert.Equal(t, model.DifficultyNormal, stored.Difficulty)
	require.Len(t, stored.Questions, 1)
	assert.Equal(t, model.ScenarioMultipleChoice, stored.Questions[0].Type)
	assert.Equal(t, "apologise", stored.Questions[0].Answer)

	q := env["data"].(map[string]any)["questions"].([]any)[0].(map[string]any)
	assert.NotContains(t, q, "answer")
}

func TestCreateScenarioRejectsBadChoice(t *testing.T) {
	ts := newTestServer(t)
	body := `{
		"title": "Refund request",
		"description": "d",
		"difficulty": "Easy",
		"type": "multiple_choice",
		"questions": [{"text": "First step?", "options": ["Apologise", "Refuse"], "answer": "Escalate"}]
	}`

	rec, env := ts.do(t, http.MethodPost, "/scenarios", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env["errors"], "questions[0].answer")
	assert.Empty(t, ts.directory.scenarios)
}

func TestCreateScenarioNestedValidation(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodPost, "/scenarios", `{"title":"T","description":"d","difficulty":"Hard","questions":[{"text":""}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env["errors"], "questions[0].text")
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	for _, e := range []model.Employee{
		{ID: "e1", Name: "Aisyah", Rating: 1040},
		{ID: "e2", Name: "Ben", Rating: 1120},
		{ID: "e3", Name: "Chen", Rating: 1040},
	} {
		require.NoError(t, ts.directory.CreateEmployee(context.Background(), e))
	}

	rec, env := ts.do(t, http.MethodGet, "/employees", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	board := env["data"].([]any)
	require.Len(t, board, 3)
	var ids []string
	var ranks []float64
	for _, row := range board {
		entry := row.(map[string]any)
		ids = append(ids, entry["id"].(string))
		ranks = append(ranks, entry["rank"].(float64))
	}
	assert.Equal(t, []string{"e2", "e1", "e3"}, ids)
	assert.Equal(t, []float64{1, 2, 2}, ranks)
}

func TestLeaderboardEmpty(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodGet, "/employees", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, env["data"])
}

func TestListScenariosHidesAnswers(t *testing.T) {
	ts := newTestServer(t)
	ts.directory.scenarios["sc1"] = model.Scenario{
		ID: "sc1", Title: "Refund request", Type: model.ScenarioMultipleChoice,
		Questions: []model.Question{{Text: "First step?", Options: []string{"Apologise", "Refuse"}, Answer: "apologise"}},
	}

	rec, env := ts.do(t, http.MethodGet, "/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := env["data"].([]any)
	require.Len(t, list, 1)
	q := list[0].(map[string]any)["questions"].([]any)[0].(map[string]any)
	assert.NotContains(t, q, "answer")
	assert.Equal(t, "apologise", ts.directory.scenarios["sc1"].Questions[0].Answer)
}

func TestRoutingFallbacks(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No such endpoint.", env["message"])

	rec, _ = ts.do(t, http.MethodDelete, "/analytics/overview", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.NewManager()
	m.SessionStarted("post", "personalized")
	healthy := true
	ts := newTestServer(t, WithMetrics(m), WithHealthCheck("store", func(context.Context) error {
		if !healthy {
			return errors.New("database is locked")
		}
		return nil
	}))

	rec, env := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", env["data"].(map[string]any)["store"])

	healthy = false
	rec, _ = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracker_assessment_sessions_started_total")
}
