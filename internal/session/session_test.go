package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/evaluator"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/profile"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

// numericScorer scores an answer by parsing it as an integer. Answers that
// are not numbers fail as if every oracle had failed.
type numericScorer struct {
	mu    sync.Mutex
	calls int
}

func (s *numericScorer) ScoreAnswer(_ context.Context, _ model.Scenario, q model.Question, answer string) (evaluator.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	n, err := strconv.Atoi(answer)
	if err != nil {
		return evaluator.Result{}, fmt.Errorf("%w: no usable score", model.ErrEvaluationFailure)
	}
	return evaluator.Result{Score: n, Feedback: "Model 1: scored " + q.Text}, nil
}

type stubGenerator struct {
	mu       sync.Mutex
	requests []model.Difficulty
	fail     bool
}

func (g *stubGenerator) Generate(_ context.Context, sc model.Scenario, d model.Difficulty, count int) ([]model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, errors.New("oracle unavailable")
	}
	var qs []model.Question
	for i := 0; i < count; i++ {
		g.requests = append(g.requests, d)
		qs = append(qs, model.Question{
			Text:       fmt.Sprintf("generated %d for %s at %s", len(g.requests), sc.ID, d),
			Type:       sc.Type,
			Difficulty: d,
		})
	}
	return qs, nil
}

type fixture struct {
	store  *store.Store
	engine *Engine
	scorer *numericScorer
	gen    *stubGenerator
}

func newFixture(t *testing.T, cfg model.EngineConfig) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.CreateEmployee(ctx, model.Employee{ID: "e1", Name: "Wei Jie", Department: "Support", Rating: 1000}); err != nil {
		t.Fatalf("CreateEmployee: %v", err)
	}
	bank := []model.Question{
		{Text: "Q1"}, {Text: "Q2"}, {Text: "Q3"},
	}
	if err := s.CreateScenario(ctx, model.Scenario{
		ID: "sc1", Title: "Escalations", Skill: "customer-service", Difficulty: model.DifficultyNormal,
		Type: model.ScenarioText, Questions: bank,
	}); err != nil {
		t.Fatalf("CreateScenario: %v", err)
	}

	cfg.EvalRetryDelay = time.Millisecond
	f := &fixture{store: s, scorer: &numericScorer{}, gen: &stubGenerator{}}
	updater := profile.New(s, cfg)
	f.engine = New(s, f.scorer, f.gen, updater, cfg)
	return f
}

func (f *fixture) start(t *testing.T, req StartRequest) View {
	t.Helper()
	v, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return v
}

func (f *fixture) submit(t *testing.T, id, answer string) View {
	t.Helper()
	v, err := f.engine.SubmitAnswer(context.Background(), id, answer)
	if err != nil {
		t.Fatalf("SubmitAnswer(%q): %v", answer, err)
	}
	return v
}

func TestPersonalizedSessionLifecycle(t *testing.T) {
	f := newFixture(t, model.DefaultEngineConfig())

	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePost})
	if v.Mode != model.ModePersonalized || v.TotalQuestions != 5 {
		t.Fatalf("unexpected start view: %+v", v)
	}
	if v.Question == nil || v.Question.Text != "Q1" || v.QuestionNumber != 1 {
		t.Fatalf("first question = %+v", v.Question)
	}
	// Three from the bank, two generated at the scenario difficulty.
	if len(f.gen.requests) != 2 || f.gen.requests[0] != model.DifficultyNormal {
		t.Errorf("generator requests = %v", f.gen.requests)
	}

	scores := []string{"80", "60", "90", "70", "75"}
	for i, s := range scores[:4] {
		v = f.submit(t, v.SessionID, s)
		if v.Status != model.StatusInProgress {
			t.Fatalf("session completed early after answer %d", i+1)
		}
		if v.LastScore == nil || strconv.Itoa(*v.LastScore) != s {
			t.Errorf("last score = %v, want %s", v.LastScore, s)
		}
		if v.QuestionNumber != i+2 {
			t.Errorf("question number = %d, want %d", v.QuestionNumber, i+2)
		}
	}

	final := f.submit(t, v.SessionID, scores[4])
	if final.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	// (80+60+90+70+75)/5 = 75
	if final.FinalScore == nil || *final.FinalScore != 75 {
		t.Fatalf("final score = %v, want 75", final.FinalScore)
	}
	if final.Question != nil || len(final.Answers) != 5 {
		t.Errorf("completed view should list answers and no question: %+v", final)
	}

	// A sixth submission is a no-op returning the cached result.
	calls := f.scorer.calls
	again := f.submit(t, v.SessionID, "10")
	if again.FinalScore == nil || *again.FinalScore != 75 || len(again.Answers) != 5 {
		t.Errorf("cached result changed: %+v", again)
	}
	if f.scorer.calls != calls {
		t.Error("scoring ran after completion")
	}
	blank, err := f.engine.SubmitAnswer(context.Background(), v.SessionID, "")
	if err != nil {
		t.Fatalf("blank submit after completion: %v", err)
	}
	if blank.Status != model.StatusCompleted || blank.FinalScore == nil || *blank.FinalScore != 75 {
		t.Errorf("blank submit should return the cached result: %+v", blank)
	}

	emp, err := f.store.GetEmployee(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetEmployee: %v", err)
	}
	if emp.TotalPoints != 75 {
		t.Errorf("total points = %d, want 75 (applied once)", emp.TotalPoints)
	}
	if emp.SkillsProfile["customer-service"] != 75 {
		t.Errorf("skills profile = %v", emp.SkillsProfile)
	}
	recs, _ := f.store.ListEmployeeRecords(context.Background(), "e1")
	if len(recs) != 1 {
		t.Errorf("expected one record, got %d", len(recs))
	}

	// Starting again returns the completed session.
	restart := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePost})
	if restart.SessionID != v.SessionID || restart.Status != model.StatusCompleted || !restart.Resumed {
		t.Errorf("restart should return the cached session: %+v", restart)
	}
}

func TestStartResumesMidSequence(t *testing.T) {
	f := newFixture(t, model.DefaultEngineConfig())

	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1"})
	f.submit(t, v.SessionID, "50")
	f.submit(t, v.SessionID, "50")

	resumed := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1"})
	if !resumed.Resumed || resumed.SessionID != v.SessionID {
		t.Fatalf("expected to resume %s, got %+v", v.SessionID, resumed)
	}
	if resumed.Answered != 2 || resumed.QuestionNumber != 3 || resumed.Question.Text != "Q3" {
		t.Errorf("resume position wrong: %+v", resumed)
	}

	status, err := f.engine.Status(context.Background(), v.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Answered != 2 || status.Status != model.StatusInProgress {
		t.Errorf("status = %+v", status)
	}
}

func TestFailedScoringAppendsNothing(t *testing.T) {
	cfg := model.DefaultEngineConfig()
	cfg.EvalAttempts = 3
	f := newFixture(t, cfg)

	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1"})
	_, err := f.engine.SubmitAnswer(context.Background(), v.SessionID, "not a number")
	if !errors.Is(err, model.ErrEvaluationFailure) {
		t.Fatalf("expected ErrEvaluationFailure, got %v", err)
	}
	if f.scorer.calls != 3 {
		t.Errorf("scoring attempts = %d, want 3", f.scorer.calls)
	}

	sess, err := f.store.GetSession(context.Background(), v.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.AnswersGiven) != 0 || sess.Version != 1 {
		t.Errorf("failed scoring changed the session: answers %d version %d", len(sess.AnswersGiven), sess.Version)
	}

	// The same question is still waiting.
	v = f.submit(t, v.SessionID, "88")
	if v.Answered != 1 || v.Question.Text != "Q2" {
		t.Errorf("retry after failure: %+v", v)
	}
}

func TestConcurrentSubmitsAreSerialized(t *testing.T) {
	f := newFixture(t, model.DefaultEngineConfig())
	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1"})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitAnswer(context.Background(), v.SessionID, "70")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("SubmitAnswer: %v", err)
		}
	}

	sess, _ := f.store.GetSession(context.Background(), v.SessionID)
	if len(sess.AnswersGiven) != 4 {
		t.Errorf("answers = %d, want 4 (no lost updates)", len(sess.AnswersGiven))
	}
}

func TestAdaptiveSession(t *testing.T) {
	cfg := model.DefaultEngineConfig()
	cfg.AdaptiveMaxQuestion = 3
	f := newFixture(t, cfg)

	five := 5
	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePre, Familiarity: &five})
	if v.Mode != model.ModeAdaptive || v.TotalQuestions != 3 {
		t.Fatalf("unexpected start view: %+v", v)
	}
	if v.Question.Difficulty != model.DifficultyHard {
		t.Fatalf("familiarity 5 should start Hard, got %s", v.Question.Difficulty)
	}

	// High score at Hard stays Hard.
	v = f.submit(t, v.SessionID, "95")
	if v.Question.Difficulty != model.DifficultyHard {
		t.Errorf("difficulty after 95 = %s, want Hard", v.Question.Difficulty)
	}
	// Low score steps down.
	v = f.submit(t, v.SessionID, "20")
	if v.Question.Difficulty != model.DifficultyNormal {
		t.Errorf("difficulty after 20 = %s, want Normal", v.Question.Difficulty)
	}

	v = f.submit(t, v.SessionID, "60")
	if v.Status != model.StatusCompleted {
		t.Fatalf("adaptive session should stop at its bound, got %+v", v)
	}
	// round((95+20+60)/3) = round(58.33)
	if *v.FinalScore != 58 {
		t.Errorf("final score = %d, want 58", *v.FinalScore)
	}

	sess, _ := f.store.GetSession(context.Background(), v.SessionID)
	if len(sess.QuestionsAsked) != len(sess.AnswersGiven) {
		t.Errorf("asked %d answered %d", len(sess.QuestionsAsked), len(sess.AnswersGiven))
	}

	// Baseline sessions leave the rating alone.
	emp, _ := f.store.GetEmployee(context.Background(), "e1")
	if emp.Rating != 1000 || emp.TotalPoints != 0 {
		t.Errorf("pre session moved rating or points: %+v", emp)
	}
}

func TestAdaptiveSessionStopsWhenSettled(t *testing.T) {
	tests := []struct {
		name        string
		familiarity int
		answers     []string
		want        int
	}{
		{"top scores at Hard", 5, []string{"100", "100"}, 2},
		{"bottom scores at Easy", 0, []string{"10", "0"}, 2},
		{"one pinned answer is not enough", 5, []string{"100", "70", "100", "100"}, 4},
		// Hard, Hard, Normal, Easy, Easy: only the last two press on the floor.
		{"stepping down restarts the run", 4, []string{"100", "20", "10", "30", "0"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, model.DefaultEngineConfig())
			fam := tt.familiarity
			v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePre, Familiarity: &fam})
			for i, a := range tt.answers {
				v = f.submit(t, v.SessionID, a)
				if i < len(tt.answers)-1 && v.Status != model.StatusInProgress {
					t.Fatalf("completed early after %d answers", i+1)
				}
			}
			if v.Status != model.StatusCompleted {
				t.Fatalf("expected completed after %d answers, got %+v", tt.want, v)
			}
			if v.Answered != tt.want || v.Answered >= model.DefaultEngineConfig().AdaptiveMaxQuestion {
				t.Errorf("answered = %d, want %d", v.Answered, tt.want)
			}
			sess, _ := f.store.GetSession(context.Background(), v.SessionID)
			if len(sess.QuestionsAsked) != len(sess.AnswersGiven) {
				t.Errorf("asked %d answered %d", len(sess.QuestionsAsked), len(sess.AnswersGiven))
			}
		})
	}
}

// emptyGenerator succeeds without producing anything.
type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context, model.Scenario, model.Difficulty, int) ([]model.Question, error) {
	return nil, nil
}

func TestEmptyGeneratorOutputIsAnEvaluationFailure(t *testing.T) {
	cfg := model.DefaultEngineConfig()
	f := newFixture(t, cfg)
	f.engine = New(f.store, f.scorer, emptyGenerator{}, profile.New(f.store, cfg), cfg)

	five := 5
	tests := []struct {
		name string
		req  StartRequest
	}{
		{"adaptive start with no bank question", StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePre, Familiarity: &five}},
		{"personalized queue shortfall", StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: model.PhasePost}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Start(context.Background(), tt.req); !errors.Is(err, model.ErrEvaluationFailure) {
				t.Errorf("got %v, want ErrEvaluationFailure", err)
			}
		})
	}
	for _, phase := range []model.Phase{model.PhasePre, model.PhasePost} {
		if sess, _ := f.store.FindSession(context.Background(), "e1", "sc1", phase); sess != nil {
			t.Errorf("%s session created despite missing questions: %+v", phase, sess)
		}
	}
}

func TestAdaptiveGenerationFailureKeepsSession(t *testing.T) {
	f := newFixture(t, model.DefaultEngineConfig())
	zero := 0
	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Mode: model.ModeAdaptive, Familiarity: &zero})

	// A low score keeps the session at Easy, which only the generator can serve.
	f.gen.fail = true
	_, err := f.engine.SubmitAnswer(context.Background(), v.SessionID, "10")
	if !errors.Is(err, model.ErrEvaluationFailure) {
		t.Fatalf("expected ErrEvaluationFailure, got %v", err)
	}
	sess, _ := f.store.GetSession(context.Background(), v.SessionID)
	if len(sess.AnswersGiven) != 0 {
		t.Errorf("answer recorded without a next question: %+v", sess.AnswersGiven)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, model.DefaultEngineConfig())
	six := 6

	tests := []struct {
		name string
		req  StartRequest
		want error
	}{
		{"missing employee", StartRequest{ScenarioID: "sc1"}, model.ErrValidation},
		{"bad phase", StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Phase: "mid"}, model.ErrValidation},
		{"bad mode", StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Mode: "random"}, model.ErrValidation},
		{"familiarity out of range", StartRequest{EmployeeID: "e1", ScenarioID: "sc1", Familiarity: &six}, model.ErrValidation},
		{"unknown employee", StartRequest{EmployeeID: "ghost", ScenarioID: "sc1"}, model.ErrNotFound},
		{"unknown scenario", StartRequest{EmployeeID: "e1", ScenarioID: "ghost"}, model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Start(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.engine.SubmitAnswer(context.Background(), "nope", "50"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown session: got %v", err)
	}
	v := f.start(t, StartRequest{EmployeeID: "e1", ScenarioID: "sc1"})
	if _, err := f.engine.SubmitAnswer(context.Background(), v.SessionID, "   "); !errors.Is(err, model.ErrValidation) {
		t.Errorf("blank answer: got %v", err)
	}
	if _, err := f.engine.SubmitAnswer(context.Background(), "", "50"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("blank session id: got %v", err)
	}
}

func TestNextDifficulty(t *testing.T) {
	tests := []struct {
		current model.Difficulty
		score   int
		want    model.Difficulty
	}{
		{model.DifficultyNormal, 80, model.DifficultyHard},
		{model.DifficultyNormal, 79, model.DifficultyNormal},
		{model.DifficultyNormal, 51, model.DifficultyNormal},
		{model.DifficultyNormal, 50, model.DifficultyEasy},
		{model.DifficultyHard, 100, model.DifficultyHard},
		{model.DifficultyEasy, 0, model.DifficultyEasy},
	}
	for _, tt := range tests {
		if got := NextDifficulty(tt.current, tt.score, 80, 50); got != tt.want {
			t.Errorf("NextDifficulty(%s, %d) = %s, want %s", tt.current, tt.score, got, tt.want)
		}
	}
}

func TestFamiliarityDifficulty(t *testing.T) {
	want := []model.Difficulty{
		model.DifficultyEasy, model.DifficultyEasy,
		model.DifficultyNormal, model.DifficultyNormal,
		model.DifficultyHard, model.DifficultyHard,
	}
	for f, w := range want {
		if got := FamiliarityDifficulty(f); got != w {
			t.Errorf("FamiliarityDifficulty(%d) = %s, want %s", f, got, w)
		}
	}
}
