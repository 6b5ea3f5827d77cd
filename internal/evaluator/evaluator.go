// Package evaluator scores answers. Free-text answers are sent to several
// independent oracle models at once and their verdicts are averaged;
// multiple-choice answers are matched against the canonical answer.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/llm"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/llm/prompts"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

const defaultTimeout = 30 * time.Second

// Request is the material a free-text answer is judged against.
type Request struct {
	Task         string
	ScenarioText string
	Rubric       string
	Response     string
}

// Result is an aggregated verdict.
type Result struct {
	Score    int
	Feedback string
	// Samples is how many oracle verdicts were averaged. Zero for multiple choice.
	Samples int
}

// Evaluator fans a scoring prompt out to a fixed set of oracle models.
type Evaluator struct {
	oracle  llm.Oracle
	models  []string
	prompts *prompts.Set
	timeout time.Duration
	metrics *metrics.Manager
}

// Option applies a configuration option to the Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the soft timeout applied to each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics records oracle outcomes and latencies.
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// New creates an Evaluator over the given model identities.
func New(oracle llm.Oracle, models []string, set *prompts.Set, opts ...Option) (*Evaluator, error) {
	if len(models) == 0 {
		return nil, errors.New("evaluator needs at least one oracle model")
	}
	e := &Evaluator{
		oracle:  oracle,
		models:  append([]string(nil), models...),
		prompts: set,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ScoreAnswer scores answer to question within scenario, choosing the
// strategy by question type.
func (e *Evaluator) ScoreAnswer(ctx context.Context, scenario model.Scenario, question model.Question, answer string) (Result, error) {
	e.metrics.AnswerScored(string(question.Type))
	if question.Type == model.ScenarioMultipleChoice {
		return ScoreMultipleChoice(answer, question.Answer), nil
	}
	return e.Evaluate(ctx, Request{
		Task:         question.Text,
		ScenarioText: scenario.Description,
		Rubric:       scenario.Rubric,
		Response:     answer,
	})
}

// ScoreMultipleChoice returns 100 when answer matches canonical ignoring case
// and surrounding space, otherwise 0.
func ScoreMultipleChoice(answer, canonical string) Result {
	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(canonical)) {
		return Result{Score: 100, Feedback: "Correct."}
	}
	return Result{Score: 0, Feedback: fmt.Sprintf("Incorrect. The correct answer is %q.", strings.TrimSpace(canonical))}
}

type verdict struct {
	ok bool
	ev llm.Evaluation
}

// Evaluate sends the same prompt to every model concurrently and reduces the
// parsed verdicts. Models that fail, time out or return unparseable text are
// skipped; ErrEvaluationFailure is returned only when none succeed.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	prompt, err := e.prompts.BuildScorePrompt(prompts.ScoreData{
		Task:         req.Task,
		ScenarioText: req.ScenarioText,
		Rubric:       req.Rubric,
		Answer:       req.Response,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build score prompt: %w", err)
	}
	system := e.prompts.ScoringSystem()

	start := time.Now()
	verdicts := make([]verdict, len(e.models))

	var g errgroup.Group
	for i, modelID := range e.models {
		g.Go(func() error {
			verdicts[i] = e.ask(ctx, modelID, prompt, system)
			return nil
		})
	}
	_ = g.Wait()

	res, ok := reduce(verdicts)
	e.metrics.EvaluationFinished(time.Since(start), !ok)
	if !ok {
		return Result{}, fmt.Errorf("%w: 0 of %d oracles returned a usable score", model.ErrEvaluationFailure, len(e.models))
	}
	return res, nil
}

// ask performs one oracle call under the soft timeout. An oracle that
// ignores cancellation is abandoned when the timeout fires.
func (e *Evaluator) ask(ctx context.Context, modelID, prompt, system string) verdict {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type reply struct {
		raw string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		raw, err := e.oracle.Invoke(callCtx, modelID, prompt, system)
		ch <- reply{raw: raw, err: err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-callCtx.Done():
		slog.Warn("oracle timed out", "model", modelID, "timeout", e.timeout)
		e.metrics.OracleCall(modelID, metrics.OutcomeTimeout)
		return verdict{}
	}

	if r.err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(r.err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		slog.Warn("oracle call failed", "model", modelID, "error", r.err)
		e.metrics.OracleCall(modelID, outcome)
		return verdict{}
	}

	ev, err := llm.ParseEvaluation(r.raw)
	if err != nil {
		slog.Warn("discarding oracle verdict", "model", modelID, "error", err)
		e.metrics.OracleCall(modelID, metrics.OutcomeUnparseable)
		return verdict{}
	}
	e.metrics.OracleCall(modelID, metrics.OutcomeOK)
	return verdict{ok: true, ev: ev}
}

func reduce(verdicts []verdict) (Result, bool) {
	var (
		sum   float64
		n     int
		lines []string
	)
	for i, v := range verdicts {
		if !v.ok {
			continue
		}
		sum += v.ev.Score
		n++
		lines = append(lines, fmt.Sprintf("Model %d: %s", i+1, v.ev.Feedback))
	}
	if n == 0 {
		return Result{}, false
	}
	return Result{
		Score:    int(math.Round(sum / float64(n))),
		Feedback: strings.Join(lines, "\n"),
		Samples:  n,
	}, true
}
