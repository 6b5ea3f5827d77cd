package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/llm/prompts"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/retry"
)

const generatorSystem = "You write workplace training assessments. Respond ONLY with JSON."

// Generator asks the oracle for assessment questions.
type Generator struct {
	oracle  Oracle
	modelID string
	prompts *prompts.Set
	policy  retry.Policy
}

// NewGenerator creates a question generator using one model identity.
func NewGenerator(oracle Oracle, modelID string, set *prompts.Set, policy retry.Policy) *Generator {
	return &Generator{oracle: oracle, modelID: modelID, prompts: set, policy: policy}
}

type generatedQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
}

// Generate returns count questions for scenario at difficulty. Malformed
// output is retried under the generator's policy.
func (g *Generator) Generate(ctx context.Context, scenario model.Scenario, difficulty model.Difficulty, count int) ([]model.Question, error) {
	if count <= 0 {
		return nil, nil
	}
	prompt, err := g.prompts.BuildGeneratePrompt(prompts.GenerateData{
		Title:        scenario.Title,
		Skill:        scenario.Skill,
		Difficulty:   difficulty,
		ScenarioText: scenario.Description,
		Rubric:       scenario.Rubric,
		Type:         scenario.Type,
		Count:        count,
	})
	if err != nil {
		return nil, fmt.Errorf("build generate prompt: %w", err)
	}

	var questions []model.Question
	err = g.policy.Do(ctx, func(ctx context.Context) error {
		raw, err := g.oracle.Invoke(ctx, g.modelID, prompt, generatorSystem)
		if err != nil {
			return err
		}
		qs, err := ParseQuestions(raw, scenario.Type, difficulty)
		if err != nil {
			slog.Warn("discarding generated questions", "scenario_id", scenario.ID, "error", err)
			return err
		}
		if len(qs) < count {
			return fmt.Errorf("%w: wanted %d questions, got %d", ErrUnparseable, count, len(qs))
		}
		questions = qs[:count]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return questions, nil
}

// ParseQuestions decodes a JSON array of questions from raw oracle text.
// Items with no text, and multiple-choice items whose answer is not one of
// their options, are dropped.
func ParseQuestions(raw string, typ model.ScenarioType, difficulty model.Difficulty) ([]model.Question, error) {
	var items []generatedQuestion
	if err := json.Unmarshal([]byte(extractArray(raw)), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	questions := make([]model.Question, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		q := model.Question{Text: text, Type: typ, Difficulty: difficulty}
		if typ == model.ScenarioMultipleChoice {
			if len(it.Options) < 2 || !containsFold(it.Options, it.Answer) {
				continue
			}
			q.Options = it.Options
			q.Answer = strings.TrimSpace(it.Answer)
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no usable questions", ErrUnparseable)
	}
	return questions, nil
}

func containsFold(options []string, answer string) bool {
	answer = strings.TrimSpace(answer)
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), answer) {
			return true
		}
	}
	return false
}
