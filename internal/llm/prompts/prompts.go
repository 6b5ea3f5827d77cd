package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 10000

var (
	employeeResponseRegex   = regexp.MustCompile(`(?i)</?\s*employee-response\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a scoring prompt variant.
type PromptVariant string

const (
	// PromptStrict is used for certification scenarios.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default scoring variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is used for practice scenarios.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ScoreData holds template data for scoring prompts.
type ScoreData struct {
	Task         string
	ScenarioText string
	Rubric       string
	Answer       string
}

// GenerateData holds template data for question generation prompts.
type GenerateData struct {
	Title        string
	Skill        string
	Difficulty   model.Difficulty
	ScenarioText string
	Rubric       string
	Type         model.ScenarioType
	Count        int
}

// Set is a parsed collection of prompt templates for one variant.
type Set struct {
	variant  PromptVariant
	score    *template.Template
	generate *template.Template
	system   string
}

// Load parses the embedded templates for variant.
func Load(variant PromptVariant) (*Set, error) {
	return LoadFS(templateFS, variant)
}

// LoadFS parses templates for variant from fsys. Files live under templates/.
func LoadFS(fsys fs.FS, variant PromptVariant) (*Set, error) {
	if !validVariants[variant] {
		return nil, fmt.Errorf("invalid prompt variant: %s", variant)
	}

	scoreFile := "templates/score_" + string(variant) + ".txt"
	score, err := parseFile(fsys, scoreFile)
	if err != nil {
		return nil, err
	}
	generate, err := parseFile(fsys, "templates/generate.txt")
	if err != nil {
		return nil, err
	}
	system, err := fs.ReadFile(fsys, "templates/system_score.txt")
	if err != nil {
		return nil, fmt.Errorf("read prompt file templates/system_score.txt: %w", err)
	}

	return &Set{
		variant:  variant,
		score:    score,
		generate: generate,
		system:   strings.TrimSpace(string(system)),
	}, nil
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// Variant returns the variant the set was loaded for.
func (s *Set) Variant() PromptVariant { return s.variant }

// ScoringSystem is the system instruction demanding strict JSON output.
func (s *Set) ScoringSystem() string { return s.system }

// BuildScorePrompt renders the scoring prompt. The answer is sanitized first.
func (s *Set) BuildScorePrompt(data ScoreData) (string, error) {
	data.Answer = SanitizeAnswer(data.Answer)
	var buf bytes.Buffer
	if err := s.score.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGeneratePrompt renders the question generation prompt.
func (s *Set) BuildGeneratePrompt(data GenerateData) (string, error) {
	var buf bytes.Buffer
	if err := s.generate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips prompt delimiters an answer could use to escape its
// block and truncates overly long answers.
func SanitizeAnswer(answer string) string {
	answer = employeeResponseRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
