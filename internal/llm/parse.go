package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnparseable marks oracle output that could not be decoded.
var ErrUnparseable = errors.New("unparseable oracle output")

var (
	objectRegex = regexp.MustCompile(`(?s)\{.*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[.*\]`)
)

const evaluationSchema = `{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "number"},
		"feedback": {"type": "string"}
	}
}`

var evaluationSchemaLoader = gojsonschema.NewStringLoader(evaluationSchema)

// Evaluation is a decoded oracle verdict.
type Evaluation struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// ParseEvaluation decodes raw oracle text into an Evaluation. It tries the
// first balanced {...} object, then the widest {...} span, then the whole
// text. Scores are clamped to 0-100.
func ParseEvaluation(raw string) (Evaluation, error) {
	var candidates []string
	if obj := firstObject(raw); obj != "" {
		candidates = append(candidates, obj)
	}
	if m := objectRegex.FindString(raw); m != "" {
		candidates = append(candidates, m)
	}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		candidates = append(candidates, trimmed)
	}

	var lastErr error = fmt.Errorf("%w: empty", ErrUnparseable)
	for _, c := range candidates {
		ev, err := decodeEvaluation(c)
		if err == nil {
			return ev, nil
		}
		lastErr = err
	}
	return Evaluation{}, lastErr
}

func decodeEvaluation(doc string) (Evaluation, error) {
	res, err := gojsonschema.Validate(evaluationSchemaLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Evaluation{}, fmt.Errorf("%w: %s", ErrUnparseable, strings.Join(msgs, "; "))
	}

	var ev Evaluation
	if err := json.Unmarshal([]byte(doc), &ev); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if math.IsNaN(ev.Score) || math.IsInf(ev.Score, 0) {
		return Evaluation{}, fmt.Errorf("%w: score is not finite", ErrUnparseable)
	}
	ev.Score = math.Max(0, math.Min(100, ev.Score))
	ev.Feedback = strings.TrimSpace(ev.Feedback)
	return ev, nil
}

// firstObject returns the first brace-balanced {...} span of raw, ignoring
// braces inside JSON strings, or "" when there is none.
func firstObject(raw string) string {
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(raw); i++ {
			c := raw[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

// extractArray returns the first [...] span of raw, or raw itself.
func extractArray(raw string) string {
	if m := arrayRegex.FindString(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}
