// Package analytics derives training-effectiveness reports from the
// assessment record log. It never writes.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

// DefaultGapLimit is how many skills the skills-gap report lists.
const DefaultGapLimit = 5

// UnassignedDepartment labels employees with no department in the heatmap.
const UnassignedDepartment = "Unassigned"

// ScenarioDelta compares baseline and outcome scores for one scenario.
// Scenarios with only one phase are listed with Paired false.
type ScenarioDelta struct {
	ScenarioID string  `json:"scenario_id"`
	Title      string  `json:"title"`
	PreAvg     float64 `json:"pre_avg"`
	PostAvg    float64 `json:"post_avg"`
	Delta      float64 `json:"delta"`
	PreCount   int     `json:"pre_count"`
	PostCount  int     `json:"post_count"`
	Paired     bool    `json:"paired"`
}

// SkillGap is the average post-assessment score for a skill.
type SkillGap struct {
	Skill    string  `json:"skill"`
	AvgScore float64 `json:"avg_score"`
	Samples  int     `json:"samples"`
}

// HeatmapCell is the normalized average score of a department on a skill.
type HeatmapCell struct {
	Department string  `json:"department"`
	Skill      string  `json:"skill"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
}

// ROI is the pooled improvement from pre to post over paired scenarios.
type ROI struct {
	PreAvg          float64 `json:"pre_avg"`
	PostAvg         float64 `json:"post_avg"`
	Percent         float64 `json:"percent"`
	PairedScenarios int     `json:"paired_scenarios"`
}

// Completion summarizes how many sessions were finished.
type Completion struct {
	model.SessionCounts
	Rate float64 `json:"rate"`
}

// Overview bundles every report.
type Overview struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	TotalRecords int             `json:"total_records"`
	PrePost      []ScenarioDelta `json:"pre_post"`
	SkillsGap    []SkillGap      `json:"skills_gap"`
	Heatmap      []HeatmapCell   `json:"heatmap"`
	ROI          ROI             `json:"roi"`
	Completion   Completion      `json:"completion"`
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v int) {
	m.sum += float64(v)
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// SkillOf returns the record's skill tag, falling back to the scenario title.
func SkillOf(f model.RecordFact) string {
	if f.Record.Skill != "" {
		return f.Record.Skill
	}
	return f.ScenarioTitle
}

// PrePostDeltas groups records by scenario and compares phase averages.
func PrePostDeltas(facts []model.RecordFact) []ScenarioDelta {
	type acc struct {
		title     string
		pre, post mean
	}
	byScenario := make(map[string]*acc)
	for _, f := range facts {
		a, ok := byScenario[f.Record.ScenarioID]
		if !ok {
			a = &acc{title: f.ScenarioTitle}
			byScenario[f.Record.ScenarioID] = a
		}
		switch f.Record.Phase {
		case model.PhasePre:
			a.pre.add(f.Record.Score)
		case model.PhasePost:
			a.post.add(f.Record.Score)
		}
	}

	deltas := make([]ScenarioDelta, 0, len(byScenario))
	for id, a := range byScenario {
		d := ScenarioDelta{
			ScenarioID: id,
			Title:      a.title,
			PreAvg:     a.pre.value(),
			PostAvg:    a.post.value(),
			PreCount:   a.pre.n,
			PostCount:  a.post.n,
			Paired:     a.pre.n > 0 && a.post.n > 0,
		}
		if d.Paired {
			d.Delta = d.PostAvg - d.PreAvg
		}
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ScenarioID < deltas[j].ScenarioID })
	return deltas
}

// SkillsGap averages post scores per skill and returns the lowest limit
// skills, weakest first.
func SkillsGap(facts []model.RecordFact, limit int) []SkillGap {
	bySkill := make(map[string]*mean)
	for _, f := range facts {
		if f.Record.Phase != model.PhasePost {
			continue
		}
		skill := SkillOf(f)
		m, ok := bySkill[skill]
		if !ok {
			m = &mean{}
			bySkill[skill] = m
		}
		m.add(f.Record.Score)
	}

	gaps := make([]SkillGap, 0, len(bySkill))
	for skill, m := range bySkill {
		gaps = append(gaps, SkillGap{Skill: skill, AvgScore: m.value(), Samples: m.n})
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].AvgScore != gaps[j].AvgScore {
			return gaps[i].AvgScore < gaps[j].AvgScore
		}
		return gaps[i].Skill < gaps[j].Skill
	})
	if limit > 0 && len(gaps) > limit {
		gaps = gaps[:limit]
	}
	return gaps
}

// Heatmap averages post scores per department and skill, scaled to 0-1.
func Heatmap(facts []model.RecordFact) []HeatmapCell {
	type key struct{ dept, skill string }
	cells := make(map[key]*mean)
	for _, f := range facts {
		if f.Record.Phase != model.PhasePost {
			continue
		}
		dept := f.Department
		if dept == "" {
			dept = UnassignedDepartment
		}
		k := key{dept, SkillOf(f)}
		m, ok := cells[k]
		if !ok {
			m = &mean{}
			cells[k] = m
		}
		m.add(f.Record.Score)
	}

	out := make([]HeatmapCell, 0, len(cells))
	for k, m := range cells {
		out = append(out, HeatmapCell{
			Department: k.dept,
			Skill:      k.skill,
			Value:      clamp01(m.value() / 100),
			Samples:    m.n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].Skill < out[j].Skill
	})
	return out
}

// TrainingROI pools every pre and post score from scenarios that have both
// phases and returns (post-pre)/pre*100. Percent is 0 when the pre average is 0.
func TrainingROI(facts []model.RecordFact) ROI {
	paired := make(map[string]bool)
	for _, d := range PrePostDeltas(facts) {
		if d.Paired {
			paired[d.ScenarioID] = true
		}
	}

	var pre, post mean
	for _, f := range facts {
		if !paired[f.Record.ScenarioID] {
			continue
		}
		switch f.Record.Phase {
		case model.PhasePre:
			pre.add(f.Record.Score)
		case model.PhasePost:
			post.add(f.Record.Score)
		}
	}

	r := ROI{PreAvg: pre.value(), PostAvg: post.value(), PairedScenarios: len(paired)}
	if r.PreAvg != 0 {
		r.Percent = (r.PostAvg - r.PreAvg) / r.PreAvg * 100
	}
	return r
}

// CompletionRate is completed / (completed + in-progress). Stale sessions
// are left out of the denominator.
func CompletionRate(c model.SessionCounts) float64 {
	denom := c.Completed + c.InProgress
	if denom == 0 {
		return 0
	}
	return float64(c.Completed) / float64(denom)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Source is the read side of the store used for reporting.
type Source interface {
	ListRecordFacts(ctx context.Context) ([]model.RecordFact, error)
	SessionCounts(ctx context.Context, staleBefore time.Time) (model.SessionCounts, error)
}

// Aggregator builds reports from a Source.
type Aggregator struct {
	src        Source
	staleAfter time.Duration
	gapLimit   int
	now        func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithGapLimit sets how many skills the skills-gap report lists.
func WithGapLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.gapLimit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator. In-progress sessions idle for longer
// than staleAfter do not count against the completion rate.
func NewAggregator(src Source, staleAfter time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{src: src, staleAfter: staleAfter, gapLimit: DefaultGapLimit, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Overview computes every report in one pass over the record log.
func (a *Aggregator) Overview(ctx context.Context) (Overview, error) {
	facts, err := a.src.ListRecordFacts(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("load records: %w", err)
	}
	now := a.now().UTC()
	counts, err := a.src.SessionCounts(ctx, now.Add(-a.staleAfter))
	if err != nil {
		return Overview{}, fmt.Errorf("count sessions: %w", err)
	}

	return Overview{
		GeneratedAt:  now,
		TotalRecords: len(facts),
		PrePost:      PrePostDeltas(facts),
		SkillsGap:    SkillsGap(facts, a.gapLimit),
		Heatmap:      Heatmap(facts),
		ROI:          TrainingROI(facts),
		Completion:   Completion{SessionCounts: counts, Rate: CompletionRate(counts)},
	}, nil
}
