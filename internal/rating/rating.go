// Package rating implements the ELO-style skill rating rules together with
// the win-rate, streak and skill-proficiency bookkeeping that accompanies it.
// Every function here is pure.
package rating

import (
	"math"
	"time"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

const (
	// DefaultRating is assigned to newly registered employees.
	DefaultRating = 1000
	// DefaultKFactor is the ELO k-factor used when none is configured.
	DefaultKFactor = 32
	// DefaultPassThreshold is the session score at or above which a session counts as a win.
	DefaultPassThreshold = 70
	// DefaultSmoothing is the EMA weight given to the newest skill observation.
	DefaultSmoothing = 0.1
)

var opponentRatings = map[model.Difficulty]int{
	model.DifficultyEasy:   1000,
	model.DifficultyNormal: 1200,
	model.DifficultyHard:   1500,
}

// ExpectedScore returns the logistic expectation of a player rated a against one rated b.
func ExpectedScore(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// UpdateRating applies one ELO step. outcome is 1 for a win and 0 for a loss.
func UpdateRating(current, opponent int, outcome, kFactor float64) int {
	expected := ExpectedScore(float64(current), float64(opponent))
	return int(math.Round(float64(current) + kFactor*(outcome-expected)))
}

// OpponentRating maps a scenario difficulty to the rating it plays at.
// Unknown difficulties play at Normal.
func OpponentRating(d model.Difficulty) int {
	if r, ok := opponentRatings[d]; ok {
		return r
	}
	return opponentRatings[model.DifficultyNormal]
}

// Outcome converts a session score into an ELO outcome.
func Outcome(score, passThreshold int) float64 {
	if score >= passThreshold {
		return 1
	}
	return 0
}

// UpdateStreak returns the streak after activity on today. lastActivity is the
// most recent activity recorded before this one, or nil if there was none.
// Repeated activity on the same calendar day leaves the streak unchanged.
func UpdateStreak(lastActivity *time.Time, today time.Time, current int) int {
	if lastActivity == nil || current <= 0 {
		return 1
	}
	loc := today.Location()
	last := civilDay(lastActivity.In(loc))
	now := civilDay(today)
	switch {
	case last.Equal(now):
		return current
	case last.AddDate(0, 0, 1).Equal(now):
		return current + 1
	default:
		return 1
	}
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WinRate returns passes/attempts in [0,1], or 0 when there were no attempts.
func WinRate(attempts, passes int) float64 {
	if attempts <= 0 {
		return 0
	}
	return float64(passes) / float64(attempts)
}

// UpdateSkillProficiency blends an observed 0-100 score into the previous
// proficiency using an exponential moving average.
func UpdateSkillProficiency(previous, observed, smoothing float64) float64 {
	return previous*(1-smoothing) + observed*smoothing
}
