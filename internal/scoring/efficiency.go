// Package scoring computes the efficiency score of a finalized session.
package scoring

import (
	"math"
	"time"

	"github.com/ashureev/coordsim/internal/domain"
)

const (
	base               = 100.0
	gracePeriod        = 2 * time.Minute
	penaltyPerMinute   = 5.0
	successBonus       = 10.0
	penaltyPerError    = 10.0
	communicationBonus = 10.0
	maxBonusMessages   = 15
)

// Input is the subset of a session the score depends on.
type Input struct {
	Duration          time.Duration
	Outcome           domain.Outcome
	Errors            int
	MessagesExchanged int
}

// FromSession extracts the scoring input of a finalized session.
func FromSession(s *domain.Session) Input {
	var d time.Duration
	if s.EndedAt != nil {
		d = s.EndedAt.Sub(s.StartedAt)
	}
	return Input{
		Duration:          d,
		Outcome:           s.Outcome,
		Errors:            s.Counters.Errors,
		MessagesExchanged: s.Counters.MessagesExchanged,
	}
}

// Efficiency returns a score in [0, 100]. It is pure: equal inputs always
// give equal scores.
func Efficiency(in Input) int {
	score := base

	if in.Duration > gracePeriod {
		overMinutes := math.Floor((in.Duration - gracePeriod).Minutes())
		score -= overMinutes * penaltyPerMinute
	}
	if in.Outcome == domain.OutcomeSuccess {
		score += successBonus
	}
	score -= float64(in.Errors) * penaltyPerError
	if in.MessagesExchanged >= 1 && in.MessagesExchanged < maxBonusMessages {
		score += communicationBonus
	}

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// ForSession scores a finalized session.
func ForSession(s *domain.Session) int {
	return Efficiency(FromSession(s))
}
