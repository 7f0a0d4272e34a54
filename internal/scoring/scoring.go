// Package scoring computes points for correct answers from response time and streak.
package scoring

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxStreakBonusSteps caps the streak multiplier at 1.5.
	MaxStreakBonusSteps = 5
)

var (
	two    = decimal.NewFromInt(2)
	ten    = decimal.NewFromInt(10)
	twenty = decimal.NewFromInt(20)
)

// Points returns round(maxPoints * timeBonus * streakMultiplier) where
//
//	timeBonus        = 1 - 0.5 * responseTime/timeLimit, responseTime clamped to [0, timeLimit]
//	streakMultiplier = 1 + 0.1 * min(streak, 5)
//
// streak is the run of consecutive correct answers before this one. The product is
// evaluated exactly and ties round to even, so 412.5 yields 412. A non-positive
// timeLimit grants the full time bonus.
func Points(maxPoints int, responseTime, timeLimit time.Duration, streak int) int {
	if maxPoints <= 0 {
		return 0
	}
	if streak < 0 {
		streak = 0
	}
	if streak > MaxStreakBonusSteps {
		streak = MaxStreakBonusSteps
	}

	limit := timeLimit.Milliseconds()
	if limit <= 0 {
		full := decimal.NewFromInt(int64(maxPoints)).Mul(decimal.NewFromInt(int64(10 + streak)))
		return capped(maxPoints, int(full.Div(ten).RoundBank(0).IntPart()))
	}
	elapsed := clamp(responseTime.Milliseconds(), 0, limit)

	// maxPoints * (2*limit - elapsed)/(2*limit) * (10 + streak)/10
	num := decimal.NewFromInt(int64(maxPoints)).
		Mul(decimal.NewFromInt(limit).Mul(two).Sub(decimal.NewFromInt(elapsed))).
		Mul(decimal.NewFromInt(int64(10 + streak)))
	den := decimal.NewFromInt(limit).Mul(twenty)
	return capped(maxPoints, int(num.Div(den).RoundBank(0).IntPart()))
}

// capped keeps rounding from lifting tiny point values above 1.5x.
func capped(maxPoints, points int) int {
	if ceiling := maxPoints * 3 / 2; points > ceiling {
		return ceiling
	}
	return points
}

// Outcome is the scoring result for one validated answer.
type Outcome struct {
	Points int
	Streak int
}

// Apply scores an answer given the participant's streak before it. Incorrect
// answers earn nothing and reset the streak.
func Apply(correct bool, maxPoints int, responseTime, timeLimit time.Duration, streak int) Outcome {
	if !correct {
		return Outcome{}
	}
	return Outcome{
		Points: Points(maxPoints, responseTime, timeLimit, streak),
		Streak: streak + 1,
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
