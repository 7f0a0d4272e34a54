package validation

import (
	"context"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"quiz-room-service/internal/domain"
)

// FuzzyStrategy accepts references whose indel similarity ratio reaches Threshold (0-100).
type FuzzyStrategy struct {
	Threshold float64
}

func (FuzzyStrategy) Mode() domain.ValidationMode { return domain.ValidationFuzzy }

func (f FuzzyStrategy) Match(_ context.Context, answer string, references []string) Result {
	got := normalize(answer)
	best := 0.0
	for _, ref := range references {
		ratio := Ratio(got, normalize(ref))
		if ratio > best {
			best = ratio
		}
		if ratio >= f.Threshold {
			return Result{Accepted: true, Confidence: ratio / 100, Method: domain.ValidationFuzzy}
		}
	}
	return Result{Confidence: best / 100, Method: domain.ValidationFuzzy}
}

// Ratio returns 100 * 2*LCS(a,b) / (len(a)+len(b)) over runes; two empty strings match fully.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(2*edlib.LCS(a, b)) / float64(total)
}
