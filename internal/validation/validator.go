// Package validation decides whether a submitted answer matches any accepted reference.
package validation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"quiz-room-service/internal/domain"
)

const (
	DefaultFuzzyThreshold    = 85.0
	DefaultSemanticThreshold = 0.75
)

// Result reports the decision, a confidence in [0,1] and the method that decided.
type Result struct {
	Accepted   bool
	Confidence float64
	Method     domain.ValidationMode
}

// Strategy is one matching method.
type Strategy interface {
	Mode() domain.ValidationMode
	Match(ctx context.Context, answer string, references []string) Result
}

// Options configures thresholds and the default mode for short answers.
type Options struct {
	ShortAnswerMode   domain.ValidationMode
	FuzzyThreshold    float64 // 0-100 ratio
	SemanticThreshold float64 // cosine similarity
}

// Validator selects a strategy per question and runs the hybrid chain.
type Validator struct {
	opts       Options
	strategies map[domain.ValidationMode]Strategy
	chain      []Strategy
}

// New builds a validator. A nil embedder disables the semantic strategy, which then
// rejects everything with zero confidence.
func New(opts Options, embedder Embedder, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = DefaultSemanticThreshold
	}
	if !opts.ShortAnswerMode.Valid() {
		opts.ShortAnswerMode = domain.ValidationFuzzy
		if embedder != nil {
			opts.ShortAnswerMode = domain.ValidationHybrid
		}
	}

	exact := ExactStrategy{}
	fuzzy := FuzzyStrategy{Threshold: opts.FuzzyThreshold}
	semantic := &SemanticStrategy{Embedder: embedder, Threshold: opts.SemanticThreshold, logger: logger}

	return &Validator{
		opts: opts,
		strategies: map[domain.ValidationMode]Strategy{
			domain.ValidationExact:    exact,
			domain.ValidationFuzzy:    fuzzy,
			domain.ValidationSemantic: semantic,
		},
		chain: []Strategy{exact, fuzzy, semantic},
	}
}

// ModeFor resolves the validation mode of a question. An explicit valid override wins;
// multiple choice is exact; short answers use the configured mode.
func (v *Validator) ModeFor(qt domain.QuestionType, override domain.ValidationMode) domain.ValidationMode {
	if override.Valid() {
		return override
	}
	if qt == domain.QuestionMultipleChoice {
		return domain.ValidationExact
	}
	return v.opts.ShortAnswerMode
}

// Validate checks answer against references using mode. Unknown modes fall back to exact.
func (v *Validator) Validate(ctx context.Context, answer string, references []string, mode domain.ValidationMode) Result {
	if len(references) == 0 {
		return Result{Method: mode}
	}
	if mode == domain.ValidationHybrid {
		return v.hybrid(ctx, answer, references)
	}
	strategy, ok := v.strategies[mode]
	if !ok {
		strategy = v.strategies[domain.ValidationExact]
	}
	return strategy.Match(ctx, answer, references)
}

// hybrid tries cheaper strategies first and stops at the first accept.
func (v *Validator) hybrid(ctx context.Context, answer string, references []string) Result {
	var best Result
	for _, strategy := range v.chain {
		res := strategy.Match(ctx, answer, references)
		if res.Accepted {
			return res
		}
		if res.Confidence > best.Confidence {
			best.Confidence = res.Confidence
		}
		best.Method = res.Method
	}
	return best
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExactStrategy accepts a trimmed, case-insensitive equal reference.
type ExactStrategy struct{}

func (ExactStrategy) Mode() domain.ValidationMode { return domain.ValidationExact }

func (ExactStrategy) Match(_ context.Context, answer string, references []string) Result {
	got := normalize(answer)
	for _, ref := range references {
		if got == normalize(ref) {
			return Result{Accepted: true, Confidence: 1, Method: domain.ValidationExact}
		}
	}
	return Result{Method: domain.ValidationExact}
}
