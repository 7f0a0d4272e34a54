package validation

import (
	"context"
	"math"

	"go.uber.org/zap"

	"quiz-room-service/internal/domain"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticStrategy accepts references whose embedding cosine similarity reaches Threshold.
type SemanticStrategy struct {
	Embedder  Embedder
	Threshold float64
	logger    *zap.Logger
}

func (*SemanticStrategy) Mode() domain.ValidationMode { return domain.ValidationSemantic }

func (s *SemanticStrategy) Match(ctx context.Context, answer string, references []string) Result {
	miss := Result{Method: domain.ValidationSemantic}
	if s.Embedder == nil {
		return miss
	}
	got, err := s.Embedder.Embed(ctx, normalize(answer))
	if err != nil {
		s.warn("embed answer failed", err)
		return miss
	}

	best := 0.0
	for _, ref := range references {
		want, err := s.Embedder.Embed(ctx, normalize(ref))
		if err != nil {
			s.warn("embed reference failed", err)
			continue
		}
		sim := clampUnit(CosineSimilarity(got, want))
		if sim > best {
			best = sim
		}
		if sim >= s.Threshold {
			return Result{Accepted: true, Confidence: sim, Method: domain.ValidationSemantic}
		}
	}
	miss.Confidence = best
	return miss
}

func (s *SemanticStrategy) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, zap.Error(err))
	}
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 for empty, zero or mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
