// Package scoring holds the replaceable numeric heuristics used across the
// pipeline. Every strategy maps content plus context to a value in [0,1] and
// callers clamp the result.
package scoring

import (
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/rcliao/stream-fusion/internal/embedding"
)

// Scorer maps content and its context to a value in [0,1].
type Scorer interface {
	Score(content string, context map[string]any) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(content string, context map[string]any) float64

func (f ScorerFunc) Score(content string, context map[string]any) float64 {
	return f(content, context)
}

// Clamp01 bounds x to [0,1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Constant returns a scorer that always yields v.
func Constant(v float64) Scorer {
	return ScorerFunc(func(string, map[string]any) float64 { return v })
}

// SineResonance derives a frequency from word count and numeric context
// values and folds it into [0,1] with a sine.
type SineResonance struct{}

func (SineResonance) Score(content string, context map[string]any) float64 {
	freq := float64(len(strings.Fields(content))) * 0.01
	for _, v := range context {
		switch v.(type) {
		case int, int32, int64, float32, float64:
			freq += cast.ToFloat64(v) * 0.1
		}
	}
	return (math.Sin(freq) + 1) / 2
}

// OverlapCoherence scores a stage by how much of the previous stage's
// content survives into the current one: base + span*jaccard.
type OverlapCoherence struct {
	Base float64
	Span float64
}

// DefaultCoherence mirrors the 0.8..1.0 band stage coherences live in.
func DefaultCoherence() OverlapCoherence {
	return OverlapCoherence{Base: 0.8, Span: 0.2}
}

// Score expects the previous stage's content under context["previous"].
func (c OverlapCoherence) Score(content string, context map[string]any) float64 {
	prev := cast.ToString(context["previous"])
	if prev == "" {
		return Clamp01(c.Base + c.Span)
	}
	return Clamp01(c.Base + c.Span*embedding.Jaccard(prev, content))
}
