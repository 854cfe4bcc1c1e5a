package fusion

import (
	"math"
	"strings"
	"time"

	"github.com/rcliao/stream-fusion/internal/embedding"
	"github.com/rcliao/stream-fusion/internal/model"
)

const (
	blendSeparator      = " Furthermore, "
	sequentialSeparator = "\n\nUpon deeper reflection: "

	// PerspectiveNote annotates a fast-only merge when the slow path ran.
	PerspectiveNote = "Deep processing revealed additional perspectives"
)

// TemporalBinding is exp(-|dt|/window): 1 at dt=0, 1/e at dt=window.
// A non-positive window binds nothing.
func TemporalBinding(dt, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	if dt < 0 {
		dt = -dt
	}
	return math.Exp(-float64(dt) / float64(window))
}

// LexicalSimilarity is the Jaccard similarity of the two texts' lowercase
// whitespace tokens.
func LexicalSimilarity(a, b string) float64 {
	return embedding.Jaccard(a, b)
}

// Coherence blends keyword/concept overlap with the slow path's own
// coherence, 50/50. A fast keyword overlaps when some slow concept contains
// it.
func Coherence(fast model.FastResult, slow model.SlowResult) float64 {
	overlap := 0
	for _, k := range fast.Keywords {
		for _, c := range slow.Concepts {
			if strings.Contains(strings.ToLower(c), strings.ToLower(k)) {
				overlap++
				break
			}
		}
	}
	denom := len(fast.Keywords)
	if len(slow.Concepts) > denom {
		denom = len(slow.Concepts)
	}
	if denom == 0 {
		denom = 1
	}
	c := 0.5*float64(overlap)/float64(denom) + 0.5*slow.Coherence
	return math.Max(0, math.Min(1, c))
}

// Policy holds the tier thresholds.
type Policy struct {
	BlendCoherence      float64
	BlendSimilarity     float64
	SequentialCoherence float64
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{BlendCoherence: 0.8, BlendSimilarity: 0.6, SequentialCoherence: 0.5}
}

// Select evaluates the tiers top-down; the first match wins.
func (p Policy) Select(coherence, lexical float64) model.MergeTier {
	switch {
	case coherence > p.BlendCoherence && lexical > p.BlendSimilarity:
		return model.TierBlend
	case coherence > p.SequentialCoherence:
		return model.TierSequential
	default:
		return model.TierFastOnly
	}
}

// SelectTier applies DefaultPolicy.
func SelectTier(coherence, lexical float64) model.MergeTier {
	return DefaultPolicy().Select(coherence, lexical)
}

// Merge builds the merged text for a tier. Blend appends only slow words
// not already present in the fast text, each once. Sequential appends the
// whole slow text. Every other tier returns the fast text unchanged.
func Merge(tier model.MergeTier, fast, slow string) string {
	switch tier {
	case model.TierBlend:
		seen := make(map[string]bool)
		for _, w := range embedding.Tokenize(fast) {
			seen[w] = true
		}
		var extra []string
		for _, w := range strings.Fields(slow) {
			lw := strings.ToLower(w)
			if seen[lw] {
				continue
			}
			seen[lw] = true
			extra = append(extra, w)
		}
		if len(extra) == 0 {
			return fast
		}
		return fast + blendSeparator + strings.Join(extra, " ")
	case model.TierSequential:
		if strings.TrimSpace(slow) == "" {
			return fast
		}
		return fast + sequentialSeparator + slow
	default:
		return fast
	}
}
