package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestSineResonance_RangeAndDeterminism(t *testing.T) {
	s := SineResonance{}
	inputs := []struct {
		content string
		ctx     map[string]any
	}{
		{"", nil},
		{"one two three", nil},
		{"one two three", map[string]any{"importance": 0.9, "label": "x"}},
		{"a much longer piece of content with many many words in it", map[string]any{"n": 42}},
	}
	for _, in := range inputs {
		got := s.Score(in.content, in.ctx)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
		assert.Equal(t, got, s.Score(in.content, in.ctx))
	}
	// string context values are ignored
	assert.Equal(t, s.Score("a b", nil), s.Score("a b", map[string]any{"label": "x"}))
}

func TestOverlapCoherence(t *testing.T) {
	c := DefaultCoherence()
	assert.InDelta(t, 1.0, c.Score("same words", map[string]any{"previous": "same words"}), 1e-9)
	assert.InDelta(t, 0.8, c.Score("other", map[string]any{"previous": "different"}), 1e-9)
	assert.InDelta(t, 1.0, c.Score("first stage", nil), 1e-9)
}
