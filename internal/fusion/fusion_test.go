package fusion

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

func TestTemporalBinding(t *testing.T) {
	window := 5 * time.Second
	assert.Equal(t, 1.0, TemporalBinding(0, window))
	assert.InDelta(t, math.Exp(-1), TemporalBinding(window, window), 1e-12)
	assert.InDelta(t, 0.37, TemporalBinding(window, window), 0.01)
	assert.Equal(t, TemporalBinding(time.Second, window), TemporalBinding(-time.Second, window))

	prev := TemporalBinding(0, window)
	for dt := 100 * time.Millisecond; dt <= time.Minute; dt += 100 * time.Millisecond {
		cur := TemporalBinding(dt, window)
		require.Less(t, cur, prev, "not strictly decreasing at %v", dt)
		prev = cur
	}
	assert.Less(t, TemporalBinding(time.Minute, window), 1e-5)
	assert.Equal(t, 0.0, TemporalBinding(time.Second, 0))
}

func TestSelectTier(t *testing.T) {
	tests := []struct {
		coherence, lexical float64
		want               model.MergeTier
	}{
		{0.85, 0.7, model.TierBlend},
		{0.6, 0.1, model.TierSequential},
		{0.2, 0.1, model.TierFastOnly},
		{0.85, 0.5, model.TierSequential},
		{0.8, 0.9, model.TierSequential},
		{0.5, 0.9, model.TierFastOnly},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectTier(tt.coherence, tt.lexical), "(%v, %v)", tt.coherence, tt.lexical)
	}
}

func TestMerge(t *testing.T) {
	fast := "the river of memory flows"
	slow := "The river of memory grows and grows deeper"

	blended := Merge(model.TierBlend, fast, slow)
	assert.Equal(t, "the river of memory flows Furthermore, grows and deeper", blended)
	counts := map[string]int{}
	for _, w := range strings.Fields(strings.ToLower(blended)) {
		counts[w]++
	}
	for w, n := range counts {
		assert.Equal(t, 1, n, "token %q duplicated", w)
	}
	assert.Equal(t, fast, Merge(model.TierBlend, fast, "river memory"))

	seq := Merge(model.TierSequential, fast, slow)
	assert.Contains(t, seq, fast)
	assert.Contains(t, seq, slow)
	assert.Contains(t, seq, "Upon deeper reflection: ")
	assert.Equal(t, fast, Merge(model.TierSequential, fast, ""))

	assert.Equal(t, fast, Merge(model.TierFastOnly, fast, slow))
	assert.Equal(t, fast, Merge(model.TierPassthrough, fast, slow))
}

func TestCoherence(t *testing.T) {
	fast := model.FastResult{Keywords: []string{"memory", "river"}}
	slow := model.SlowResult{Concepts: []string{"memory", "rivers", "ocean", "flowing"}, Coherence: 0.8}
	// 2 overlaps over max(2,4)
	assert.InDelta(t, 0.5*0.5+0.5*0.8, Coherence(fast, slow), 1e-9)

	assert.Equal(t, 0.0, Coherence(model.FastResult{}, model.SlowResult{Error: "boom"}))
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestFuse_Tiers(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(Config{}, WithClock(fixedClock(base)))

	fast := model.FastResult{
		Response:  "memory is like a river",
		Keywords:  []string{"memory", "river"},
		Timestamp: base,
	}

	blend := c.Fuse(fast, model.SlowResult{
		Insight:   "memory is like a river that flows",
		Concepts:  []string{"memory", "river"},
		Coherence: 0.9,
		Timestamp: base,
	}, "what is memory?")
	assert.Equal(t, model.TierBlend, blend.Tier)
	assert.Equal(t, "memory is like a river Furthermore, that flows", blend.Merged)
	assert.Equal(t, 1.0, blend.TemporalBinding)

	seq := c.Fuse(fast, model.SlowResult{
		Insight:   "Abstract patterns recognized",
		Concepts:  []string{"memory"},
		Coherence: 0.9,
		Timestamp: base.Add(5 * time.Second),
	}, "what is memory?")
	assert.Equal(t, model.TierSequential, seq.Tier)
	assert.Contains(t, seq.Merged, "Upon deeper reflection: Abstract patterns recognized")
	assert.InDelta(t, math.Exp(-1), seq.TemporalBinding, 1e-9)

	low := c.Fuse(fast, model.SlowResult{
		Insight:   "unrelated",
		Coherence: 0.1,
		Timestamp: base,
	}, "what is memory?")
	assert.Equal(t, model.TierFastOnly, low.Tier)
	assert.Equal(t, fast.Response, low.Merged)
	assert.Equal(t, PerspectiveNote, low.Note)

	degraded := c.Fuse(fast, model.SlowResult{
		Insight: "Deep processing encountered an issue",
		Error:   "boom",
	}, "what is memory?")
	assert.Equal(t, model.TierFastOnly, degraded.Tier)
	assert.Equal(t, fast.Response, degraded.Merged)
	assert.Empty(t, degraded.Note)
}

func TestFuse_Placeholder(t *testing.T) {
	c := New(Config{})
	fast := model.FastResult{Response: "I understand. Tell me more...", Timestamp: time.Now()}
	rec := c.Fuse(fast, model.SlowResult{Skipped: true}, "hello")
	assert.Equal(t, model.TierPassthrough, rec.Tier)
	assert.Equal(t, fast.Response, rec.Merged)
	assert.Empty(t, rec.Note)
}

func TestFuse_BufferAndEvents(t *testing.T) {
	var got []events.Event
	c := New(Config{}, WithSink(func(e events.Event) { got = append(got, e) }))
	rec := c.Fuse(model.FastResult{Response: "hi"}, model.SlowResult{Skipped: true}, "hi")

	stored, ok := c.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, rec.Merged, stored.Merged)
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get("missing")
	assert.False(t, ok)

	require.Len(t, got, 1)
	assert.Equal(t, events.FusionCompleted, got[0].Kind)
	assert.Equal(t, []string{rec.ID}, got[0].IDs)
}

func TestFuse_Expiry(t *testing.T) {
	c := New(Config{Window: 5 * time.Millisecond})
	rec := c.Fuse(model.FastResult{Response: "hi"}, model.SlowResult{Skipped: true}, "hi")
	require.Eventually(t, func() bool {
		_, ok := c.Get(rec.ID)
		return !ok
	}, time.Second, 2*time.Millisecond)
	assert.Empty(t, c.Nearby(time.Now()))
}

func TestNearby(t *testing.T) {
	base := time.Now()
	now := base
	c := New(Config{Window: time.Minute}, WithClock(func() time.Time { return now }))

	older := c.Fuse(model.FastResult{Response: "a"}, model.SlowResult{Skipped: true}, "a")
	now = base.Add(30 * time.Second)
	newer := c.Fuse(model.FastResult{Response: "b"}, model.SlowResult{Skipped: true}, "b")

	near := c.Nearby(base.Add(30 * time.Second))
	require.Len(t, near, 2)
	assert.Equal(t, newer.ID, near[0].Record.ID)
	assert.Equal(t, 1.0, near[0].Weight)
	assert.Equal(t, older.ID, near[1].Record.ID)
	assert.InDelta(t, math.Exp(-0.5), near[1].Weight, 1e-9)
}
