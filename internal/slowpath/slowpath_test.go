package slowpath

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/model"
	"github.com/rcliao/stream-fusion/internal/scoring"
)

func TestConverged(t *testing.T) {
	seq := []float64{0.3, 0.4, 0.5, 0.88, 0.89, 0.90, 0.91}
	stopAt := -1
	for i := range seq {
		if Converged(seq, i, 0.01, 0.85) {
			stopAt = i
			break
		}
	}
	assert.Equal(t, 5, stopAt)

	assert.False(t, Converged([]float64{0.9, 0.9}, 1, 0.01, 0.85), "needs three stages")
	assert.False(t, Converged([]float64{0.5, 0.5, 0.5}, 2, 0.01, 0.85), "low coherence")
	assert.True(t, Converged([]float64{0.9, 0.9, 0.9}, 2, 0.01, 0.85))
	assert.False(t, Converged([]float64{0.9}, 5, 0.01, 0.85))
}

func TestGlobalCoherence(t *testing.T) {
	assert.Equal(t, 0.0, GlobalCoherence(nil))
	assert.InDelta(t, 0.7, GlobalCoherence([]float64{0.7, 0.7, 0.7}), 1e-9)
	// later stages weigh more
	assert.Greater(t, GlobalCoherence([]float64{0.0, 1.0}), 0.5)
}

func sequenceScorer(seq []float64) scoring.Scorer {
	return scoring.ScorerFunc(func(_ string, ctx map[string]any) float64 {
		return seq[cast.ToInt(ctx["index"])]
	})
}

func TestProcessor_EarlyExit(t *testing.T) {
	seq := []float64{0.3, 0.4, 0.5, 0.88, 0.89, 0.90, 0.91}
	p := New(Config{}, nil, WithCoherenceScorer(sequenceScorer(seq)))
	defer p.Close()

	res := p.Submit(context.Background(), "what is the meaning of all this?", nil)
	require.Empty(t, res.Error)
	assert.True(t, res.Converged)
	assert.Equal(t, 6, res.Depth)
	require.Len(t, res.Stages, 6)
	assert.Equal(t, StageEmergent, res.Stages[5].Stage)
	assert.Equal(t, StateConverged, p.State())
}

func TestProcessor_FullDepth(t *testing.T) {
	seq := []float64{0.3, 0.9, 0.3, 0.9, 0.3, 0.9, 0.3}
	p := New(Config{}, nil, WithCoherenceScorer(sequenceScorer(seq)))
	defer p.Close()

	res := p.Submit(context.Background(), "a plain statement", nil)
	assert.False(t, res.Converged)
	assert.Equal(t, 7, res.Depth)
	assert.Equal(t, StateCompleted, p.State())
	require.Len(t, res.Insights, 3)
	assert.Equal(t, "Abstract patterns recognized (stage 2, coherence 0.90).", res.Insight)
	for i, st := range res.Stages {
		assert.Len(t, st.Summaries, i+1, "summaries are append-only")
	}
}

func TestProcessor_DefaultStages(t *testing.T) {
	store := memory.New(memory.Config{})
	p := New(Config{}, store)
	defer p.Close()

	res := p.Submit(context.Background(), "Consciousness and awareness shape how memories evolve", map[string]any{"user": "u1"})
	require.Empty(t, res.Error)
	assert.GreaterOrEqual(t, res.Depth, 3)
	assert.Contains(t, res.Concepts, "consciousness")
	assert.Contains(t, res.Concepts, "awareness")
	assert.GreaterOrEqual(t, res.Coherence, 0.0)
	assert.LessOrEqual(t, res.Coherence, 1.0)
	require.NotEmpty(t, res.MemoryID)

	item, ok := store.Get(res.MemoryID)
	require.True(t, ok)
	assert.Equal(t, "u1", item.Context["user"])
	assert.Equal(t, "slow_path", item.Context["source"])
	assert.GreaterOrEqual(t, item.Importance, 0.0)
	assert.LessOrEqual(t, item.Importance, 1.0)
	assert.Equal(t, res.Stages[len(res.Stages)-1].Content, item.Content)
}

func TestProcessor_RelatedMemories(t *testing.T) {
	store := memory.New(memory.Config{}, memory.WithResonanceScorer(scoring.Constant(0.5)))
	p := New(Config{}, store)
	defer p.Close()

	p.Submit(context.Background(), "first thought about rivers", nil)
	res := p.Submit(context.Background(), "second thought about oceans", nil)
	assert.Contains(t, res.Insight, "This resonates with 1 related memories.")
}

func TestProcessor_NoInterleaving(t *testing.T) {
	slow := func(ctx context.Context, prev model.StageResult) (Output, error) {
		time.Sleep(2 * time.Millisecond)
		return Output{Content: prev.Content + " x"}, nil
	}
	stages := []Stage{{"a", slow}, {"b", slow}, {"c", slow}}
	p := New(Config{}, nil, WithStages(stages), WithCoherenceScorer(scoring.Constant(0.5)))
	defer p.Close()

	results := make([]model.SlowResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Submit(context.Background(), "input", nil)
		}(i)
	}
	wg.Wait()

	first, second := results[0], results[1]
	require.Len(t, first.Stages, 3)
	require.Len(t, second.Stages, 3)
	if second.Stages[0].StartedAt.Before(first.Stages[0].StartedAt) {
		first, second = second, first
	}
	lastOfFirst := first.Stages[len(first.Stages)-1].FinishedAt
	assert.False(t, second.Stages[0].StartedAt.Before(lastOfFirst), "stage transitions interleaved")
}

// gatedStages blocks the first stage of the input "gate" until release is
// closed and records the order inputs reach the first stage.
func gatedStages(started chan<- string, release <-chan struct{}) []Stage {
	first := func(ctx context.Context, prev model.StageResult) (Output, error) {
		started <- prev.Content
		if prev.Content == "gate" {
			<-release
		}
		return Output{Content: prev.Content}, nil
	}
	return []Stage{{"first", first}}
}

func TestProcessor_FIFO(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	p := New(Config{}, nil, WithStages(gatedStages(started, release)))
	defer p.Close()

	var wg sync.WaitGroup
	submit := func(in string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(context.Background(), in, nil)
		}()
	}

	submit("gate")
	require.Equal(t, "gate", <-started)
	for i, in := range []string{"one", "two", "three"} {
		submit(in)
		want := i + 1
		require.Eventually(t, func() bool { return p.QueueDepth() == want }, time.Second, time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, "one", <-started)
	assert.Equal(t, "two", <-started)
	assert.Equal(t, "three", <-started)
}

func TestProcessor_CancelledWhileQueued(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	p := New(Config{}, nil, WithStages(gatedStages(started, release)))
	defer p.Close()

	go p.Submit(context.Background(), "gate", nil)
	require.Equal(t, "gate", <-started)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan model.SlowResult, 1)
	go func() { done <- p.Submit(ctx, "abandoned", nil) }()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-done
	assert.True(t, res.Degraded())
	assert.Equal(t, DegradedInsight, res.Insight)

	close(release)
	after := p.Submit(context.Background(), "next", nil)
	assert.False(t, after.Degraded())
	assert.Equal(t, "next", <-started)
}

func TestProcessor_StageError(t *testing.T) {
	boom := func(context.Context, model.StageResult) (Output, error) {
		return Output{}, errors.New("boom")
	}
	ok := func(_ context.Context, prev model.StageResult) (Output, error) {
		return Output{Content: prev.Content}, nil
	}
	p := New(Config{}, nil, WithStages([]Stage{{"ok", ok}, {"boom", boom}}))
	defer p.Close()

	res := p.Submit(context.Background(), "input", nil)
	assert.True(t, res.Degraded())
	assert.Equal(t, DegradedInsight, res.Insight)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, StateFailed, p.State())
}

func TestProcessor_StagePanic(t *testing.T) {
	panicky := func(context.Context, model.StageResult) (Output, error) {
		panic("stage exploded")
	}
	p := New(Config{}, nil, WithStages([]Stage{{"panicky", panicky}}))
	defer p.Close()

	res := p.Submit(context.Background(), "input", nil)
	assert.True(t, res.Degraded())
	assert.Contains(t, res.Error, "panicked")

	// the worker survives
	p2 := p.Submit(context.Background(), "again", nil)
	assert.True(t, p2.Degraded())
}

func TestProcessor_Timeout(t *testing.T) {
	var calls int
	var mu sync.Mutex
	stuck := func(ctx context.Context, prev model.StageResult) (Output, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-ctx.Done()
			return Output{}, ctx.Err()
		}
		return Output{Content: prev.Content}, nil
	}
	p := New(Config{ItemTimeout: 20 * time.Millisecond}, nil, WithStages([]Stage{{"stuck", stuck}}))
	defer p.Close()

	res := p.Submit(context.Background(), "hangs", nil)
	assert.True(t, res.Degraded())
	assert.Contains(t, res.Error, ErrTimeout.Error())

	next := p.Submit(context.Background(), "fine", nil)
	assert.False(t, next.Degraded())
}

func TestProcessor_EmptyInput(t *testing.T) {
	p := New(Config{}, nil)
	defer p.Close()
	res := p.Submit(context.Background(), "   ", nil)
	assert.Equal(t, ErrEmptyInput.Error(), res.Error)
	assert.Equal(t, DegradedInsight, res.Insight)
}

func TestProcessor_Close(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	p := New(Config{}, nil, WithStages(gatedStages(started, release)))

	go p.Submit(context.Background(), "gate", nil)
	require.Equal(t, "gate", <-started)

	queued := make(chan model.SlowResult, 1)
	go func() { queued <- p.Submit(context.Background(), "queued", nil) }()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	res := <-queued
	assert.Equal(t, ErrClosed.Error(), res.Error)

	close(release)
	<-closed
	after := p.Submit(context.Background(), "late", nil)
	assert.Equal(t, ErrClosed.Error(), after.Error)
}

func TestProcessor_EmitsCompleted(t *testing.T) {
	var mu sync.Mutex
	var kinds []events.Kind
	sink := func(e events.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}
	p := New(Config{}, memory.New(memory.Config{}), WithSink(sink))
	defer p.Close()

	p.Submit(context.Background(), "an input worth thinking about", nil)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Kind{events.SlowCompleted}, kinds)
}

func TestExtractConceptsAndTense(t *testing.T) {
	assert.Equal(t, []string{"memory", "rivers", "flowing"}, extractConcepts("Memory, rivers and flowing memory."))
	assert.Equal(t, "future", tense("I will go"))
	assert.Equal(t, "past", tense("it was fine"))
	assert.Equal(t, "present", tense("it is fine"))
}

func TestProcessor_TimeoutKeepsSingleFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	sleepy := func(ctx context.Context, prev model.StageResult) (Output, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return Output{Content: prev.Content}, nil
	}
	p := New(Config{ItemTimeout: 10 * time.Millisecond}, nil, WithStages([]Stage{{"sleepy", sleepy}}))

	first := p.Submit(context.Background(), "one", nil)
	assert.Contains(t, first.Error, ErrTimeout.Error())
	second := p.Submit(context.Background(), "two", nil)
	assert.Contains(t, second.Error, ErrTimeout.Error())

	p.Close()
	assert.Equal(t, int32(1), maxInFlight.Load())
}
