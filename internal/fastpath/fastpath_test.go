package fastpath

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		input string
		want  model.Intent
	}{
		{"this is urgent, what do I do?", model.IntentUrgent},
		{"what time is it?", model.IntentQuestion},
		{"could you please look at this?", model.IntentQuestion},
		{"please review my notes", model.IntentRequest},
		{"would you send the report", model.IntentRequest},
		{"please, thank you", model.IntentRequest},
		{"thanks a lot", model.IntentGratitude},
		{"I appreciate it", model.IntentGratitude},
		{"the sky is blue", model.IntentStatement},
		{"can you help me with this", model.IntentStatement},
		{"CRITICAL failure in production", model.IntentUrgent},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.input))
		})
	}
}

func TestUrgency(t *testing.T) {
	assert.Equal(t, 0.0, Urgency("nothing pressing"))
	assert.Equal(t, 0.5, Urgency("this is urgent"))
	assert.Equal(t, 1.0, Urgency("urgent emergency, act immediately"))
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, 0.0, Sentiment(""))
	assert.InDelta(t, 0.5, Sentiment("great day"), 1e-9)
	assert.InDelta(t, -1.0, Sentiment("terrible, sad!"), 1e-9)
	assert.InDelta(t, 0.0, Sentiment("good and bad"), 1e-9)
	for _, in := range []string{"happy happy happy", "angry angry", "a b c d"} {
		s := Sentiment(in)
		assert.GreaterOrEqual(t, s, -1.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("The Quick brown foxes, quick! Jumped over there.")
	assert.Equal(t, []string{"quick", "brown", "foxes", "jumped"}, got)
	assert.Empty(t, Keywords("a an the"))
}

func TestProcess(t *testing.T) {
	p := New(Config{})

	tests := []struct {
		name   string
		input  string
		intent model.Intent
		resp   string
	}{
		{"question", "How does memory work?", model.IntentQuestion, "That's an interesting question. Let me think..."},
		{"gratitude", "thank you", model.IntentGratitude, "You're welcome! Happy to help."},
		{"statement", "I went for a walk", model.IntentStatement, "I understand. Tell me more..."},
		{"urgent", "urgent emergency in the lab", model.IntentUrgent, "I understand this is urgent. I'm giving this my immediate attention."},
		{"empathetic", "sad terrible", model.IntentStatement, "I sense your concern. I hear what you're expressing."},
		{"complex", "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone", model.IntentStatement, "This is a complex topic. Let me break it down..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := p.Process(tt.input)
			assert.Equal(t, tt.intent, r.Intent)
			assert.Equal(t, tt.resp, r.Response)
			assert.Equal(t, tt.input, r.Input)
			assert.GreaterOrEqual(t, r.LatencyMs, 0.0)
			assert.False(t, r.Timestamp.IsZero())
		})
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	p := New(Config{})
	for _, in := range []string{"", "   ", "\n\t"} {
		r := p.Process(in)
		assert.Equal(t, InvalidInputResponse, r.Response)
		assert.Equal(t, model.IntentStatement, r.Intent)
		assert.NotNil(t, r.Keywords)
	}
	assert.Equal(t, 0, p.BufferLen())
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	p := New(Config{BufferSize: 3, BatchSize: 10})
	for _, in := range []string{"first?", "second?", "thanks", "hello there", "please go"} {
		p.Process(in)
	}
	assert.Equal(t, 3, p.BufferLen())

	s, ok := p.Aggregate()
	require.True(t, ok)
	assert.Equal(t, 3, s.Count)
	// both questions were overwritten; the remaining one-each tie goes to request
	assert.Equal(t, model.IntentRequest, s.DominantIntent)
	assert.Equal(t, 0, p.BufferLen())
}

func TestAggregate(t *testing.T) {
	var mu sync.Mutex
	var got []events.Event
	sink := func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}
	p := New(Config{BatchSize: 2}, WithSink(sink))

	_, ok := p.Aggregate()
	assert.False(t, ok)
	_, ok = p.LastSummary()
	assert.False(t, ok)

	p.Process("great memory question?")
	p.Process("another memory question?")
	p.Process("the weather")

	s, ok := p.Aggregate()
	require.True(t, ok)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, model.IntentQuestion, s.DominantIntent)
	assert.InDelta(t, 1.0/6, s.AverageSentiment, 1e-9)
	assert.Equal(t, 2, s.KeywordFrequency["memory"])
	assert.Equal(t, 1, p.BufferLen())

	last, ok := p.LastSummary()
	require.True(t, ok)
	assert.Equal(t, s.Count, last.Count)

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, events.FastBatch, got[0].Kind)
	assert.Equal(t, 2, got[0].Count)
	mu.Unlock()
}

func TestSummarize_TieUsesPrecedence(t *testing.T) {
	batch := []model.FastResult{
		{Intent: model.IntentStatement},
		{Intent: model.IntentGratitude},
	}
	s := summarize(batch, time.Now())
	assert.Equal(t, model.IntentGratitude, s.DominantIntent)
}

func TestRun_DrainsBuffer(t *testing.T) {
	p := New(Config{AggregateInterval: time.Millisecond})
	for i := 0; i < 25; i++ {
		p.Process("steady stream of input")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return p.BufferLen() == 0 }, time.Second, time.Millisecond)
}

func TestProcess_Concurrent(t *testing.T) {
	p := New(Config{BufferSize: 16})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Process("is this concurrent?")
				p.Aggregate()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.BufferLen(), 16)
}
