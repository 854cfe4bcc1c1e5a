package fastpath

import (
	"context"
	"time"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

// BatchSummary aggregates one drained batch of fast results.
type BatchSummary struct {
	Count            int            `json:"count"`
	DominantIntent   model.Intent   `json:"dominant_intent"`
	AverageSentiment float64        `json:"average_sentiment"`
	KeywordFrequency map[string]int `json:"keyword_frequency"`
	At               time.Time      `json:"at"`
}

// intentPrecedence breaks ties for the dominant intent.
var intentPrecedence = []model.Intent{
	model.IntentUrgent,
	model.IntentQuestion,
	model.IntentRequest,
	model.IntentGratitude,
	model.IntentStatement,
}

// push appends to the ring, overwriting the oldest entry when full.
func (p *Processor) push(r model.FastResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.ring)
	if p.size == n {
		p.ring[p.head] = r
		p.head = (p.head + 1) % n
		return
	}
	p.ring[(p.head+p.size)%n] = r
	p.size++
}

// BufferLen returns the number of results waiting for aggregation.
func (p *Processor) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// LastSummary returns the most recent batch summary.
func (p *Processor) LastSummary() (BatchSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return BatchSummary{}, false
	}
	return *p.last, true
}

// Aggregate drains up to BatchSize of the oldest buffered results and
// summarizes them. It returns false when the buffer is empty.
func (p *Processor) Aggregate() (BatchSummary, bool) {
	p.mu.Lock()
	n := p.size
	if n > p.cfg.BatchSize {
		n = p.cfg.BatchSize
	}
	if n == 0 {
		p.mu.Unlock()
		return BatchSummary{}, false
	}
	batch := make([]model.FastResult, n)
	for i := 0; i < n; i++ {
		idx := (p.head + i) % len(p.ring)
		batch[i] = p.ring[idx]
		p.ring[idx] = model.FastResult{}
	}
	p.head = (p.head + n) % len(p.ring)
	p.size -= n
	p.mu.Unlock()

	summary := summarize(batch, p.now())

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	ev := events.New(events.FastBatch, summary.At)
	ev.Count = summary.Count
	ev.Payload = summary
	p.sink.Emit(ev)
	return summary, true
}

func summarize(batch []model.FastResult, at time.Time) BatchSummary {
	s := BatchSummary{
		Count:            len(batch),
		KeywordFrequency: make(map[string]int),
		At:               at,
	}
	counts := make(map[model.Intent]int)
	var sentiment float64
	for _, r := range batch {
		counts[r.Intent]++
		sentiment += r.Sentiment
		for _, k := range r.Keywords {
			s.KeywordFrequency[k]++
		}
	}
	s.AverageSentiment = sentiment / float64(len(batch))

	best := 0
	for _, intent := range intentPrecedence {
		if counts[intent] > best {
			best = counts[intent]
			s.DominantIntent = intent
		}
	}
	return s
}

// Run aggregates one batch per AggregateInterval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.AggregateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s, ok := p.Aggregate(); ok {
				p.log.Debug().
					Int("count", s.Count).
					Str("dominant_intent", string(s.DominantIntent)).
					Float64("average_sentiment", s.AverageSentiment).
					Msg("fast batch aggregated")
			}
		}
	}
}
