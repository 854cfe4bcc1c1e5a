// Package fusion correlates a fast-path result and a slow-path result for
// the same input and merges them into one response.
package fusion

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

// Config tunes the coordinator.
type Config struct {
	Window     time.Duration
	BufferSize int
	Policy     Policy
}

// DefaultConfig returns a 5s window and a 256-record buffer.
func DefaultConfig() Config {
	return Config{
		Window:     5 * time.Second,
		BufferSize: 256,
		Policy:     DefaultPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Policy == (Policy{}) {
		c.Policy = d.Policy
	}
	return c
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSink receives a fusion_completed event per record.
func WithSink(sink events.Sink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator owns the fusion records. Records expire twice the window
// after creation; the buffer also drops the least recently used record when
// full.
type Coordinator struct {
	cfg    Config
	buffer *expirable.LRU[string, model.FusionRecord]

	now  func() time.Time
	sink events.Sink
	log  zerolog.Logger
}

// New creates a coordinator. The record buffer starts a cleanup goroutine
// that lives as long as the process, so build one coordinator per process
// rather than per request.
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg: cfg.withDefaults(),
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.buffer = expirable.NewLRU[string, model.FusionRecord](c.cfg.BufferSize, nil, 2*c.cfg.Window)
	return c
}

// Window returns the temporal binding window.
func (c *Coordinator) Window() time.Duration { return c.cfg.Window }

// Fuse merges one fast and one slow result for input. A skipped slow
// result passes the fast text through unchanged. A fast-only merge carries
// PerspectiveNote unless the slow path degraded.
func (c *Coordinator) Fuse(fast model.FastResult, slow model.SlowResult, input string) model.FusionRecord {
	rec := model.FusionRecord{
		ID:        uuid.NewString(),
		Input:     input,
		Fast:      fast,
		Slow:      slow,
		CreatedAt: c.now(),
	}

	if slow.Skipped {
		rec.Tier = model.TierPassthrough
		rec.Merged = fast.Response
	} else {
		rec.TemporalBinding = TemporalBinding(slow.Timestamp.Sub(fast.Timestamp), c.cfg.Window)
		rec.Coherence = Coherence(fast, slow)
		rec.LexicalSimilarity = LexicalSimilarity(fast.Response, slow.Text())
		rec.Tier = c.cfg.Policy.Select(rec.Coherence, rec.LexicalSimilarity)
		rec.Merged = Merge(rec.Tier, fast.Response, slow.Text())
		if rec.Tier == model.TierFastOnly && !slow.Degraded() {
			rec.Note = PerspectiveNote
		}
	}

	c.buffer.Add(rec.ID, rec)

	c.log.Debug().
		Str("id", rec.ID).
		Stringer("tier", rec.Tier).
		Float64("coherence", rec.Coherence).
		Float64("lexical", rec.LexicalSimilarity).
		Float64("binding", rec.TemporalBinding).
		Msg("fusion completed")

	ev := events.New(events.FusionCompleted, rec.CreatedAt)
	ev.IDs = []string{rec.ID}
	ev.Payload = rec
	c.sink.Emit(ev)
	return rec
}

// Get returns a buffered record that has not expired.
func (c *Coordinator) Get(id string) (model.FusionRecord, bool) {
	return c.buffer.Peek(id)
}

// Len returns the number of buffered records, including any expired ones
// not yet swept.
func (c *Coordinator) Len() int {
	return c.buffer.Len()
}

// Weighted is a buffered record and its temporal binding to a lookup time.
type Weighted struct {
	Record model.FusionRecord `json:"record"`
	Weight float64            `json:"weight"`
}

// Nearby returns the live records weighted by their temporal binding to t,
// strongest first.
func (c *Coordinator) Nearby(t time.Time) []Weighted {
	var out []Weighted
	for _, rec := range c.buffer.Values() {
		if rec.ID == "" {
			// Values pads with zero records when entries expired
			continue
		}
		out = append(out, Weighted{
			Record: rec,
			Weight: TemporalBinding(t.Sub(rec.CreatedAt), c.cfg.Window),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	return out
}
