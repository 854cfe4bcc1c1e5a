// Package fastpath classifies an input by surface cues and answers with an
// intent-templated response. It never consults memory, so its cost depends
// only on the length of the input.
package fastpath

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

// InvalidInputResponse answers empty or whitespace-only input.
const InvalidInputResponse = "I need a valid message to process."

// Config tunes the processor.
type Config struct {
	BufferSize          int
	BatchSize           int
	AggregateInterval   time.Duration
	UrgencyThreshold    float64
	EmpathyThreshold    float64
	ComplexityThreshold int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		BufferSize:          256,
		BatchSize:           10,
		AggregateInterval:   100 * time.Millisecond,
		UrgencyThreshold:    0.8,
		EmpathyThreshold:    -0.5,
		ComplexityThreshold: 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.AggregateInterval <= 0 {
		c.AggregateInterval = d.AggregateInterval
	}
	if c.UrgencyThreshold <= 0 {
		c.UrgencyThreshold = d.UrgencyThreshold
	}
	if c.EmpathyThreshold >= 0 {
		c.EmpathyThreshold = d.EmpathyThreshold
	}
	if c.ComplexityThreshold <= 0 {
		c.ComplexityThreshold = d.ComplexityThreshold
	}
	return c
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithSink receives batch summaries.
func WithSink(sink events.Sink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// Processor is the fast path. Process is safe for concurrent use.
type Processor struct {
	cfg Config

	mu   sync.Mutex
	ring []model.FastResult
	head int // index of the oldest entry
	size int
	last *BatchSummary

	now  func() time.Time
	sink events.Sink
	log  zerolog.Logger
}

// New creates a fast-path processor.
func New(cfg Config, opts ...Option) *Processor {
	p := &Processor{
		cfg: cfg.withDefaults(),
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.ring = make([]model.FastResult, p.cfg.BufferSize)
	return p
}

// Process classifies input and returns an immediate response. It never
// fails: empty input yields InvalidInputResponse.
func (p *Processor) Process(input string) model.FastResult {
	start := p.now()
	if strings.TrimSpace(input) == "" {
		return model.FastResult{
			Input:     input,
			Response:  InvalidInputResponse,
			Keywords:  []string{},
			Intent:    model.IntentStatement,
			Timestamp: start,
		}
	}

	words := strings.Fields(input)
	res := model.FastResult{
		Input:      input,
		Keywords:   Keywords(input),
		Sentiment:  Sentiment(input),
		Urgency:    Urgency(input),
		Intent:     DetectIntent(input),
		Complexity: len(words),
	}
	res.Response = p.respond(res)
	res.Timestamp = p.now()
	res.Latency = res.Timestamp.Sub(start)
	res.LatencyMs = float64(res.Latency.Microseconds()) / 1000

	p.push(res)
	p.log.Debug().
		Str("intent", string(res.Intent)).
		Float64("sentiment", res.Sentiment).
		Float64("urgency", res.Urgency).
		Dur("latency", res.Latency).
		Msg("fast path processed")
	return res
}

func (p *Processor) respond(r model.FastResult) string {
	if r.Urgency > p.cfg.UrgencyThreshold {
		return "I understand this is urgent. " + urgentResponse(r.Intent)
	}
	if r.Sentiment < p.cfg.EmpathyThreshold {
		return "I sense your concern. " + empatheticResponse(r.Intent)
	}
	if r.Complexity > p.cfg.ComplexityThreshold {
		return "This is a complex topic. Let me break it down..."
	}
	return standardResponse(r.Intent)
}

func urgentResponse(intent model.Intent) string {
	switch intent {
	case model.IntentQuestion:
		return "Let me address your urgent question immediately."
	case model.IntentRequest:
		return "I'll help you with this right away."
	case model.IntentUrgent:
		return "I'm giving this my immediate attention."
	default:
		return "I understand the urgency and am processing this now."
	}
}

func empatheticResponse(intent model.Intent) string {
	switch intent {
	case model.IntentQuestion:
		return "Let me help clarify this for you."
	case model.IntentRequest:
		return "I'll do my best to assist with this."
	case model.IntentStatement:
		return "I hear what you're expressing."
	default:
		return "I'm here to help and support you."
	}
}

func standardResponse(intent model.Intent) string {
	switch intent {
	case model.IntentQuestion:
		return "That's an interesting question. Let me think..."
	case model.IntentRequest:
		return "I'll help you with that."
	case model.IntentGratitude:
		return "You're welcome! Happy to help."
	case model.IntentStatement:
		return "I understand. Tell me more..."
	default:
		return "I'm processing your input..."
	}
}

var (
	urgentCues    = []string{"urgent", "emergency", "asap", "immediately", "critical"}
	politeCues    = []string{"please", "could you", "would you"}
	gratitudeCues = []string{"thank", "appreciate"}

	positiveWords = map[string]bool{"good": true, "great": true, "excellent": true, "happy": true, "wonderful": true}
	negativeWords = map[string]bool{"bad": true, "terrible": true, "sad": true, "angry": true, "frustrated": true}

	stopWords = map[string]bool{
		"the": true, "is": true, "at": true, "which": true, "on": true,
		"a": true, "an": true, "and": true, "or": true, "but": true,
		"there": true, "their": true, "about": true, "would": true, "could": true,
	}
)

// DetectIntent applies the fixed precedence: urgency cues, then a question
// mark, then politeness, then gratitude, else statement.
func DetectIntent(input string) model.Intent {
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, urgentCues):
		return model.IntentUrgent
	case strings.Contains(lower, "?"):
		return model.IntentQuestion
	case containsAny(lower, politeCues):
		return model.IntentRequest
	case containsAny(lower, gratitudeCues):
		return model.IntentGratitude
	default:
		return model.IntentStatement
	}
}

// Urgency is half the number of distinct urgency cues present, capped at 1.
func Urgency(input string) float64 {
	lower := strings.ToLower(input)
	n := 0
	for _, cue := range urgentCues {
		if strings.Contains(lower, cue) {
			n++
		}
	}
	if u := float64(n) / 2; u < 1 {
		return u
	}
	return 1
}

// Sentiment is (positive - negative) / words, in [-1,1].
func Sentiment(input string) float64 {
	words := strings.Fields(input)
	if len(words) == 0 {
		return 0
	}
	score := 0
	for _, w := range words {
		w = trimWord(w)
		switch {
		case positiveWords[w]:
			score++
		case negativeWords[w]:
			score--
		}
	}
	return float64(score) / float64(len(words))
}

// Keywords returns lowercase words longer than four letters that are not
// stop words, in input order, without duplicates.
func Keywords(input string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, w := range strings.Fields(input) {
		w = trimWord(w)
		if len(w) <= 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func trimWord(w string) string {
	return strings.TrimFunc(strings.ToLower(w), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
