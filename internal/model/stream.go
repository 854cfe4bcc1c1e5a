package model

import (
	"fmt"
	"time"
)

// Intent is the fast path's classification of an input.
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentRequest   Intent = "request"
	IntentUrgent    Intent = "urgent"
	IntentGratitude Intent = "gratitude"
	IntentStatement Intent = "statement"
)

// FastResult is the output of the fast path for one input.
type FastResult struct {
	Input      string        `json:"input"`
	Response   string        `json:"response"`
	Keywords   []string      `json:"keywords"`
	Sentiment  float64       `json:"sentiment"`
	Urgency    float64       `json:"urgency"`
	Intent     Intent        `json:"intent"`
	Complexity int           `json:"complexity"`
	Latency    time.Duration `json:"-"`
	LatencyMs  float64       `json:"latency_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// StageResult is the output of one slow-path stage. Summaries is
// append-only: each stage copies its predecessor's list and adds its own.
type StageResult struct {
	Stage      string    `json:"stage"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Concepts   []string  `json:"concepts,omitempty"`
	Coherence  float64   `json:"coherence"`
	Summaries  []string  `json:"summaries"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Insight is a stage whose coherence cleared the insight threshold.
type Insight struct {
	Stage     string  `json:"stage"`
	Index     int     `json:"index"`
	Coherence float64 `json:"coherence"`
	Text      string  `json:"text"`
}

// SlowResult is the output of the slow path for one input.
//
// Two variants are not full results: Skipped marks the placeholder used when
// the orchestrator decided not to run the slow path, and a non-empty Error
// marks a degraded result. Both are valid values, not failures.
type SlowResult struct {
	Input      string        `json:"input"`
	Stages     []StageResult `json:"stages,omitempty"`
	Depth      int           `json:"depth"`
	Converged  bool          `json:"converged"`
	Coherence  float64       `json:"coherence"`
	Coherences []float64     `json:"coherences,omitempty"`
	Insights   []Insight     `json:"insights,omitempty"`
	Insight    string        `json:"insight"`
	Concepts   []string      `json:"concepts,omitempty"`
	MemoryID   string        `json:"memory_id,omitempty"`
	Resonance  float64       `json:"resonance,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Skipped    bool          `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Degraded reports whether the slow path failed for this input.
func (r SlowResult) Degraded() bool { return r.Error != "" }

// Text is what fusion merges from the slow side.
func (r SlowResult) Text() string { return r.Insight }

// MergeTier identifies which merge rule produced a fusion's text.
type MergeTier int

const (
	TierPassthrough MergeTier = iota
	TierBlend
	TierSequential
	TierFastOnly
)

func (t MergeTier) String() string {
	switch t {
	case TierBlend:
		return "blend"
	case TierSequential:
		return "sequential"
	case TierFastOnly:
		return "fast_only"
	default:
		return "passthrough"
	}
}

// MarshalText encodes the tier by name.
func (t MergeTier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a tier name written by MarshalText.
func (t *MergeTier) UnmarshalText(b []byte) error {
	for _, tier := range []MergeTier{TierPassthrough, TierBlend, TierSequential, TierFastOnly} {
		if string(b) == tier.String() {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown merge tier %q", b)
}

// FusionRecord correlates one fast result and one slow result for the same input.
type FusionRecord struct {
	ID                string     `json:"id"`
	Input             string     `json:"input"`
	Fast              FastResult `json:"fast"`
	Slow              SlowResult `json:"slow"`
	TemporalBinding   float64    `json:"temporal_binding"`
	Coherence         float64    `json:"coherence"`
	LexicalSimilarity float64    `json:"lexical_similarity"`
	Tier              MergeTier  `json:"tier"`
	Merged            string     `json:"merged"`
	Note              string     `json:"note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
