package pipeline

import (
	"strings"

	"github.com/spf13/cast"
)

// Config holds the slow-path skip policy.
type Config struct {
	// MinLength is the input length, in bytes, that counts as a signal.
	MinLength int
	// MaxTokens is the token count that must be exceeded to count.
	MaxTokens           int
	ImportanceThreshold float64
	DeepKeywords        []string
	// MinSignals is how many signals run the slow path without force.
	MinSignals int
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		MinLength:           10,
		MaxTokens:           20,
		ImportanceThreshold: 0.7,
		DeepKeywords:        []string{"consciousness", "awareness", "meaning", "existence", "reality"},
		MinSignals:          2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinLength <= 0 {
		c.MinLength = d.MinLength
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.ImportanceThreshold <= 0 {
		c.ImportanceThreshold = d.ImportanceThreshold
	}
	if len(c.DeepKeywords) == 0 {
		c.DeepKeywords = d.DeepKeywords
	}
	if c.MinSignals <= 0 {
		c.MinSignals = d.MinSignals
	}
	return c
}

// Meta is the typed view of the caller's loosely typed context.
type Meta struct {
	Force      bool
	Importance float64
	Values     map[string]any
}

// ParseMeta reads "force" (or "forceDeep") and "importance" from raw,
// coercing strings and numbers. Unparseable values count as unset.
func ParseMeta(raw map[string]any) Meta {
	m := Meta{Values: raw}
	for _, key := range []string{"force", "forceDeep", "force_deep"} {
		if v, ok := raw[key]; ok && cast.ToBool(v) {
			m.Force = true
		}
	}
	if v, ok := raw["importance"]; ok {
		m.Importance = cast.ToFloat64(v)
	}
	return m
}

// Signal names reported by Decide.
const (
	SignalLength     = "length"
	SignalQuestion   = "question"
	SignalDeepTopic  = "deep_topic"
	SignalTokens     = "tokens"
	SignalImportance = "importance"
)

// Decision explains a skip-policy outcome.
type Decision struct {
	Run     bool     `json:"run"`
	Forced  bool     `json:"forced,omitempty"`
	Signals []string `json:"signals,omitempty"`
}

// Decide applies the skip policy: the slow path runs when forced or when at
// least MinSignals signals hold.
func (c Config) Decide(input string, meta Meta) Decision {
	c = c.withDefaults()
	d := Decision{Forced: meta.Force}

	if len(input) >= c.MinLength {
		d.Signals = append(d.Signals, SignalLength)
	}
	if i := strings.Index(input, "?"); i >= 0 && strings.TrimSpace(input[i+1:]) != "" {
		d.Signals = append(d.Signals, SignalQuestion)
	}
	lower := strings.ToLower(input)
	for _, kw := range c.DeepKeywords {
		if strings.Contains(lower, kw) {
			d.Signals = append(d.Signals, SignalDeepTopic)
			break
		}
	}
	if len(strings.Fields(input)) > c.MaxTokens {
		d.Signals = append(d.Signals, SignalTokens)
	}
	if meta.Importance > c.ImportanceThreshold {
		d.Signals = append(d.Signals, SignalImportance)
	}

	d.Run = meta.Force || len(d.Signals) >= c.MinSignals
	return d
}

// ShouldRunSlow reports whether the slow path runs for input.
func (c Config) ShouldRunSlow(input string, meta Meta) bool {
	return c.Decide(input, meta).Run
}
