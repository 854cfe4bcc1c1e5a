// Package model defines the core value types shared across the pipeline.
package model

import "time"

// MemoryItem is one encoded unit of content held by the associative store.
type MemoryItem struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Importance     float64        `json:"importance"`
	Spiral         SpiralPosition `json:"spiral"`
	Resonance      float64        `json:"resonance"`
	AccessCount    int            `json:"access_count"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Decay          float64        `json:"decay"`
	Compressed     bool           `json:"compressed"`
	Essence        *Essence       `json:"essence,omitempty"`
	Associations   []Association  `json:"associations,omitempty"`
}

// SpiralPosition is the deterministic placement assigned at insertion time.
// It is diagnostic only; recall never reads it.
type SpiralPosition struct {
	Radius    float64 `json:"r"`
	Angle     float64 `json:"theta"`
	Elevation float64 `json:"z"`
	Index     int     `json:"index"`
}

// Essence records what compression kept of the original content.
type Essence struct {
	WordCount int    `json:"word_count"`
	Hash      string `json:"hash"`
}

// Association is one undirected edge to another item.
type Association struct {
	ID       string  `json:"id"`
	Strength float64 `json:"strength"`
}

// RecallMode selects the key used by recall.
type RecallMode string

const (
	RecallSimilarity  RecallMode = "similarity"
	RecallTemporal    RecallMode = "temporal"
	RecallResonance   RecallMode = "resonance"
	RecallAssociative RecallMode = "associative"
)

// ValidRecallModes are the accepted recall modes.
var ValidRecallModes = map[RecallMode]bool{
	RecallSimilarity:  true,
	RecallTemporal:    true,
	RecallResonance:   true,
	RecallAssociative: true,
}

// Match is one recall hit.
//
// Score is the mode-specific match value: cosine similarity, temporal
// closeness, resonance closeness, or 1/(depth+1) for associative recall.
type Match struct {
	Item      MemoryItem `json:"item"`
	Score     float64    `json:"score"`
	Relevance float64    `json:"relevance"`
	Distance  float64    `json:"distance,omitempty"`
	Depth     int        `json:"depth,omitempty"`
}

// ActivePattern is a compact view of a recently encoded item.
type ActivePattern struct {
	ID         string         `json:"id"`
	Spiral     SpiralPosition `json:"spiral"`
	Resonance  float64        `json:"resonance"`
	Importance float64        `json:"importance"`
	Content    string         `json:"content"`
}
