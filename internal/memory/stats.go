package memory

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rcliao/stream-fusion/internal/model"
)

const (
	activeWindow      = 5 * time.Minute
	activeLimit       = 10
	activeContentSize = 100
)

// Stats summarizes the store.
type Stats struct {
	Size               int     `json:"size"`
	Compressed         int     `json:"compressed"`
	AverageDecay       float64 `json:"average_decay"`
	Associations       int     `json:"associations"`
	AssociationDensity float64 `json:"association_density"`
	Anchors            int     `json:"anchors"`
	Inserted           int     `json:"inserted"`
}

// Stats returns current counts. An empty store reports zero averages.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Size: len(s.items), Inserted: s.inserted}
	var decay float64
	endpoints := 0
	for _, e := range s.items {
		decay += e.item.Decay
		endpoints += len(e.assoc)
		if e.item.Compressed {
			st.Compressed++
		}
	}
	for _, ids := range s.anchors {
		st.Anchors += len(ids)
	}
	st.Associations = endpoints / 2
	if st.Size > 0 {
		st.AverageDecay = decay / float64(st.Size)
		st.AssociationDensity = float64(endpoints) / float64(st.Size)
	}
	return st
}

// ActivePatterns lists up to ten items encoded in the last five minutes,
// most important first, with content truncated to 100 bytes.
func (s *Store) ActivePatterns() []model.ActivePattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	var recent []*entry
	for _, e := range s.items {
		if now.Sub(e.item.CreatedAt) <= activeWindow {
			recent = append(recent, e)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		if recent[i].item.Importance != recent[j].item.Importance {
			return recent[i].item.Importance > recent[j].item.Importance
		}
		return recent[i].item.ID < recent[j].item.ID
	})
	if len(recent) > activeLimit {
		recent = recent[:activeLimit]
	}

	out := make([]model.ActivePattern, 0, len(recent))
	for _, e := range recent {
		out = append(out, model.ActivePattern{
			ID:         e.item.ID,
			Spiral:     e.item.Spiral,
			Resonance:  e.item.Resonance,
			Importance: e.item.Importance,
			Content:    truncate(e.item.Content, activeContentSize),
		})
	}
	return out
}

// Anchors returns the ids of high-importance items created in the same
// hour as t, sorted.
func (s *Store) Anchors(t time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.anchors[anchorHour(t)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
