package memory

import (
	"sort"

	"github.com/rcliao/stream-fusion/internal/embedding"
	"github.com/rcliao/stream-fusion/internal/model"
	"github.com/rcliao/stream-fusion/internal/scoring"
)

// Export returns copies of every item in insertion order.
func (s *Store) Export() []model.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MemoryItem, 0, len(s.items))
	for _, e := range s.items {
		out = append(out, s.snapshotLocked(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spiral.Index != out[j].Spiral.Index {
			return out[i].Spiral.Index < out[j].Spiral.Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Import restores items from an export. Items whose id already exists are
// skipped. Associations are restored symmetrically when both ends are
// present. Scores and strengths are clamped to [0,1]. Spiral positions are kept, and later encodes continue after the
// highest imported index. Returns the number of items added.
func (s *Store) Import(items []model.MemoryItem) int {
	s.mu.Lock()
	imported := 0
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, ok := s.items[it.ID]; ok {
			continue
		}
		e := &entry{item: it, assoc: make(map[string]float64)}
		e.item.Associations = nil
		e.item.Importance = scoring.Clamp01(it.Importance)
		e.item.Resonance = scoring.Clamp01(it.Resonance)
		e.item.Decay = scoring.Clamp01(it.Decay)
		e.item.Context = copyContext(it.Context)
		if it.Essence != nil {
			ess := *it.Essence
			e.item.Essence = &ess
		}
		if !it.Compressed {
			e.vec = embedding.Vectorize(it.Content)
		}
		s.insertLocked(e)
		if it.Spiral.Index+1 > s.inserted {
			s.inserted = it.Spiral.Index + 1
		}
		imported++
	}
	for _, it := range items {
		a, ok := s.items[it.ID]
		if !ok {
			continue
		}
		for _, as := range it.Associations {
			b, ok := s.items[as.ID]
			if !ok || as.ID == it.ID {
				continue
			}
			strength := scoring.Clamp01(as.Strength)
			a.assoc[as.ID] = strength
			b.assoc[it.ID] = strength
		}
	}
	removed := s.pruneLocked()
	now := s.now()
	s.mu.Unlock()

	s.emitPruned(removed, now)
	s.log.Debug().Int("imported", imported).Msg("memories imported")
	return imported
}
