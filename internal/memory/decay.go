package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
)

// SweepResult reports what one decay sweep did.
type SweepResult struct {
	Scanned    int      `json:"scanned"`
	Compressed []string `json:"compressed,omitempty"`
}

// Sweep ages every uncompressed item by DecayRate per day since its last
// access and compresses items that are both stale and unimportant. Decay
// never exceeds 1.
func (s *Store) Sweep(now time.Time) SweepResult {
	s.mu.Lock()
	res := SweepResult{Scanned: len(s.items)}
	var compressed []model.MemoryItem
	for _, e := range s.items {
		if e.item.Compressed {
			continue
		}
		days := now.Sub(e.item.LastAccessedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		e.item.Decay = math.Min(1, e.item.Decay+s.cfg.DecayRate*days)

		if e.item.Decay > s.cfg.CompressDecayThreshold &&
			e.item.Importance < s.cfg.CompressImportanceThreshold {
			s.compressLocked(e)
			compressed = append(compressed, s.snapshotLocked(e))
		}
	}
	sort.Slice(compressed, func(i, j int) bool { return compressed[i].ID < compressed[j].ID })
	for _, item := range compressed {
		res.Compressed = append(res.Compressed, item.ID)
	}
	s.mu.Unlock()

	s.emitCompressed(compressed, now)
	s.log.Debug().
		Int("scanned", res.Scanned).
		Int("compressed", len(res.Compressed)).
		Msg("decay sweep")
	return res
}

// Run sweeps every DecayInterval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DecayInterval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.DecayInterval).Msg("decay scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("decay scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Prune enforces capacity now and returns the removed ids. It does nothing
// while the store is within MaxItems.
func (s *Store) Prune() []string {
	s.mu.Lock()
	removed := s.pruneLocked()
	now := s.now()
	s.mu.Unlock()

	s.emitPruned(removed, now)
	return removed
}

// pruneLocked removes the lowest-ranked fraction of the prune candidates,
// ranked by importance*(1-decay), when the store is over capacity.
// Candidates are items whose importance is below PruneImportanceThreshold
// and whose decay is above PruneDecayThreshold, so important items are
// never removed. At least one candidate is removed whenever any exist.
func (s *Store) pruneLocked() []string {
	if len(s.items) <= s.cfg.MaxItems {
		return nil
	}
	var candidates []*entry
	for _, e := range s.items {
		if e.item.Importance < s.cfg.PruneImportanceThreshold && e.item.Decay > s.cfg.PruneDecayThreshold {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		s.log.Warn().
			Int("size", len(s.items)).
			Int("max", s.cfg.MaxItems).
			Msg("store over capacity with no prune candidates")
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := pruneRank(candidates[i].item), pruneRank(candidates[j].item)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].item.ID < candidates[j].item.ID
	})
	n := int(math.Ceil(float64(len(candidates)) * s.cfg.PruneFraction))
	if n > len(candidates) {
		n = len(candidates)
	}
	removed := make([]string, 0, n)
	for _, e := range candidates[:n] {
		removed = append(removed, e.item.ID)
		s.removeLocked(e.item.ID)
	}
	return removed
}

func pruneRank(item model.MemoryItem) float64 {
	return item.Importance * (1 - item.Decay)
}

func (s *Store) emitPruned(ids []string, at time.Time) {
	if len(ids) == 0 {
		return
	}
	s.log.Info().Int("count", len(ids)).Msg("memories pruned")
	ev := events.New(events.MemoriesPruned, at)
	ev.IDs = ids
	ev.Count = len(ids)
	s.sink.Emit(ev)
}
