package memory

import (
	"math"
	"sort"
	"time"

	"github.com/rcliao/stream-fusion/internal/embedding"
	"github.com/rcliao/stream-fusion/internal/model"
)

// Query selects items by one of four keys. Only the fields the mode reads
// matter; zero values fall back to the store configuration.
type Query struct {
	Mode model.RecallMode

	// Text is the similarity query.
	Text string

	// At is the temporal target; zero means now.
	At     time.Time
	Window time.Duration

	// Frequency is the resonance target in [0,1].
	Frequency float64
	Bandwidth float64

	// SeedID starts an associative walk.
	SeedID string
	Depth  int

	// Limit caps the result; zero means Config.TopK for similarity and
	// unlimited for the other modes.
	Limit int
}

// Recall returns matches for q ordered by decreasing relevance (temporal
// recall orders by increasing distance). An unknown mode is treated as
// similarity. An empty store yields an empty, non-nil slice.
func (s *Store) Recall(q Query) []model.Match {
	switch q.Mode {
	case model.RecallTemporal:
		return s.recallTemporal(q)
	case model.RecallResonance:
		return s.recallResonance(q)
	case model.RecallAssociative:
		return s.recallAssociative(q)
	default:
		return s.recallSimilarity(q)
	}
}

// recency is 1 for a brand new item and halves after one day.
func recency(now, created time.Time) float64 {
	days := now.Sub(created).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days)
}

// accessScore grows with the log of the access count, capped at 1.
func accessScore(count int) float64 {
	v := math.Log(float64(count)+1) / 10
	if v > 1 {
		return 1
	}
	return v
}

// similarityRelevance blends cosine similarity with recency, access,
// importance and freshness.
func similarityRelevance(sim float64, item model.MemoryItem, now time.Time) float64 {
	return sim*0.4 +
		recency(now, item.CreatedAt)*0.2 +
		accessScore(item.AccessCount)*0.1 +
		item.Importance*0.2 +
		(1-item.Decay)*0.1
}

func sortByRelevance(matches []model.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Relevance != matches[j].Relevance {
			return matches[i].Relevance > matches[j].Relevance
		}
		return matches[i].Item.ID < matches[j].Item.ID
	})
}

// recallSimilarity is the only recall mode that mutates: each returned item
// has its access count bumped, its access time set, and its decay reduced.
func (s *Store) recallSimilarity(q Query) []model.Match {
	qv := embedding.Vectorize(q.Text)
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.TopK
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	type hit struct {
		e   *entry
		sim float64
		rel float64
	}
	var hits []hit
	for _, e := range s.items {
		if e.item.Compressed {
			continue
		}
		sim := embedding.CosineSimilarity(qv, e.vec)
		if sim < s.cfg.SimilarityThreshold {
			continue
		}
		hits = append(hits, hit{e: e, sim: sim, rel: similarityRelevance(sim, e.item, now)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rel != hits[j].rel {
			return hits[i].rel > hits[j].rel
		}
		return hits[i].e.item.ID < hits[j].e.item.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]model.Match, 0, len(hits))
	for _, h := range hits {
		h.e.item.AccessCount++
		h.e.item.LastAccessedAt = now
		h.e.item.Decay = math.Max(0, h.e.item.Decay-s.cfg.AccessDecayReduction)
		out = append(out, model.Match{
			Item:      s.snapshotLocked(h.e),
			Score:     h.sim,
			Relevance: h.rel,
		})
	}
	return out
}

func (s *Store) recallTemporal(q Query) []model.Match {
	window := q.Window
	if window <= 0 {
		window = s.cfg.TemporalWindow
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	at := q.At
	if at.IsZero() {
		at = s.now()
	}

	out := make([]model.Match, 0)
	for _, e := range s.items {
		d := at.Sub(e.item.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		closeness := 1 - float64(d)/float64(window)
		out = append(out, model.Match{
			Item:      s.snapshotLocked(e),
			Score:     closeness,
			Relevance: closeness,
			Distance:  d.Seconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return limitMatches(out, q.Limit)
}

func (s *Store) recallResonance(q Query) []model.Match {
	bw := q.Bandwidth
	if bw <= 0 {
		bw = s.cfg.ResonanceBandwidth
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	// Only buckets that can hold a value within bw of the target are scanned.
	lo := resonanceBucket(q.Frequency - bw)
	hi := resonanceBucket(q.Frequency + bw)
	out := make([]model.Match, 0)
	for b := lo; b <= hi; b++ {
		for id := range s.buckets[b] {
			e := s.items[id]
			d := math.Abs(e.item.Resonance - q.Frequency)
			if d > bw {
				continue
			}
			match := 1 - d/bw
			out = append(out, model.Match{
				Item:      s.snapshotLocked(e),
				Score:     match,
				Relevance: match*0.5 + e.item.Importance*0.3 + recency(now, e.item.CreatedAt)*0.2,
				Distance:  d,
			})
		}
	}
	sortByRelevance(out)
	return limitMatches(out, q.Limit)
}

// recallAssociative walks edges breadth-first from the seed. Each item is
// reported once at its shallowest depth; the seed itself is excluded.
func (s *Store) recallAssociative(q Query) []model.Match {
	maxDepth := q.Depth
	if maxDepth <= 0 {
		maxDepth = s.cfg.AssociativeDepth
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Match, 0)
	if _, ok := s.items[q.SeedID]; !ok {
		return out
	}

	visited := map[string]bool{q.SeedID: true}
	frontier := []string{q.SeedID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range sortedNeighbors(s.items[id]) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				e, ok := s.items[nb]
				if !ok {
					continue
				}
				rel := 1 / float64(depth+1)
				out = append(out, model.Match{
					Item:      s.snapshotLocked(e),
					Score:     rel,
					Relevance: rel,
					Depth:     depth,
				})
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return limitMatches(out, q.Limit)
}

func sortedNeighbors(e *entry) []string {
	ids := make([]string, 0, len(e.assoc))
	for id := range e.assoc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func limitMatches(m []model.Match, limit int) []model.Match {
	if limit > 0 && len(m) > limit {
		return m[:limit]
	}
	return m
}
