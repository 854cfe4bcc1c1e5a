// Package memory implements the capacity-bounded, time-decaying associative
// store that the slow path writes into and later inputs recall from.
//
// All mutations (encode, similarity recall bookkeeping, associate, compress,
// sweep, prune) are serialized by one mutex. Temporal, resonance and
// associative recall take the read lock and never mutate.
package memory

import (
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/embedding"
	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/model"
	"github.com/rcliao/stream-fusion/internal/scoring"
)

// Phi is the golden ratio. Successive items are placed Phi turns apart, so
// no two items ever share an angle.
const Phi = 1.618033988749895

// Config holds store tuning. Zero fields take DefaultConfig values.
type Config struct {
	MaxItems            int
	SimilarityThreshold float64
	TopK                int
	TemporalWindow      time.Duration
	ResonanceBandwidth  float64
	AssociativeDepth    int

	// DecayRate is added per day since last access on every sweep.
	DecayRate            float64
	DecayInterval        time.Duration
	AccessDecayReduction float64

	CompressDecayThreshold      float64
	CompressImportanceThreshold float64
	PruneImportanceThreshold    float64
	PruneDecayThreshold         float64
	PruneFraction               float64

	SummaryWords     int
	AnchorImportance float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxItems:                    10000,
		SimilarityThreshold:         0.5,
		TopK:                        10,
		TemporalWindow:              time.Hour,
		ResonanceBandwidth:          0.1,
		AssociativeDepth:            3,
		DecayRate:                   0.001,
		DecayInterval:               time.Minute,
		AccessDecayReduction:        0.1,
		CompressDecayThreshold:      0.7,
		CompressImportanceThreshold: 0.5,
		PruneImportanceThreshold:    0.3,
		PruneDecayThreshold:         0.5,
		PruneFraction:               0.1,
		SummaryWords:                10,
		AnchorImportance:            0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.TemporalWindow <= 0 {
		c.TemporalWindow = d.TemporalWindow
	}
	if c.ResonanceBandwidth <= 0 {
		c.ResonanceBandwidth = d.ResonanceBandwidth
	}
	if c.AssociativeDepth <= 0 {
		c.AssociativeDepth = d.AssociativeDepth
	}
	if c.DecayRate <= 0 {
		c.DecayRate = d.DecayRate
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = d.DecayInterval
	}
	if c.AccessDecayReduction <= 0 {
		c.AccessDecayReduction = d.AccessDecayReduction
	}
	if c.CompressDecayThreshold <= 0 {
		c.CompressDecayThreshold = d.CompressDecayThreshold
	}
	if c.CompressImportanceThreshold <= 0 {
		c.CompressImportanceThreshold = d.CompressImportanceThreshold
	}
	if c.PruneImportanceThreshold <= 0 {
		c.PruneImportanceThreshold = d.PruneImportanceThreshold
	}
	if c.PruneDecayThreshold <= 0 {
		c.PruneDecayThreshold = d.PruneDecayThreshold
	}
	if c.PruneFraction <= 0 || c.PruneFraction > 1 {
		c.PruneFraction = d.PruneFraction
	}
	if c.SummaryWords <= 0 {
		c.SummaryWords = d.SummaryWords
	}
	if c.AnchorImportance <= 0 {
		c.AnchorImportance = d.AnchorImportance
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSink receives encode, compress, associate and prune events.
func WithSink(sink events.Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithResonanceScorer replaces the resonance strategy.
func WithResonanceScorer(sc scoring.Scorer) Option {
	return func(s *Store) { s.resonance = sc }
}

type entry struct {
	item   model.MemoryItem // Associations is always nil here; edges live in assoc
	vec    embedding.Vector
	assoc  map[string]float64
	bucket int
}

// Store is the associative memory store.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	items    map[string]*entry
	buckets  map[int]map[string]struct{}
	anchors  map[int64]map[string]struct{}
	inserted int
	entropy  io.Reader

	now       func() time.Time
	sink      events.Sink
	log       zerolog.Logger
	resonance scoring.Scorer
}

// New creates an empty store.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{
		cfg:       cfg.withDefaults(),
		items:     make(map[string]*entry),
		buckets:   make(map[int]map[string]struct{}),
		anchors:   make(map[int64]map[string]struct{}),
		now:       time.Now,
		log:       zerolog.Nop(),
		resonance: scoring.SineResonance{},
	}
	for _, o := range opts {
		o(s)
	}
	s.entropy = ulid.Monotonic(rand.New(rand.NewSource(s.now().UnixNano())), 0)
	return s
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

func (s *Store) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Encode stores content and returns the new item. It always succeeds;
// importance is clamped to [0,1]. Exceeding capacity triggers pruning.
func (s *Store) Encode(content string, importance float64, context map[string]any) model.MemoryItem {
	s.mu.Lock()
	now := s.now()
	importance = scoring.Clamp01(importance)
	idx := s.inserted
	s.inserted++

	e := &entry{
		item: model.MemoryItem{
			ID:             s.newID(now),
			Content:        content,
			Context:        copyContext(context),
			CreatedAt:      now,
			Importance:     importance,
			Spiral:         spiralPosition(idx, importance),
			Resonance:      scoring.Clamp01(s.resonance.Score(content, context)),
			LastAccessedAt: now,
		},
		vec:   embedding.Vectorize(content),
		assoc: make(map[string]float64),
	}
	s.insertLocked(e)
	item := s.snapshotLocked(e)
	pruned := s.pruneLocked()
	s.mu.Unlock()

	s.log.Debug().
		Str("id", item.ID).
		Float64("importance", item.Importance).
		Float64("resonance", item.Resonance).
		Int("index", idx).
		Msg("memory encoded")

	ev := events.New(events.MemoryEncoded, now)
	ev.IDs = []string{item.ID}
	ev.Payload = item
	s.sink.Emit(ev)
	s.emitPruned(pruned, now)
	return item
}

// spiralPosition places the idx-th insertion on a golden-angle spiral.
func spiralPosition(idx int, importance float64) model.SpiralPosition {
	turns := math.Mod(float64(idx)*Phi, 1)
	return model.SpiralPosition{
		Radius:    math.Sqrt(float64(idx)) * importance,
		Angle:     turns * 2 * math.Pi,
		Elevation: math.Log(float64(idx)+1) * importance,
		Index:     idx,
	}
}

func (s *Store) insertLocked(e *entry) {
	s.items[e.item.ID] = e
	e.bucket = resonanceBucket(e.item.Resonance)
	if s.buckets[e.bucket] == nil {
		s.buckets[e.bucket] = make(map[string]struct{})
	}
	s.buckets[e.bucket][e.item.ID] = struct{}{}

	if e.item.Importance > s.cfg.AnchorImportance {
		hour := anchorHour(e.item.CreatedAt)
		if s.anchors[hour] == nil {
			s.anchors[hour] = make(map[string]struct{})
		}
		s.anchors[hour][e.item.ID] = struct{}{}
	}
}

// removeLocked deletes an item and every edge pointing at it.
func (s *Store) removeLocked(id string) {
	e, ok := s.items[id]
	if !ok {
		return
	}
	for other := range e.assoc {
		if o, ok := s.items[other]; ok {
			delete(o.assoc, id)
		}
	}
	if b := s.buckets[e.bucket]; b != nil {
		delete(b, id)
		if len(b) == 0 {
			delete(s.buckets, e.bucket)
		}
	}
	hour := anchorHour(e.item.CreatedAt)
	if a := s.anchors[hour]; a != nil {
		delete(a, id)
		if len(a) == 0 {
			delete(s.anchors, hour)
		}
	}
	delete(s.items, id)
}

func resonanceBucket(r float64) int {
	return int(math.Floor(r * 100))
}

func anchorHour(t time.Time) int64 {
	return t.Truncate(time.Hour).Unix()
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (model.MemoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		return model.MemoryItem{}, false
	}
	return s.snapshotLocked(e), true
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Associate links two items symmetrically. Unknown ids and self-links are
// silent no-ops. Re-associating an existing pair updates its strength.
func (s *Store) Associate(idA, idB string, strength float64) {
	if idA == idB {
		return
	}
	s.mu.Lock()
	a, okA := s.items[idA]
	b, okB := s.items[idB]
	if !okA || !okB {
		s.mu.Unlock()
		return
	}
	strength = scoring.Clamp01(strength)
	a.assoc[idB] = strength
	b.assoc[idA] = strength
	now := s.now()
	s.mu.Unlock()

	ev := events.New(events.AssociationCreated, now)
	ev.IDs = []string{idA, idB}
	ev.Payload = strength
	s.sink.Emit(ev)
}

// Compress replaces an item's content with its summary. It is irreversible,
// idempotent, and a no-op for unknown ids.
func (s *Store) Compress(id string) {
	s.mu.Lock()
	e, ok := s.items[id]
	if !ok || e.item.Compressed {
		s.mu.Unlock()
		return
	}
	s.compressLocked(e)
	item := s.snapshotLocked(e)
	now := s.now()
	s.mu.Unlock()

	s.emitCompressed([]model.MemoryItem{item}, now)
}

func (s *Store) compressLocked(e *entry) {
	words := strings.Fields(e.item.Content)
	kept := make([]string, 0, s.cfg.SummaryWords)
	for _, w := range words {
		if len(kept) == s.cfg.SummaryWords {
			break
		}
		if len(w) > 4 {
			kept = append(kept, w)
		}
	}
	e.item.Essence = &model.Essence{
		WordCount: len(words),
		Hash:      strconv.FormatUint(xxhash.Sum64String(e.item.Content), 36),
	}
	e.item.Content = strings.Join(kept, " ")
	e.item.Compressed = true
	e.vec = nil
}

func (s *Store) emitCompressed(items []model.MemoryItem, at time.Time) {
	for _, item := range items {
		s.log.Debug().Str("id", item.ID).Msg("memory compressed")
		ev := events.New(events.MemoryCompressed, at)
		ev.IDs = []string{item.ID}
		ev.Payload = item
		s.sink.Emit(ev)
	}
}

// snapshotLocked copies an entry into a value the caller may keep.
func (s *Store) snapshotLocked(e *entry) model.MemoryItem {
	item := e.item
	item.Context = copyContext(e.item.Context)
	if e.item.Essence != nil {
		ess := *e.item.Essence
		item.Essence = &ess
	}
	if len(e.assoc) > 0 {
		item.Associations = make([]model.Association, 0, len(e.assoc))
		for id, strength := range e.assoc {
			item.Associations = append(item.Associations, model.Association{ID: id, Strength: strength})
		}
		sort.Slice(item.Associations, func(i, j int) bool {
			return item.Associations[i].ID < item.Associations[j].ID
		})
	}
	return item
}

func copyContext(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
