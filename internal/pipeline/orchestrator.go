// Package pipeline decides per input whether the slow path runs, runs the
// fast and slow paths concurrently and hands both results to fusion.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/model"
)

// FastPath answers immediately.
type FastPath interface {
	Process(input string) model.FastResult
	BufferLen() int
}

// SlowPath refines one input at a time.
type SlowPath interface {
	Submit(ctx context.Context, input string, meta map[string]any) model.SlowResult
	QueueDepth() int
}

// Fuser merges the two results.
type Fuser interface {
	Fuse(fast model.FastResult, slow model.SlowResult, input string) model.FusionRecord
	Len() int
}

// MemoryStats reports store counts.
type MemoryStats interface {
	Stats() memory.Stats
}

type runner interface {
	Run(ctx context.Context)
}

// State is a step in the per-input trace.
type State string

const (
	StateReceived       State = "received"
	StateFastDispatched State = "fast_dispatched"
	StateSlowDispatched State = "slow_dispatched"
	StateSlowSkipped    State = "slow_skipped"
	StateFused          State = "fused"
	StateDelivered      State = "delivered"
)

// Outcome is what Handle returns for one input. Fusion and Slow are nil
// when the slow path was skipped.
type Outcome struct {
	ID             string              `json:"id"`
	Input          string              `json:"input"`
	States         []State             `json:"states"`
	Decision       Decision            `json:"decision"`
	Fast           model.FastResult    `json:"fast"`
	Slow           *model.SlowResult   `json:"slow,omitempty"`
	Fusion         *model.FusionRecord `json:"fusion,omitempty"`
	Response       string              `json:"response"`
	TotalLatency   time.Duration       `json:"-"`
	TotalLatencyMs float64             `json:"total_latency_ms"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMemoryStats adds store counts to snapshots and runs the store's
// decay loop from Run when it has one.
func WithMemoryStats(m MemoryStats) Option {
	return func(o *Orchestrator) { o.mem = m }
}

// Orchestrator is safe for concurrent use; many inputs may be in flight.
type Orchestrator struct {
	cfg  Config
	fast FastPath
	slow SlowPath
	fuse Fuser
	mem  MemoryStats

	handled  atomic.Uint64
	slowRuns atomic.Uint64
	skipped  atomic.Uint64
	degraded atomic.Uint64

	now func() time.Time
	log zerolog.Logger
}

// New creates an orchestrator over the three components.
func New(cfg Config, fast FastPath, slow SlowPath, fuser Fuser, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:  cfg.withDefaults(),
		fast: fast,
		slow: slow,
		fuse: fuser,
		now:  time.Now,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ShouldRunSlow applies the skip policy to input and raw caller context.
func (o *Orchestrator) ShouldRunSlow(input string, meta map[string]any) bool {
	return o.cfg.ShouldRunSlow(input, ParseMeta(meta))
}

// Handle runs one input through the pipeline. When the slow path runs it
// starts alongside the fast path and fusion always follows, even for a
// degraded slow result. When skipped, the fast result is returned without
// fusion.
func (o *Orchestrator) Handle(ctx context.Context, input string, meta map[string]any) Outcome {
	start := o.now()
	out := Outcome{
		ID:     uuid.NewString(),
		Input:  input,
		States: []State{StateReceived},
	}
	parsed := ParseMeta(meta)
	out.Decision = o.cfg.Decide(input, parsed)
	out.States = append(out.States, StateFastDispatched)

	if !out.Decision.Run {
		out.States = append(out.States, StateSlowSkipped)
		out.Fast = o.fast.Process(input)
		out.Response = out.Fast.Response
		o.skipped.Add(1)
	} else {
		out.States = append(out.States, StateSlowDispatched)
		var fast model.FastResult
		var slow model.SlowResult

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			fast = o.fast.Process(input)
			return nil
		})
		g.Go(func() error {
			slow = o.slow.Submit(gctx, input, meta)
			return nil
		})
		_ = g.Wait()

		rec := o.fuse.Fuse(fast, slow, input)
		out.Fast = fast
		out.Slow = &slow
		out.Fusion = &rec
		out.Response = rec.Merged
		out.States = append(out.States, StateFused)
		o.slowRuns.Add(1)
		if slow.Degraded() {
			o.degraded.Add(1)
		}
	}

	out.States = append(out.States, StateDelivered)
	out.TotalLatency = o.now().Sub(start)
	out.TotalLatencyMs = float64(out.TotalLatency.Microseconds()) / 1000
	o.handled.Add(1)

	ev := o.log.Info().
		Str("id", out.ID).
		Bool("slow", out.Decision.Run).
		Strs("signals", out.Decision.Signals).
		Dur("latency", out.TotalLatency)
	if out.Fusion != nil {
		ev = ev.Stringer("tier", out.Fusion.Tier)
	}
	ev.Msg("input handled")
	return out
}

// Snapshot is the status view exposed to collaborators.
type Snapshot struct {
	StoreSize          int     `json:"store_size"`
	CompressedItems    int     `json:"compressed_items"`
	AverageDecay       float64 `json:"average_decay"`
	AssociationDensity float64 `json:"association_density"`
	QueueDepth         int     `json:"queue_depth"`
	FusionBuffer       int     `json:"fusion_buffer"`
	FastBuffer         int     `json:"fast_buffer"`
	Handled            uint64  `json:"handled"`
	SlowRuns           uint64  `json:"slow_runs"`
	SlowSkipped        uint64  `json:"slow_skipped"`
	Degraded           uint64  `json:"degraded"`
}

// Snapshot returns current counts.
func (o *Orchestrator) Snapshot() Snapshot {
	s := Snapshot{
		QueueDepth:   o.slow.QueueDepth(),
		FusionBuffer: o.fuse.Len(),
		FastBuffer:   o.fast.BufferLen(),
		Handled:      o.handled.Load(),
		SlowRuns:     o.slowRuns.Load(),
		SlowSkipped:  o.skipped.Load(),
		Degraded:     o.degraded.Load(),
	}
	if o.mem != nil {
		st := o.mem.Stats()
		s.StoreSize = st.Size
		s.CompressedItems = st.Compressed
		s.AverageDecay = st.AverageDecay
		s.AssociationDensity = st.AssociationDensity
	}
	return s
}

// Run drives the components' background loops (batch aggregation, decay
// sweep) until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range []any{o.fast, o.mem} {
		r, ok := c.(runner)
		if !ok {
			continue
		}
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
