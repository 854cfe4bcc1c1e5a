// Package slowpath runs inputs through an ordered sequence of refinement
// stages, one input at a time, and writes each finished result into the
// associative memory store.
package slowpath

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/model"
	"github.com/rcliao/stream-fusion/internal/scoring"
)

var (
	// ErrClosed is reported for submissions after Close and for jobs still
	// queued when Close is called.
	ErrClosed = errors.New("slow path closed")
	// ErrTimeout is reported when an item exceeds ItemTimeout.
	ErrTimeout = errors.New("slow path item timed out")
	// ErrEmptyInput is reported for empty or whitespace-only input.
	ErrEmptyInput = errors.New("empty input")
)

// DegradedInsight is the insight text of every degraded result.
const DegradedInsight = "Deep processing encountered an issue"

// SurfaceInsight is reported when no stage cleared the insight threshold.
const SurfaceInsight = "Surface-level processing completed."

// State is the processor's position in the per-item state machine.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateConverged State = "converged"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Memory is the part of the associative store the slow path writes to.
type Memory interface {
	Encode(content string, importance float64, context map[string]any) model.MemoryItem
	Recall(q memory.Query) []model.Match
}

// Config tunes the processor.
type Config struct {
	ItemTimeout        time.Duration
	VarianceThreshold  float64
	HighCoherence      float64
	InsightThreshold   float64
	ResonanceBandwidth float64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		ItemTimeout:        30 * time.Second,
		VarianceThreshold:  0.01,
		HighCoherence:      0.85,
		InsightThreshold:   0.7,
		ResonanceBandwidth: 0.2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	if c.VarianceThreshold <= 0 {
		c.VarianceThreshold = d.VarianceThreshold
	}
	if c.HighCoherence <= 0 {
		c.HighCoherence = d.HighCoherence
	}
	if c.InsightThreshold <= 0 {
		c.InsightThreshold = d.InsightThreshold
	}
	if c.ResonanceBandwidth <= 0 {
		c.ResonanceBandwidth = d.ResonanceBandwidth
	}
	return c
}

// Option configures a Processor.
type Option func(*Processor)

// WithStages replaces the default seven stages.
func WithStages(stages []Stage) Option {
	return func(p *Processor) { p.stages = stages }
}

// WithCoherenceScorer replaces the per-stage coherence strategy. The scorer
// receives the stage content with "previous", "stage" and "index" in its
// context.
func WithCoherenceScorer(sc scoring.Scorer) Option {
	return func(p *Processor) { p.coherence = sc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithSink receives a slow_completed event per finished item.
func WithSink(sink events.Sink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

type job struct {
	ctx   context.Context
	input string
	meta  map[string]any
	done  chan model.SlowResult
}

// Processor is the single-flight slow path. One worker goroutine drains a
// FIFO queue, so stage execution for two inputs never interleaves.
type Processor struct {
	cfg    Config
	stages []Stage
	mem    Memory

	mu     sync.Mutex
	queue  []*job
	signal chan struct{}
	closed bool
	state  State
	wg     sync.WaitGroup

	// straggler is closed when a stage abandoned on timeout returns.
	// Only the worker goroutine touches it.
	straggler chan struct{}

	coherence scoring.Scorer
	now       func() time.Time
	sink      events.Sink
	log       zerolog.Logger
}

// New starts a processor. mem may be nil, in which case results are not
// stored.
func New(cfg Config, mem Memory, opts ...Option) *Processor {
	p := &Processor{
		cfg:       cfg.withDefaults(),
		stages:    DefaultStages(),
		mem:       mem,
		signal:    make(chan struct{}, 1),
		state:     StateIdle,
		coherence: scoring.DefaultCoherence(),
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Submit queues input and waits for its result. The result is always a
// value: failures, timeouts, cancellation and submissions after Close come
// back as degraded results.
func (p *Processor) Submit(ctx context.Context, input string, meta map[string]any) model.SlowResult {
	if strings.TrimSpace(input) == "" {
		return p.degraded(model.SlowResult{Input: input}, ErrEmptyInput)
	}
	j := &job{ctx: ctx, input: input, meta: meta, done: make(chan model.SlowResult, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.degraded(model.SlowResult{Input: input}, ErrClosed)
	}
	p.queue = append(p.queue, j)
	select {
	case p.signal <- struct{}{}:
	default:
	}
	p.mu.Unlock()

	select {
	case res := <-j.done:
		return res
	case <-ctx.Done():
		return p.degraded(model.SlowResult{Input: input}, ctx.Err())
	}
}

// QueueDepth returns the number of inputs waiting behind the current one.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// State returns the state of the current or most recent item.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Close rejects queued items with ErrClosed, lets the current item finish
// and stops the worker.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	close(p.signal)
	p.mu.Unlock()

	for _, j := range pending {
		j.done <- p.degraded(model.SlowResult{Input: j.input}, ErrClosed)
	}
	p.wg.Wait()
}

func (p *Processor) loop() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		if j.ctx.Err() != nil {
			// caller already gave up
			continue
		}
		j.done <- p.run(j)
		if p.straggler != nil {
			<-p.straggler
			p.straggler = nil
		}
	}
}

func (p *Processor) next() (*job, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			j := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return j, true
		}
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		p.mu.Unlock()
		<-p.signal
	}
}

// run drives one item through the stages.
func (p *Processor) run(j *job) model.SlowResult {
	ctx, cancel := context.WithTimeout(j.ctx, p.cfg.ItemTimeout)
	defer cancel()

	p.setState(StateRunning)
	res := model.SlowResult{Input: j.input}
	prev := model.StageResult{Index: -1, Content: j.input}
	final := StateCompleted

	for i, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return p.fail(res, timeoutErr(err))
		}
		started := p.now()
		out, err := p.runStage(ctx, st, prev)
		if err != nil {
			return p.fail(res, timeoutErr(err))
		}

		cur := model.StageResult{
			Stage:      st.Name,
			Index:      i,
			Content:    out.Content,
			Concepts:   out.Concepts,
			Summaries:  append(append([]string(nil), prev.Summaries...), out.Summary),
			StartedAt:  started,
			FinishedAt: p.now(),
		}
		if cur.Concepts == nil {
			cur.Concepts = prev.Concepts
		}
		previous := prev.Content
		if i == 0 {
			previous = ""
		}
		cur.Coherence = scoring.Clamp01(p.coherence.Score(cur.Content, map[string]any{
			"previous": previous,
			"stage":    st.Name,
			"index":    i,
		}))

		res.Stages = append(res.Stages, cur)
		res.Coherences = append(res.Coherences, cur.Coherence)
		prev = cur

		if Converged(res.Coherences, i, p.cfg.VarianceThreshold, p.cfg.HighCoherence) {
			res.Converged = true
			final = StateConverged
			p.setState(StateConverged)
			break
		}
	}

	p.complete(&res, prev, j.meta)
	p.setState(final)
	p.log.Debug().
		Int("depth", res.Depth).
		Bool("converged", res.Converged).
		Float64("coherence", res.Coherence).
		Msg("slow path completed")

	ev := events.New(events.SlowCompleted, res.Timestamp)
	if res.MemoryID != "" {
		ev.IDs = []string{res.MemoryID}
	}
	ev.Payload = res
	p.sink.Emit(ev)
	return res
}

// runStage runs one transformation, converting a panic into an error and
// abandoning a stage that outlives ctx.
func (p *Processor) runStage(ctx context.Context, st Stage, prev model.StageResult) (Output, error) {
	type result struct {
		out Output
		err error
	}
	ch := make(chan result, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Str("stage", st.Name).Interface("panic", r).Msg("stage panicked")
				ch <- result{err: fmt.Errorf("stage %s panicked: %v", st.Name, r)}
			}
		}()
		out, err := st.Transform(ctx, prev)
		if err != nil {
			err = fmt.Errorf("stage %s: %w", st.Name, err)
		}
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		// the caller gets its result now but the next item waits for this
		// stage to return
		p.straggler = finished
		return Output{}, ctx.Err()
	}
}

// complete fills the summary fields and writes the result into memory.
func (p *Processor) complete(res *model.SlowResult, last model.StageResult, meta map[string]any) {
	res.Depth = len(res.Stages)
	res.Coherence = GlobalCoherence(res.Coherences)
	res.Concepts = last.Concepts
	for _, st := range res.Stages {
		if st.Coherence > p.cfg.InsightThreshold {
			res.Insights = append(res.Insights, model.Insight{
				Stage:     st.Stage,
				Index:     st.Index,
				Coherence: st.Coherence,
				Text:      insightText(st.Index),
			})
		}
	}

	related := 0
	if p.mem != nil {
		ctx := make(map[string]any, len(meta)+3)
		for k, v := range meta {
			ctx[k] = v
		}
		ctx["source"] = "slow_path"
		ctx["depth"] = res.Depth
		ctx["coherence"] = res.Coherence

		item := p.mem.Encode(last.Content, p.importance(*res), ctx)
		res.MemoryID = item.ID
		res.Resonance = item.Resonance
		for _, m := range p.mem.Recall(memory.Query{
			Mode:      model.RecallResonance,
			Frequency: item.Resonance,
			Bandwidth: p.cfg.ResonanceBandwidth,
		}) {
			if m.Item.ID != item.ID {
				related++
			}
		}
	}
	res.Insight = p.insight(res.Insights, related)
	res.Timestamp = p.now()
}

// importance blends coherence, depth reached and insight count.
func (p *Processor) importance(res model.SlowResult) float64 {
	n := float64(len(p.stages))
	if n == 0 {
		return scoring.Clamp01(res.Coherence * 0.4)
	}
	return scoring.Clamp01(res.Coherence*0.4 +
		float64(res.Depth)/n*0.3 +
		float64(len(res.Insights))/n*0.3)
}

func (p *Processor) insight(insights []model.Insight, related int) string {
	if len(insights) == 0 {
		return SurfaceInsight
	}
	best := insights[0]
	for _, in := range insights[1:] {
		if in.Coherence > best.Coherence {
			best = in
		}
	}
	text := fmt.Sprintf("%s (stage %d, coherence %.2f).", best.Text, best.Index+1, best.Coherence)
	if related > 0 {
		text += fmt.Sprintf(" This resonates with %d related memories.", related)
	}
	return text
}

func (p *Processor) fail(res model.SlowResult, err error) model.SlowResult {
	p.setState(StateFailed)
	p.log.Warn().Err(err).Int("stages", len(res.Stages)).Msg("slow path degraded")
	return p.degraded(res, err)
}

func (p *Processor) degraded(res model.SlowResult, err error) model.SlowResult {
	res.Error = err.Error()
	res.Insight = DegradedInsight
	res.Depth = len(res.Stages)
	res.Timestamp = p.now()
	return res
}

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
