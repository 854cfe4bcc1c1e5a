package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/config"
	"github.com/rcliao/stream-fusion/internal/events"
	"github.com/rcliao/stream-fusion/internal/fastpath"
	"github.com/rcliao/stream-fusion/internal/fusion"
	"github.com/rcliao/stream-fusion/internal/logging"
	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/pipeline"
	"github.com/rcliao/stream-fusion/internal/slowpath"
	"github.com/rcliao/stream-fusion/internal/store"
)

// runtime is one process's wiring: the memory restored from the snapshot
// and the pipeline built over it.
type runtime struct {
	cfg *config.Config
	log zerolog.Logger
	bus *events.Bus

	db    *store.SQLiteStore
	mem   *memory.Store
	fast  *fastpath.Processor
	slow  *slowpath.Processor
	fuser *fusion.Coordinator
	orch  *pipeline.Orchestrator

	closeLog func() error
}

// openRuntime opens the snapshot at cfg.Storage.DBPath, restores it into a
// fresh store and wires the pipeline. Logs go to logOut.
func openRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	log, closeLog, err := logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log, bus: events.NewBus(), db: db, closeLog: closeLog}
	if log.GetLevel() <= zerolog.DebugLevel {
		rt.bus.Subscribe("", func(e events.Event) {
			log.Debug().Str("kind", string(e.Kind)).Strs("ids", e.IDs).Int("count", e.Count).Msg("event")
		})
	}
	sink := rt.bus.Sink()

	rt.mem = memory.New(cfg.Memory.MemoryConfig(),
		memory.WithSink(sink),
		memory.WithLogger(log.With().Str("component", "memory").Logger()),
	)
	items, err := db.Load(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	restored := rt.mem.Import(items)
	log.Debug().Int("items", restored).Str("db", cfg.Storage.DBPath).Msg("snapshot restored")

	rt.fast = fastpath.New(cfg.FastPath.FastPathConfig(),
		fastpath.WithSink(sink),
		fastpath.WithLogger(log.With().Str("component", "fast_path").Logger()),
	)
	rt.slow = slowpath.New(cfg.SlowPath.SlowPathConfig(), rt.mem,
		slowpath.WithSink(sink),
		slowpath.WithLogger(log.With().Str("component", "slow_path").Logger()),
	)
	rt.fuser = fusion.New(cfg.Fusion.FusionConfig(),
		fusion.WithSink(sink),
		fusion.WithLogger(log.With().Str("component", "fusion").Logger()),
	)
	rt.orch = pipeline.New(cfg.Pipeline.PipelineConfig(), rt.fast, rt.slow, rt.fuser,
		pipeline.WithMemoryStats(rt.mem),
		pipeline.WithLogger(log.With().Str("component", "pipeline").Logger()),
	)
	return rt, nil
}

// save writes the store back to the snapshot.
func (rt *runtime) save(ctx context.Context) error {
	items := rt.mem.Export()
	if err := rt.db.Save(ctx, items); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	rt.log.Debug().Int("items", len(items)).Msg("snapshot saved")
	return nil
}

func (rt *runtime) Close() {
	if rt.slow != nil {
		rt.slow.Close()
	}
	rt.bus.Close()
	rt.db.Close()
	rt.closeLog()
}

// mustRuntime loads config and opens the runtime, exiting on failure.
func mustRuntime(ctx context.Context) *runtime {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	rt, err := openRuntime(ctx, cfg, os.Stderr)
	if err != nil {
		exitErr("open runtime", err)
	}
	return rt
}
