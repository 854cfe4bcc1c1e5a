package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/metrics"
	"github.com/rcliao/stream-fusion/internal/model"
	"github.com/rcliao/stream-fusion/internal/pipeline"
	"github.com/rcliao/stream-fusion/internal/store"
)

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show memory and snapshot statistics",
		Run:   runStats,
	}
	stats.Flags().Bool("active", false, "Include recently encoded items")

	m := &cobra.Command{
		Use:   "metrics",
		Short: "Print store metrics in the Prometheus text format",
		Long: "Print the restored store's metrics in the Prometheus text format. Pipeline counters start at " +
			"zero in a fresh process; use stream --metrics for counters over a session.",
		Run:   runMetrics,
	}

	RootCmd.AddCommand(stats, m)
}

func runStats(cmd *cobra.Command, args []string) {
	active, _ := cmd.Flags().GetBool("active")

	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	snap, err := rt.db.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	out := struct {
		Memory   memory.Stats          `json:"memory"`
		Pipeline pipeline.Snapshot     `json:"pipeline"`
		Storage  *store.Stats          `json:"storage"`
		Anchors  []string              `json:"anchors_this_hour,omitempty"`
		Active   []model.ActivePattern `json:"active,omitempty"`
	}{
		Memory:   rt.mem.Stats(),
		Pipeline: rt.orch.Snapshot(),
		Storage:  snap,
		Anchors:  rt.mem.Anchors(time.Now()),
	}
	if active {
		out.Active = rt.mem.ActivePatterns()
	}
	output(out, func() string {
		return fmt.Sprintf("items %d (compressed %d), associations %d, avg decay %.3f, db %s (%d bytes)",
			out.Memory.Size, out.Memory.Compressed, out.Memory.Associations, out.Memory.AverageDecay,
			out.Storage.DBPath, out.Storage.DBSizeBytes)
	})
}

func runMetrics(cmd *cobra.Command, args []string) {
	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	reg, _, err := metrics.NewRegistry(rt.orch)
	if err != nil {
		exitErr("metrics", err)
	}
	if err := metrics.WriteText(os.Stdout, reg); err != nil {
		exitErr("metrics", err)
	}
}
