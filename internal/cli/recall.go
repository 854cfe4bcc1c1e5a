package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories",
		Long: "Recall memories by similarity (query text), temporal proximity (--at, --window), " +
			"resonance (--frequency, --bandwidth) or association (--seed, --depth).",
		Run: runRecall,
	}

	cmd.Flags().StringP("mode", "m", "similarity", "Mode: similarity, temporal, resonance, associative")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0: top_k for similarity, unlimited otherwise)")
	cmd.Flags().String("at", "", "Temporal target, RFC3339 (default: now)")
	cmd.Flags().Duration("window", 0, "Temporal window (default: memory.temporal_window_sec)")
	cmd.Flags().Float64("frequency", 0.5, "Resonance target in [0,1]")
	cmd.Flags().Float64("bandwidth", 0, "Resonance bandwidth (default: memory.resonance_bandwidth)")
	cmd.Flags().String("seed", "", "Seed item id for associative recall")
	cmd.Flags().Int("depth", 0, "Associative depth (default: memory.associative_depth)")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	mode, _ := cmd.Flags().GetString("mode")
	limit, _ := cmd.Flags().GetInt("limit")
	atStr, _ := cmd.Flags().GetString("at")
	window, _ := cmd.Flags().GetDuration("window")
	frequency, _ := cmd.Flags().GetFloat64("frequency")
	bandwidth, _ := cmd.Flags().GetFloat64("bandwidth")
	seed, _ := cmd.Flags().GetString("seed")
	depth, _ := cmd.Flags().GetInt("depth")

	m := model.RecallMode(mode)
	if !model.ValidRecallModes[m] {
		exitErr("recall", fmt.Errorf("invalid mode %q (use similarity, temporal, resonance or associative)", mode))
	}

	q := memory.Query{
		Mode:      m,
		Text:      strings.Join(args, " "),
		Window:    window,
		Frequency: frequency,
		Bandwidth: bandwidth,
		SeedID:    seed,
		Depth:     depth,
		Limit:     limit,
	}
	if atStr != "" {
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			exitErr("parse --at", err)
		}
		q.At = at
	}
	switch m {
	case model.RecallSimilarity:
		if strings.TrimSpace(q.Text) == "" {
			exitErr("recall", fmt.Errorf("query text is required for similarity recall"))
		}
	case model.RecallAssociative:
		if seed == "" {
			exitErr("recall", fmt.Errorf("--seed is required for associative recall"))
		}
	}

	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	matches := rt.mem.Recall(q)

	// similarity recall updates access bookkeeping
	if m == model.RecallSimilarity && len(matches) > 0 {
		if err := rt.save(cmd.Context()); err != nil {
			exitErr("recall", err)
		}
	}

	output(matches, func() string {
		var b strings.Builder
		for _, mt := range matches {
			fmt.Fprintf(&b, "%s\t%.3f\t%s\n", mt.Item.ID, mt.Relevance, truncateLine(mt.Item.Content, 80))
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func truncateLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
