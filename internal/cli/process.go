package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/stream-fusion/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process [text]",
		Short: "Run input through the pipeline",
		Long: "Run input through the fast path and, when the skip policy allows, the slow path, " +
			"then print the fused response. Input can be a positional arg or piped via stdin.",
		Run: runProcess,
	}

	cmd.Flags().Bool("force", false, "Always run the slow path")
	cmd.Flags().Float64("importance", 0, "Caller importance in [0,1]; above the policy threshold counts as a signal")
	cmd.Flags().String("meta", "", "JSON object passed through as caller context")
	cmd.Flags().Bool("lines", false, "Treat each non-empty stdin line as a separate input, handled concurrently")

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	importance, _ := cmd.Flags().GetFloat64("importance")
	metaStr, _ := cmd.Flags().GetString("meta")
	lines, _ := cmd.Flags().GetBool("lines")

	content, err := readInput(args)
	if err != nil {
		exitErr("read input", err)
	}

	if strings.TrimSpace(content) == "" {
		exitErr("process", fmt.Errorf("input is required (positional arg or stdin)"))
	}

	meta := map[string]any{}
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			exitErr("parse meta", err)
		}
	}
	if force {
		meta["force"] = true
	}
	if cmd.Flags().Changed("importance") {
		meta["importance"] = importance
	}

	inputs := []string{strings.TrimSpace(content)}
	if lines {
		inputs = inputs[:0]
		for _, l := range strings.Split(content, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				inputs = append(inputs, l)
			}
		}
	}

	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	outcomes := make([]pipeline.Outcome, len(inputs))
	var g errgroup.Group
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			outcomes[i] = rt.orch.Handle(cmd.Context(), in, meta)
			return nil
		})
	}
	_ = g.Wait()

	if err := rt.save(cmd.Context()); err != nil {
		exitErr("process", err)
	}

	var v any = outcomes
	if len(outcomes) == 1 {
		v = outcomes[0]
	}
	output(v, func() string {
		var b strings.Builder
		for _, o := range outcomes {
			fmt.Fprintln(&b, o.Response)
			if o.Fusion != nil && o.Fusion.Note != "" {
				fmt.Fprintf(&b, "(%s)\n", o.Fusion.Note)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
