package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply decay, auto-compress and prune",
		Long:  "Run one decay sweep as of now, then prune if the store is over capacity.",
		Run:   runSweep,
	}

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	res := rt.mem.Sweep(time.Now())
	pruned := rt.mem.Prune()
	if err := rt.save(cmd.Context()); err != nil {
		exitErr("sweep", err)
	}

	out := struct {
		Scanned    int      `json:"scanned"`
		Compressed []string `json:"compressed"`
		Pruned     []string `json:"pruned"`
	}{res.Scanned, res.Compressed, pruned}
	output(out, func() string {
		return fmt.Sprintf("scanned %d, compressed %d, pruned %d", out.Scanned, len(out.Compressed), len(out.Pruned))
	})
}
