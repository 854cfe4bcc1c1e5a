package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	assoc := &cobra.Command{
		Use:   "associate <id-a> <id-b>",
		Short: "Link two memories",
		Long:  "Create or update an undirected association between two memories. Unknown ids are ignored.",
		Args:  cobra.ExactArgs(2),
		Run:   runAssociate,
	}
	assoc.Flags().Float64P("strength", "s", 0.5, "Association strength")

	compress := &cobra.Command{
		Use:   "compress <id>",
		Short: "Compress a memory to its summary",
		Args:  cobra.ExactArgs(1),
		Run:   runCompress,
	}

	RootCmd.AddCommand(assoc, compress)
}

func runAssociate(cmd *cobra.Command, args []string) {
	strength, _ := cmd.Flags().GetFloat64("strength")

	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	rt.mem.Associate(args[0], args[1], strength)
	if err := rt.save(cmd.Context()); err != nil {
		exitErr("associate", err)
	}

	a, okA := rt.mem.Get(args[0])
	_, okB := rt.mem.Get(args[1])
	linked := okA && okB && args[0] != args[1]
	output(map[string]any{"ok": linked, "from": args[0], "to": args[1], "associations": a.Associations}, func() string {
		if !linked {
			return "not linked: unknown id"
		}
		return fmt.Sprintf("linked %s <-> %s (%.2f)", args[0], args[1], strength)
	})
}

func runCompress(cmd *cobra.Command, args []string) {
	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	rt.mem.Compress(args[0])
	item, ok := rt.mem.Get(args[0])
	if !ok {
		exitErr("compress", fmt.Errorf("memory %s not found", args[0]))
	}
	if err := rt.save(cmd.Context()); err != nil {
		exitErr("compress", err)
	}
	output(item, func() string { return item.Content })
}
