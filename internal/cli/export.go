package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory, with spiral position, decay and associations, as a JSON array in insertion order.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	b, _ := json.MarshalIndent(rt.mem.Export(), "", "  ")
	fmt.Println(string(b))
}
