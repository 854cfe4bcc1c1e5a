package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/stream-fusion/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memories from JSON",
		Long:  "Import memories from JSON on stdin. Expects the format produced by export; existing ids are skipped.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var items []model.MemoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		exitErr("parse json", err)
	}

	rt := mustRuntime(cmd.Context())
	defer rt.Close()

	imported := rt.mem.Import(items)
	if err := rt.save(cmd.Context()); err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", imported)
}
