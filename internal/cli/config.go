package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/stream-fusion/internal/config"
)

func init() {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Run:   runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config (file, env and flags applied)",
		Run:   runConfigShow,
	}

	cfgCmd.AddCommand(initCmd, showCmd)
	RootCmd.AddCommand(cfgCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil && !force {
		exitErr("config init", fmt.Errorf("%s exists (use --force to overwrite)", path))
	}
	if err := config.Default().SaveToPath(path); err != nil {
		exitErr("config init", err)
	}
	fmt.Printf(`{"ok":true,"path":%q}`+"\n", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		exitErr("marshal config", err)
	}
	fmt.Print(string(b))
}
