// Package cli implements the stream-fusion CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/stream-fusion/internal/config"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "stream-fusion",
	Short: "Dual-path text pipeline with associative memory",
	Long: "Answers each input from a fast path at once, refines it through a staged slow path, " +
		"fuses the two and keeps what it learned in an associative memory persisted to SQLite.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: storage.db_path, ~/.stream-fusion/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.stream-fusion/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging and event tracing on stderr")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig applies the persistent flags over the loaded config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// readInput joins args, or reads piped stdin when there are none.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

// output prints v as indented JSON, or text() when --format text.
func output(v any, text func() string) {
	if formatFlag == "text" && text != nil {
		fmt.Println(text())
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
