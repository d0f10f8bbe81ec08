package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/internal/config"
)

var (
	flagConfigFile string
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Epic orchestration core",
	Long: `Warren decomposes epics into sub-tasks, assigns each sub-task to a
permissioned in-process agent with its own append-only execution branch,
and runs the sub-tasks concurrently under a bounded-parallelism policy.

Epics are described in a YAML catalog; each run produces a per-sub-task
audit branch that can be archived to SQLite and inspected later.`,
}

// loadConfig resolves configuration: an explicit --config file wins over the
// usual discovery (env, project .warren.yaml, user config, defaults).
func loadConfig() (*config.Config, error) {
	if flagConfigFile != "" {
		return config.LoadFromPath(flagConfigFile)
	}
	return config.Load(".")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (overrides .warren.yaml discovery)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Write a debug log")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}
