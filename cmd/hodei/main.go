package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hodei",
	Short: "Hodei - distributed job orchestrator",
	Long: `Hodei runs shell jobs across pools of ephemeral workers.

The server schedules queued jobs onto registered workers, ships their
input artifacts over a persistent TCP connection, and streams logs and
status back. The same binary runs the server, the worker agent and the
management CLI.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(level), Output: os.Stderr})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hodei version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server", "", "Server URL (overrides the current context)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(artifactCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(contextCmd)
}
