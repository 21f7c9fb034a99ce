package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quotepulse-backend/internal/logging"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quotewatch",
	Short: "Watch and simulate live activity on quotes",
	Long: `quotewatch talks to a quotepulse backend.

It can follow a quote the way the team dashboard does, drive a simulated
customer session through the activity tracker, and poll viewer counts.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		logging.Init(logging.Config{Level: logging.Level(level), Output: os.Stderr})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("quotewatch version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("api", envOr("QUOTEPULSE_API", "http://localhost:8080/api/v1"), "API root URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("QUOTEPULSE_TOKEN"), "Team bearer token for the read API")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(viewersCmd)
	rootCmd.AddCommand(tokenCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
