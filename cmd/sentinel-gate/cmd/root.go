// Package cmd provides the CLI commands for Sentinel Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/Sentinelgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel-gate",
	Short: "Sentinel Gate - containment gateway for AI agents",
	Long: `Sentinel Gate brokers every tool call an AI agent makes: identity,
kill switches, quarantine, rate limiting, policy evaluation, DLP taint
tracking, human approval, and credential brokering sit in front of
execution, and every decision is traced for evidence export.

Configuration is read entirely from AGENTGATE_* environment variables
(AGENTGATE_OPA_URL, AGENTGATE_REDIS_URL, AGENTGATE_POLICY_PATH,
AGENTGATE_TRACE_DB, ...). There is no config file to edit.

Commands:
  serve       Start the gateway server
  stop        Stop the running server
  reset       Reset to a clean state (remove the trace database)
  hash-key    Generate SHA256 hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
