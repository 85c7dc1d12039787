package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/Sentinelgate/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the gateway to a clean state",
	Long: `Reset removes the trace database (AGENTGATE_TRACE_DB). This clears
every recorded TraceEvent, incident, and policy revision — the gateway
boots with no history on next start.

Examples:
  # Reset with confirmation
  sentinel-gate reset

  # Reset without prompting
  sentinel-gate reset --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := os.Stat(cfg.TraceDB); os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no trace database found.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "The following will be removed:\n  - %s (trace database)\n", cfg.TraceDB)

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	if err := os.Remove(cfg.TraceDB); err != nil {
		return fmt.Errorf("failed to remove trace database: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Reset complete. The gateway will start fresh on next launch.")
	return nil
}
