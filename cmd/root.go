// Package cmd provides the CLI commands for voltscope using Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "voltscope",
	Short: "Serial telemetry acquisition and consolidation",
	Long: `Voltscope acquires a two-channel analog stream from an instrument on a
serial port and manages its whole lifecycle:

  - Live monitoring with sliding-window statistics and a terminal trace
  - Session recording to durable, append-only CSV files
  - Consolidation of record files into a SQLite database
  - Automatic background synchronization driven by file-system events

Examples:
  voltscope list ports                             # Enumerate serial ports
  voltscope monitor /dev/ttyUSB0                   # Live acquisition
  voltscope monitor /dev/ttyUSB0 --record -p 7     # Record a session
  voltscope sync --data-dir ./data --db backup.db  # One-shot consolidation
  voltscope sessions --db backup.db                # List stored sessions`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "acquire", Title: "Acquisition Commands:"},
		&cobra.Group{ID: "storage", Title: "Storage Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	// Add subcommands
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(listCmd)
}
