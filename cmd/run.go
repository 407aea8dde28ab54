package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"serene.dev/tdmesh/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tdmesh node in foreground",
	Long: `Run the tdmesh node in foreground.

The node will:
  1. Load configuration and build the slot table
  2. Initialize logging, metrics and the mesh engine
  3. Open egress transmitters and the vibration sensor
  4. Receive samples and publish a frame every cycle period
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
