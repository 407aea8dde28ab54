// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"serene.dev/tdmesh/internal/daemon"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tdmesh",
	Short: "tdmesh - TDM mesh audio and vibration slot engine",
	Long: `tdmesh runs one node of a TDM audio mesh.

Every cycle the node collects one audio sample per assigned sender, plus the
local vibration reading in the reserved last slot, and publishes the frame to
its peers (UDP) and to Kafka.

Features:
  - Lock-free, allocation-free sample ingress
  - Double-buffered frames, tear-free publication at every cycle boundary
  - Serial accelerometer/battery bridge or simulated vibration source
  - Prometheus metrics and InfluxDB telemetry`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/tdmesh/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
