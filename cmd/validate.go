package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"serene.dev/tdmesh/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a node configuration file",
	Long: `Validate a node configuration file without starting the node.

Examples:
  tdmesh validate -c /etc/tdmesh/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	var transmitters []string
	if cfg.Egress.UDP.Enabled {
		transmitters = append(transmitters, "udp")
	}
	if cfg.Egress.Kafka.Enabled {
		transmitters = append(transmitters, "kafka")
	}

	fmt.Fprintf(out, "VALID: node %d (%s): %d sender(s), cycle %s, vibration %s, sensor %s, egress %v\n",
		cfg.Node.ID,
		cfg.Node.Hostname,
		len(cfg.Mesh.Slots),
		cfg.CyclePeriod(),
		cfg.Engine().VibrationPolicy,
		cfg.Sensor.Type,
		transmitters,
	)
	return nil
}
