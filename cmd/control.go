package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/daemon"
)

// ControlClient controls a running node.
type ControlClient interface {
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
}

// pidClient signals the node through its PID file.
type pidClient struct {
	pidFile string
	wait    time.Duration
}

func (c pidClient) Stop(context.Context) error { return daemon.StopDaemon(c.pidFile, c.wait) }

func (c pidClient) Reload(context.Context) error { return daemon.ReloadDaemon(c.pidFile) }

// cli is replaced in tests.
var cli ControlClient

// SetClient sets the control client used by stop and reload.
func SetClient(c ControlClient) { cli = c }

// GetClient returns the control client, resolving the PID file from the
// flag or the config file on first use.
func GetClient() (ControlClient, error) {
	if cli != nil {
		return cli, nil
	}
	path := pidFile
	if path == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("resolve pid file: %w", err)
		}
		path = cfg.Control.PIDFile
	}
	if path == "" {
		return nil, fmt.Errorf("no PID file: set --pidfile or control.pid_file")
	}
	return pidClient{pidFile: path, wait: 10 * time.Second}, nil
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running node",
	Long: `Stop a running node gracefully.

This command sends SIGTERM to the process recorded in the PID file and waits
for it to flush its transmitters and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}
		return runStop(cmd.Context(), c, cmd.OutOrStdout())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient()
		if err != nil {
			return err
		}
		return runReload(cmd.Context(), c, cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client ControlClient, out io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Node stopped")
	return nil
}

func runReload(ctx context.Context, client ControlClient, out io.Writer) error {
	if err := client.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
