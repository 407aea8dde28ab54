// Package daemon implements the node lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/egress"
	"serene.dev/tdmesh/internal/ingress"
	logpkg "serene.dev/tdmesh/internal/log"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
	"serene.dev/tdmesh/internal/scheduler"
	"serene.dev/tdmesh/internal/sensor"
	"serene.dev/tdmesh/internal/telemetry"
)

// Version is reported at startup; set with -ldflags at build time.
var Version = "dev"

// Daemon manages the tdmesh node process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	mesh          *mesh.Mesh
	listener      *ingress.Listener
	egress        *egress.Fanout
	clock         *scheduler.Clock
	source        sensor.Source       // nil if sensor.type=none
	feeder        *sensor.Feeder      // nil if sensor.type=none
	reporter      *telemetry.Reporter // nil if influx disabled
	collector     *metrics.Collector
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a new Daemon instance. pidFile overrides control.pid_file when
// not empty.
func New(configPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting tdmesh daemon",
		"version", Version,
		"hostname", d.config.Node.Hostname,
		"node", d.config.Node.ID,
		"config", d.configPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Mesh engine
	table, err := d.config.SlotTable()
	if err != nil {
		return fmt.Errorf("failed to build slot table: %w", err)
	}
	d.mesh = mesh.New(d.config.Engine())
	d.mesh.Init(table)
	slog.Info("mesh initialized",
		"senders", table.Len(),
		"cycle_period", d.config.CyclePeriod(),
		"vibration_policy", d.config.Engine().VibrationPolicy.String(),
	)

	// 4. Start metrics server and collector
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Egress transmitters
	d.egress, err = egress.Build(d.config.Egress, d.config.Node, d.config.Sensor.Type != "none")
	if err != nil {
		return fmt.Errorf("failed to start egress: %w", err)
	}

	// 6. Sensor feed
	if err := d.startSensor(); err != nil {
		return fmt.Errorf("failed to start sensor: %w", err)
	}

	// 7. Ingress listener
	d.listener = ingress.New(d.config.Ingress, d.mesh)
	if err := d.listener.Start(); err != nil {
		return fmt.Errorf("failed to start ingress: %w", err)
	}
	d.goRun("ingress", func(ctx context.Context) {
		if err := d.listener.Run(ctx); err != nil {
			slog.Error("ingress listener failed", "error", err)
			d.TriggerShutdown()
		}
	})

	// 8. Telemetry (non-fatal: the mesh runs without it)
	if d.config.Telemetry.Influx.Enabled {
		var reading telemetry.ReadingSource
		if d.feeder != nil {
			reading = d.feeder
		}
		d.reporter = telemetry.NewReporter(d.config.Telemetry.Influx, d.config.Node, d.mesh, reading)
		d.goRun("telemetry", d.reporter.Run)
	}

	// 9. Cycle clock
	var tx egress.Transmitter
	if d.egress.Len() > 0 {
		tx = d.egress
	}
	d.clock = scheduler.New(d.mesh, tx, d.config.CyclePeriod())
	d.goRun("clock", d.clock.Run)

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Cancel context to stop the clock, feeder, telemetry and ingress
	d.cancel()
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.wg.Wait()

	// 2. Flush transmitters
	if d.egress != nil {
		if err := d.egress.Close(); err != nil {
			slog.Error("error closing egress", "error", err)
		}
	}

	// 3. Release sensor and telemetry
	if d.source != nil {
		if err := d.source.Close(); err != nil {
			slog.Error("error closing sensor", "error", err)
		}
	}
	if d.reporter != nil {
		d.reporter.Report()
		d.reporter.Close()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	if d.mesh != nil {
		st := d.mesh.Stats()
		slog.Info("daemon stopped gracefully",
			"cycles", d.mesh.Cycle(),
			"accepted", st.Accepted,
			"dropped", st.Dropped(),
		)
	}

	// 7. Flush logs
	logpkg.Flush()
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown, e.g. after a fatal component error
//
// SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log settings, metrics collect interval.
// Cold (requires restart): slot table, cycle period, listen addresses,
// egress, sensor and telemetry settings.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	oldConfig := d.config

	// 1. Logging
	if !reflect.DeepEqual(newConfig.Log, oldConfig.Log) {
		if err := logpkg.Init(newConfig.Log); err != nil {
			slog.Error("failed to reinitialize logging", "error", err)
			newConfig.Log = oldConfig.Log
		} else {
			hotReloaded = append(hotReloaded, "log")
		}
	}

	// 2. Metrics collection interval
	if d.collector != nil && newConfig.Metrics.CollectInterval != oldConfig.Metrics.CollectInterval {
		d.collector.SetInterval(config.Duration(newConfig.Metrics.CollectInterval, d.collector.Interval()))
		hotReloaded = append(hotReloaded, "metrics.collect_interval")
	}

	// 3. Warn about cold-reload items that changed
	requiresRestart := coldChanges(oldConfig, newConfig)

	d.config = newConfig
	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// coldChanges lists settings that changed but only take effect on restart.
func coldChanges(oldCfg, newCfg *config.GlobalConfig) []string {
	var changed []string
	check := func(key string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, key)
		}
	}
	check("node", oldCfg.Node, newCfg.Node)
	check("mesh", oldCfg.Mesh, newCfg.Mesh)
	check("ingress", oldCfg.Ingress, newCfg.Ingress)
	check("egress", oldCfg.Egress, newCfg.Egress)
	check("sensor", oldCfg.Sensor, newCfg.Sensor)
	check("telemetry", oldCfg.Telemetry, newCfg.Telemetry)
	check("metrics.listen", oldCfg.Metrics.Listen, newCfg.Metrics.Listen)
	return changed
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Mesh returns the running mesh engine, or nil before Start.
func (d *Daemon) Mesh() *mesh.Mesh { return d.mesh }

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig { return d.config }

func (d *Daemon) goRun(name string, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
		slog.Debug("component stopped", "component", name)
	}()
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics collector and, if enabled, the HTTP server.
func (d *Daemon) startMetrics() error {
	d.collector = metrics.NewCollector(d.mesh, config.Duration(d.config.Metrics.CollectInterval, 5*time.Second))
	d.goRun("metrics-collector", d.collector.Run)

	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.mesh.Initialized)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}

// startSensor opens the configured sensor source and starts the feeder.
func (d *Daemon) startSensor() error {
	src, err := sensor.Open(d.config.Sensor)
	if err != nil {
		return err
	}
	if src == nil {
		slog.Info("no vibration sensor configured")
		return nil
	}
	d.source = src
	d.feeder = sensor.NewFeeder(src, d.mesh)
	period := d.config.CyclePeriod()
	d.goRun("sensor", func(ctx context.Context) { d.feeder.Run(ctx, period) })
	slog.Info("sensor feeder started", "type", d.config.Sensor.Type)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
