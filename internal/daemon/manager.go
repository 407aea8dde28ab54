package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// StopDaemon sends SIGTERM to the daemon recorded in pidFile and waits for
// it to exit.
func StopDaemon(pidFile string, wait time.Duration) error {
	pid, err := signalDaemon(pidFile, syscall.SIGTERM)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) still running after %s", pid, wait)
}

// ReloadDaemon sends SIGHUP to the daemon recorded in pidFile.
func ReloadDaemon(pidFile string) error {
	_, err := signalDaemon(pidFile, syscall.SIGHUP)
	return err
}

func signalDaemon(pidFile string, sig syscall.Signal) (int, error) {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("daemon not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := process.Signal(sig); err != nil {
		return 0, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func readPidFile(pidFile string) (int, error) {
	if pidFile == "" {
		return 0, fmt.Errorf("no pid file configured")
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", pidFile)
	}
	return pid, nil
}
