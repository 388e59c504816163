package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned when the PID file names no live process.
var ErrNotRunning = errors.New("daemon not running")

// ReadPIDFile returns the pid recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s", path)
	}
	return pid, nil
}

// Running reports whether the process named by the PID file is alive.
func Running(pidFile string) (int, bool) {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the daemon named by the PID file.
func Signal(pidFile string, sig syscall.Signal) error {
	pid, ok := Running(pidFile)
	if !ok {
		return ErrNotRunning
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Terminate sends SIGTERM and waits up to timeout for the process to exit.
// Used when the control socket is unreachable.
func Terminate(pidFile string, timeout time.Duration) error {
	pid, ok := Running(pidFile)
	if !ok {
		return ErrNotRunning
	}
	if err := Signal(pidFile, syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
}
