package staging

import (
	"os"
	"syscall"
	"time"
)

// isProcessAlive checks whether a process with the given PID is running.
// On Unix, sending signal 0 checks for existence without actually signaling.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// terminateGroup sends SIGTERM to the process group (negative PID, so
// dev-server descendants like node and esbuild watchers die too), waits up
// to grace for done to close, then SIGKILLs the group.
//
// done may be nil when the process was spawned by a previous manager
// instance; in that case liveness is polled instead.
func terminateGroup(pid int, done <-chan struct{}, grace time.Duration) {
	if pid <= 0 {
		return
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Group already gone; fall back to a direct best-effort kill.
		if proc, findErr := os.FindProcess(pid); findErr == nil {
			_ = proc.Kill()
		}
		return
	}

	if done != nil {
		select {
		case <-done:
			return
		case <-time.After(grace):
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			<-done
		}
		return
	}

	// No exit channel to acknowledge on — poll the process table.
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
