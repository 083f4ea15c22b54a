//go:build unix

package journal

import (
	"os"
	"syscall"
)

// pidAlive probes a PID with signal 0. EPERM still means the process
// exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
