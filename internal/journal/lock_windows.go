//go:build windows

package journal

import "os"

// pidAlive is a best-effort probe; FindProcess succeeds for any PID on
// Windows, so a stale lock is assumed only when the PID is invalid.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
