//go:build windows

package proctree

import (
	"fmt"
	"os/exec"
	"strconv"
)

// killFallback forcefully kills pid and its whole tree via taskkill. Used when
// the tree cannot be inspected.
func killFallback(pid int32) error {
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(int(pid))).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill pid %d: %v: %s", pid, err, out)
	}
	return nil
}
