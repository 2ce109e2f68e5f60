//go:build !windows

package proctree

import (
	"errors"
	"syscall"
)

// killFallback forcefully kills the process group containing pid. Used when
// the tree cannot be inspected; the group signal reaches descendants the
// walker never saw.
func killFallback(pid int32) error {
	pgid, err := syscall.Getpgid(int(pid))
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
