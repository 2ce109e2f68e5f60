package proctree

import (
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Locate walks the descendants of root and returns the PID of the first
// process whose command line contains signature (case-insensitive). The
// second return value reports whether a worker was found; a miss is a normal
// outcome, not an error, and callers are expected to fall back to the root
// process as their termination target.
func Locate(root int32, signature string) (int32, bool) {
	if signature == "" {
		return 0, false
	}
	parent, err := process.NewProcess(root)
	if err != nil {
		return 0, false
	}
	needle := strings.ToLower(signature)
	for _, child := range descendants(parent) {
		cmdline, err := child.Cmdline()
		if err != nil {
			// Already gone or not ours to inspect.
			continue
		}
		if strings.Contains(strings.ToLower(cmdline), needle) {
			return child.Pid, true
		}
	}
	return 0, false
}

// descendants returns the transitive children of p in breadth-first order.
// Enumeration failures prune the affected subtree rather than aborting the
// walk.
func descendants(p *process.Process) []*process.Process {
	var all []*process.Process
	queue := []*process.Process{p}
	seen := map[int32]struct{}{p.Pid: {}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := next.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			if _, ok := seen[child.Pid]; ok {
				continue
			}
			seen[child.Pid] = struct{}{}
			all = append(all, child)
			queue = append(queue, child)
		}
	}
	return all
}
