package proctree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	defaultTargetTimeout = 3 * time.Second
	defaultChildTimeout  = time.Second
	exitPollInterval     = 50 * time.Millisecond
)

// Policy controls how a tree is brought down. With Graceful set each process
// receives a terminate signal first and is only killed once the wait elapses;
// without it every process is killed outright.
type Policy struct {
	Graceful      bool
	TargetTimeout time.Duration
	ChildTimeout  time.Duration
}

// DefaultPolicy returns the graceful-then-forceful escalation used unless the
// caller opts into immediate kills.
func DefaultPolicy() Policy {
	return Policy{
		Graceful:      true,
		TargetTimeout: defaultTargetTimeout,
		ChildTimeout:  defaultChildTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	if p.TargetTimeout <= 0 {
		p.TargetTimeout = defaultTargetTimeout
	}
	if p.ChildTimeout <= 0 {
		p.ChildTimeout = defaultChildTimeout
	}
	return p
}

// Terminator tears down process trees. It never returns errors: a vanished
// process is the desired end state, and anything else worth knowing about is
// reported through the diagnostic callback.
type Terminator struct {
	policy Policy
	diag   func(string)
}

// NewTerminator constructs a terminator with the provided policy. diag may be
// nil when the caller has no use for diagnostics.
func NewTerminator(policy Policy, diag func(string)) *Terminator {
	if diag == nil {
		diag = func(string) {}
	}
	return &Terminator{policy: policy.withDefaults(), diag: diag}
}

// Terminate stops target and everything below it, then sweeps root if it is a
// distinct process that is still alive. Descendants are snapshotted before the
// first signal is sent because terminating a parent can orphan or reap its
// children depending on the platform. Idempotent: calling it on an
// already-terminated tree does nothing.
func (t *Terminator) Terminate(ctx context.Context, target, root int32) {
	t.terminateTree(ctx, target)
	if root <= 0 || root == target {
		return
	}
	proc, err := process.NewProcess(root)
	if err != nil {
		if gone(err) {
			return
		}
		t.diag(fmt.Sprintf("process tree inspection unavailable for pid %d: %v; using forceful fallback", root, err))
		if err := killFallback(root); err != nil {
			t.diag(fmt.Sprintf("fallback kill pid %d: %v", root, err))
		}
		return
	}
	t.stop(ctx, proc, t.policy.TargetTimeout)
}

func (t *Terminator) terminateTree(ctx context.Context, target int32) {
	if target <= 0 {
		return
	}
	proc, err := process.NewProcess(target)
	if err != nil {
		if gone(err) {
			return
		}
		t.diag(fmt.Sprintf("process tree inspection unavailable for pid %d: %v; using forceful fallback", target, err))
		if err := killFallback(target); err != nil {
			t.diag(fmt.Sprintf("fallback kill pid %d: %v", target, err))
		}
		return
	}

	children := descendants(proc)
	t.stop(ctx, proc, t.policy.TargetTimeout)
	for _, child := range children {
		t.stop(ctx, child, t.policy.ChildTimeout)
	}
}

// stop escalates a single process from terminate to kill within wait.
func (t *Terminator) stop(ctx context.Context, proc *process.Process, wait time.Duration) {
	if t.policy.Graceful {
		err := proc.Terminate()
		switch {
		case err == nil:
			if t.waitExit(ctx, proc, wait) {
				return
			}
		case gone(err):
			return
		default:
			t.diag(fmt.Sprintf("terminate pid %d: %v", proc.Pid, err))
		}
	}
	if err := proc.Kill(); err != nil && !gone(err) {
		t.diag(fmt.Sprintf("kill pid %d: %v", proc.Pid, err))
	}
}

// waitExit polls until proc exits, the timeout elapses or ctx is cancelled.
// It reports true once the process is no longer running.
func (t *Terminator) waitExit(ctx context.Context, proc *process.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		running, err := proc.IsRunning()
		if err != nil || !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(exitPollInterval):
		}
	}
}

func gone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrProcessDone) ||
		errors.Is(err, syscall.ESRCH)
}
