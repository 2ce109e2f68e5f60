package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pdfmill/pdfmill/internal/proctree"
	"github.com/pdfmill/pdfmill/internal/runtime"
)

type runtimeImpl struct {
	policy proctree.Policy
}

// New constructs a runtime that executes conversion jobs as local shell
// processes, terminated per the provided policy.
func New(policy proctree.Policy) runtime.Runtime {
	return &runtimeImpl{policy: policy}
}

func (r *runtimeImpl) Start(ctx context.Context, spec runtime.JobSpec) (runtime.Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("process runtime requires a command")
	}

	shell, flag := systemShell()
	cmd := exec.Command(shell, flag, spec.Command)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	if spec.Env != nil {
		overrides := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			overrides = append(overrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, overrides...)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("job stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("job stderr: %w", err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}

	h := &jobHandle{
		cmd:    cmd,
		policy: r.policy,
		logs:   make(chan runtime.LogEntry, 64),
		done:   make(chan struct{}),
	}

	h.readers.Add(2)
	go func() {
		defer h.readers.Done()
		h.streamStdout(stdout)
		close(h.logs)
	}()
	go func() {
		defer h.readers.Done()
		h.collectStderr(stderr)
	}()
	go h.wait()

	return h, nil
}

type jobHandle struct {
	cmd    *exec.Cmd
	policy proctree.Policy

	logs    chan runtime.LogEntry
	readers sync.WaitGroup

	stderrMu    sync.Mutex
	stderrLines []string

	done    chan struct{}
	waitErr error

	termMu sync.Mutex
}

func (h *jobHandle) Pid() int32 {
	if h.cmd.Process == nil {
		return 0
	}
	return int32(h.cmd.Process.Pid)
}

func (h *jobHandle) Logs() <-chan runtime.LogEntry {
	return h.logs
}

func (h *jobHandle) Done() <-chan struct{} {
	return h.done
}

func (h *jobHandle) ExitErr() error {
	return h.waitErr
}

func (h *jobHandle) Stderr() []string {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()
	return append([]string(nil), h.stderrLines...)
}

// Terminate tears down the worker (or, when discovery missed, the shell) and
// every snapshotted descendant, sweeping the shell last. Safe to call
// repeatedly or after the job has already exited.
func (h *jobHandle) Terminate(ctx context.Context, opts runtime.TerminateOptions) error {
	h.termMu.Lock()
	defer h.termMu.Unlock()

	if h.cmd.Process == nil {
		return nil
	}
	policy := h.policy
	if opts.Force {
		policy.Graceful = false
	}
	if opts.GracefulTimeout > 0 {
		policy.TargetTimeout = opts.GracefulTimeout
	}

	root := int32(h.cmd.Process.Pid)
	target := opts.Worker
	if target <= 0 {
		target = root
	}
	proctree.NewTerminator(policy, opts.Diag).Terminate(ctx, target, root)
	return nil
}

func (h *jobHandle) streamStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		h.logs <- runtime.LogEntry{Message: line, Source: runtime.LogSourceStdout}
	}
}

func (h *jobHandle) collectStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		h.stderrMu.Lock()
		h.stderrLines = append(h.stderrLines, line)
		h.stderrMu.Unlock()
	}
}

// wait reaps the shell once both pipe readers have hit EOF, then publishes the
// exit status.
func (h *jobHandle) wait() {
	h.readers.Wait()
	h.waitErr = h.cmd.Wait()
	close(h.done)
}
