package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pdfmill/pdfmill/internal/proctree"
	"github.com/pdfmill/pdfmill/internal/runtime"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultSettleDelay  = time.Second
	defaultEventBuffer  = 256
)

// Options tunes a supervisor. Zero values select the defaults.
type Options struct {
	// PollInterval bounds cancellation latency: the monitor loop observes the
	// cancel flag at least this often. Must stay small (≤200ms) to keep
	// cancel responsive.
	PollInterval time.Duration

	// SettleDelay is how long to wait after launch before the single worker
	// discovery attempt. Discovery is not retried; a miss degrades to the
	// top-level process as termination target.
	SettleDelay time.Duration

	// Locate resolves the worker PID under a root process. Defaults to
	// proctree.Locate; tests substitute a fake tree.
	Locate func(root int32, signature string) (int32, bool)

	// Force skips graceful termination and kills outright on cancel.
	Force bool

	// GracefulTimeout overrides the runtime's graceful-escalation wait.
	GracefulTimeout time.Duration

	// EventBuffer sizes the event channel.
	EventBuffer int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.Locate == nil {
		o.Locate = proctree.Locate
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// Supervisor runs a single conversion job: it launches the command through a
// runtime, streams progress lines as events, and on cancellation tears the
// job's process tree down and reports a Cancelled outcome without waiting for
// natural exit. Exactly one terminal event is emitted, after which the event
// stream closes.
//
// A supervisor is single-use. Launch may be called once; running a second job
// requires a new supervisor.
type Supervisor struct {
	rt   runtime.Runtime
	spec runtime.JobSpec
	opts Options
	sink *sink

	state     atomic.Int32
	cancelled atomic.Bool
	launched  sync.Once
}

// New constructs a supervisor for one job.
func New(rt runtime.Runtime, spec runtime.JobSpec, opts Options) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		rt:   rt,
		spec: spec,
		opts: opts,
		sink: newSink(opts.EventBuffer),
	}
}

// Events returns the job's event stream: progress lines followed by exactly
// one terminal outcome, after which the channel is closed.
func (s *Supervisor) Events() <-chan Event {
	return s.sink.events()
}

// State returns the job's current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// RequestCancel asks the monitor loop to terminate the job. Asynchronous and
// idempotent; the loop observes the request within one poll interval.
func (s *Supervisor) RequestCancel() {
	s.cancelled.Store(true)
}

// Launch starts the job and its monitor loop. A launch failure is reported as
// a failed terminal outcome on the event stream, not as an error: the caller
// only ever interprets the terminal event. Subsequent calls are no-ops.
func (s *Supervisor) Launch(ctx context.Context) {
	s.launched.Do(func() {
		go s.run(ctx)
	})
}

func (s *Supervisor) run(ctx context.Context) {
	handle, err := s.rt.Start(ctx, s.spec)
	if err != nil {
		s.setState(StateCompleted)
		s.sink.terminal(EventTypeFailed, fmt.Sprintf("launch failed: %v", err))
		return
	}
	s.monitor(ctx, handle)
}

// monitor is the job's event loop. It never blocks indefinitely on I/O: log
// reads are interleaved with the cancellation check, so the poll interval
// bounds cancel latency.
func (s *Supervisor) monitor(ctx context.Context, handle runtime.Handle) {
	logs := handle.Logs()
	settle := time.NewTimer(s.opts.SettleDelay)
	defer settle.Stop()
	var worker int32

	for {
		if s.cancelled.Load() {
			s.setState(StateCancelling)
			s.terminate(ctx, handle, worker)
			s.setState(StateCancelled)
			s.sink.terminal(EventTypeCancelled, "conversion cancelled")
			// Unblock the runtime's pipe readers so the job gets reaped.
			go drain(logs)
			return
		}

		select {
		case <-settle.C:
			worker = s.discover(handle)
			s.setState(StateRunning)
		case entry, ok := <-logs:
			if !ok {
				// Pipes closed; keep polling for exit and cancellation.
				logs = nil
				continue
			}
			s.sink.line(entry)
		case <-handle.Done():
			if logs != nil {
				for entry := range logs {
					s.sink.line(entry)
				}
			}
			s.finish(handle)
			return
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// discover runs the single worker-discovery attempt. Misses are expected and
// only downgrade the termination target to the top-level process.
func (s *Supervisor) discover(handle runtime.Handle) int32 {
	root := handle.Pid()
	if root <= 0 || s.spec.WorkerSignature == "" {
		return 0
	}
	pid, ok := s.opts.Locate(root, s.spec.WorkerSignature)
	if !ok {
		s.sink.system("warn", "worker process not identified; cancellation will target the shell (pid %d)", root)
		return 0
	}
	s.sink.system("info", "located worker process (pid %d)", pid)
	return pid
}

func (s *Supervisor) terminate(ctx context.Context, handle runtime.Handle, worker int32) {
	// Cancellation is what got us here; teardown must not inherit it, or the
	// graceful wait (and the docker API calls) would abort immediately.
	ctx = context.WithoutCancel(ctx)
	err := handle.Terminate(ctx, runtime.TerminateOptions{
		Worker:          worker,
		Force:           s.opts.Force,
		GracefulTimeout: s.opts.GracefulTimeout,
		Diag: func(msg string) {
			s.sink.system("warn", "%s", msg)
		},
	})
	if err != nil {
		s.sink.system("warn", "terminate job: %v", err)
	}
}

// finish reports the natural-exit outcome. Stderr is drained only now because
// the conversion tool writes there only on failure.
func (s *Supervisor) finish(handle runtime.Handle) {
	err := handle.ExitErr()
	if err == nil {
		s.setState(StateCompleted)
		s.sink.terminal(EventTypeSucceeded, "conversion completed successfully")
		return
	}
	for _, line := range handle.Stderr() {
		s.sink.line(runtime.LogEntry{Message: line, Source: runtime.LogSourceStderr, Level: "error"})
	}
	s.setState(StateCompleted)
	s.sink.terminal(EventTypeFailed, fmt.Sprintf("conversion failed: %v", err))
}

// setState advances the lifecycle state; transitions only move forward.
func (s *Supervisor) setState(st State) {
	for {
		cur := s.state.Load()
		if int32(st) <= cur {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

func drain(logs <-chan runtime.LogEntry) {
	if logs == nil {
		return
	}
	for range logs {
	}
}
