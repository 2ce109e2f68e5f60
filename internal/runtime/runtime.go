package runtime

import (
	"context"
	"time"
)

// Log sources attached to entries emitted by runtime handles.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line produced by a running job.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// JobSpec describes one conversion job. Command is the full shell command,
// including any environment-activation prefix; container runtimes run it
// without the prefix via Image instead.
type JobSpec struct {
	Command string
	Workdir string
	Env     map[string]string

	// WorkerSignature is the case-insensitive substring identifying the real
	// worker among the shell's descendants.
	WorkerSignature string

	// Image and Binds configure container-backed runtimes and are ignored by
	// the process runtime.
	Image string
	Binds []string
}

// TerminateOptions carries per-call termination parameters.
type TerminateOptions struct {
	// Worker is the previously discovered worker PID, or 0 when discovery
	// missed and the root process is the only known target.
	Worker int32

	// Force skips the graceful step and kills outright.
	Force bool

	// GracefulTimeout bounds the wait between the graceful signal and the
	// forceful kill. Zero means the runtime's default.
	GracefulTimeout time.Duration

	// Diag receives human-readable notes about degraded or failed
	// termination steps. May be nil.
	Diag func(string)
}

// Handle represents a single launched job.
type Handle interface {
	// Pid returns the OS identifier of the top-level launched process, or 0
	// when the runtime has no PID concept (containers).
	Pid() int32

	// Logs returns the job's stdout line stream, interleaved with
	// system-source diagnostics. Closed once the job has exited and the
	// stream is drained.
	Logs() <-chan LogEntry

	// Done is closed when the job has exited.
	Done() <-chan struct{}

	// ExitErr reports the job's exit status once Done is closed: nil for a
	// zero exit code, otherwise an error describing the failure.
	ExitErr() error

	// Stderr returns the lines the job wrote to standard error. Only valid
	// once Done is closed; the stream is buffered rather than interleaved
	// because the conversion tool writes to stderr only on failure.
	Stderr() []string

	// Terminate tears down the job and all processes it spawned. Idempotent
	// and safe to call after the job has exited.
	Terminate(ctx context.Context, opts TerminateOptions) error
}

// Runtime describes a backend capable of launching conversion jobs.
type Runtime interface {
	// Start launches the job described by spec. Implementations should
	// respect context cancellation and surface launch failures via returned
	// errors; after a failed Start there is nothing to clean up.
	Start(ctx context.Context, spec JobSpec) (Handle, error)
}

// Registry maps runtime identifiers to their concrete implementations.
type Registry map[string]Runtime

// Clone returns a shallow copy of the registry, allowing callers to avoid
// accidental mutation of shared maps.
func (r Registry) Clone() Registry {
	dup := make(Registry, len(r))
	for k, v := range r {
		dup[k] = v
	}
	return dup
}
