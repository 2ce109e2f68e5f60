package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	stdruntime "runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdfmill/pdfmill/internal/proctree"
	procruntime "github.com/pdfmill/pdfmill/internal/runtime/process"

	"github.com/pdfmill/pdfmill/internal/runtime"
)

type fakeHandle struct {
	pid     int32
	logs    chan runtime.LogEntry
	done    chan struct{}
	exitErr error
	stderr  []string

	mu          sync.Mutex
	terminated  []runtime.TerminateOptions
	termCtxErrs []error
}

func newFakeHandle(pid int32) *fakeHandle {
	return &fakeHandle{
		pid:  pid,
		logs: make(chan runtime.LogEntry, 16),
		done: make(chan struct{}),
	}
}

func (h *fakeHandle) Pid() int32                    { return h.pid }
func (h *fakeHandle) Logs() <-chan runtime.LogEntry { return h.logs }
func (h *fakeHandle) Done() <-chan struct{}         { return h.done }
func (h *fakeHandle) ExitErr() error                { return h.exitErr }
func (h *fakeHandle) Stderr() []string              { return h.stderr }

func (h *fakeHandle) Terminate(ctx context.Context, opts runtime.TerminateOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = append(h.terminated, opts)
	h.termCtxErrs = append(h.termCtxErrs, ctx.Err())
	return nil
}

func (h *fakeHandle) terminations() []runtime.TerminateOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]runtime.TerminateOptions(nil), h.terminated...)
}

func (h *fakeHandle) terminationCtxErrs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.termCtxErrs...)
}

// exit closes the log stream and publishes the exit status, mimicking the
// process runtime's shutdown order.
func (h *fakeHandle) exit(err error) {
	h.exitErr = err
	close(h.logs)
	close(h.done)
}

type fakeRuntime struct {
	handle   *fakeHandle
	startErr error
}

func (r *fakeRuntime) Start(ctx context.Context, spec runtime.JobSpec) (runtime.Handle, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.handle, nil
}

func fastOptions() Options {
	return Options{
		PollInterval: 5 * time.Millisecond,
		SettleDelay:  10 * time.Millisecond,
		Locate:       func(root int32, signature string) (int32, bool) { return 0, false },
	}
}

func collectEvents(t *testing.T, sup *Supervisor) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sup.Events():
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("event stream never closed; got %d events so far", len(events))
		}
	}
}

func terminalEvents(events []Event) []Event {
	var terminal []Event
	for _, evt := range events {
		if evt.Type.Terminal() {
			terminal = append(terminal, evt)
		}
	}
	return terminal
}

func TestLaunchFailureEmitsSingleFailedOutcome(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("magic-pdf: command not found")}
	sup := New(rt, runtime.JobSpec{Command: "magic-pdf"}, fastOptions())
	sup.Launch(context.Background())

	events := collectEvents(t, sup)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	evt := events[0]
	if evt.Type != EventTypeFailed {
		t.Fatalf("expected failed outcome, got %q", evt.Type)
	}
	if !strings.Contains(evt.Message, "command not found") {
		t.Fatalf("outcome should carry the launch error, got %q", evt.Message)
	}
	if sup.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", sup.State())
	}
}

func TestImmediateExitReportsSuccessWithoutTermination(t *testing.T) {
	handle := newFakeHandle(100)
	handle.logs <- runtime.LogEntry{Message: "done in 0.2s", Source: runtime.LogSourceStdout}
	handle.exit(nil)

	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "true"}, fastOptions())
	sup.Launch(context.Background())

	events := collectEvents(t, sup)
	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeSucceeded {
		t.Fatalf("expected single succeeded outcome, got %+v", terminal)
	}
	if events[len(events)-1].Type != EventTypeSucceeded {
		t.Fatal("terminal outcome must be the final event")
	}
	if len(handle.terminations()) != 0 {
		t.Fatalf("no termination expected, got %+v", handle.terminations())
	}
}

func TestCancelTerminatesWorkerAndPreservesOutputOrder(t *testing.T) {
	handle := newFakeHandle(100)
	opts := fastOptions()
	opts.Locate = func(root int32, signature string) (int32, bool) {
		if root != 100 {
			t.Errorf("locate called with root %d, want 100", root)
		}
		return 4242, true
	}

	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf", WorkerSignature: "magic-pdf"}, opts)
	sup.Launch(context.Background())

	handle.logs <- runtime.LogEntry{Message: "page 1", Source: runtime.LogSourceStdout}
	handle.logs <- runtime.LogEntry{Message: "page 2", Source: runtime.LogSourceStdout}

	// Wait for both progress lines and the discovery note so cancellation
	// happens with a known worker target.
	var events []Event
	located := false
	for len(events) < 2 || !located {
		evt, ok := <-sup.Events()
		if !ok {
			t.Fatal("event stream closed before output arrived")
		}
		switch evt.Source {
		case runtime.LogSourceStdout:
			events = append(events, evt)
		case runtime.LogSourceSystem:
			located = located || strings.Contains(evt.Message, "located worker")
		}
	}
	if events[0].Message != "page 1" || events[1].Message != "page 2" {
		t.Fatalf("output order not preserved: %+v", events)
	}

	sup.RequestCancel()
	rest := collectEvents(t, sup)
	close(handle.logs)

	terminal := terminalEvents(rest)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected single cancelled outcome, got %+v", rest)
	}
	if sup.State() != StateCancelled {
		t.Fatalf("state = %v, want cancelled", sup.State())
	}

	terms := handle.terminations()
	if len(terms) != 1 {
		t.Fatalf("expected one termination, got %d", len(terms))
	}
	if terms[0].Worker != 4242 {
		t.Fatalf("termination target = %d, want discovered worker 4242", terms[0].Worker)
	}
}

func TestDiscoveryMissFallsBackToShellTarget(t *testing.T) {
	handle := newFakeHandle(77)
	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf", WorkerSignature: "magic-pdf"}, fastOptions())
	sup.Launch(context.Background())

	// Wait for the discovery diagnostic, then cancel through the fallback.
	var sawMiss bool
	timeout := time.After(5 * time.Second)
	for !sawMiss {
		select {
		case evt := <-sup.Events():
			if evt.Source == runtime.LogSourceSystem && strings.Contains(evt.Message, "not identified") {
				sawMiss = true
			}
		case <-timeout:
			t.Fatal("discovery miss diagnostic never emitted")
		}
	}

	sup.RequestCancel()
	rest := collectEvents(t, sup)
	close(handle.logs)

	terminal := terminalEvents(rest)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", rest)
	}
	terms := handle.terminations()
	if len(terms) != 1 || terms[0].Worker != 0 {
		t.Fatalf("expected fallback termination with no worker, got %+v", terms)
	}
}

func TestFailureEmitsStderrDiagnosticsBeforeOutcome(t *testing.T) {
	handle := newFakeHandle(100)
	handle.stderr = []string{"Traceback (most recent call last):", "ValueError: bad page range"}
	handle.exit(errors.New("exit status 1"))

	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf"}, fastOptions())
	sup.Launch(context.Background())

	events := collectEvents(t, sup)
	var stderrLines []string
	for _, evt := range events {
		if evt.Source == runtime.LogSourceStderr {
			stderrLines = append(stderrLines, evt.Message)
		}
	}
	if len(stderrLines) != 2 {
		t.Fatalf("expected 2 stderr diagnostics, got %v", stderrLines)
	}
	last := events[len(events)-1]
	if last.Type != EventTypeFailed {
		t.Fatalf("final event = %q, want failed outcome", last.Type)
	}
	if !strings.Contains(last.Message, "exit status 1") {
		t.Fatalf("outcome should carry the exit error, got %q", last.Message)
	}
}

func TestCancelBeforeAnyOutputStillReportsCancelled(t *testing.T) {
	handle := newFakeHandle(100)
	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf"}, fastOptions())
	sup.Launch(context.Background())
	sup.RequestCancel()

	events := collectEvents(t, sup)
	close(handle.logs)

	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", events)
	}
}

func TestStreamClosedBeforeExitUsesExitStatus(t *testing.T) {
	handle := newFakeHandle(100)
	close(handle.logs) // pipes vanish while the process is still running

	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf"}, fastOptions())
	sup.Launch(context.Background())

	time.Sleep(50 * time.Millisecond)
	handle.exitErr = nil
	close(handle.done)

	events := collectEvents(t, sup)
	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeSucceeded {
		t.Fatalf("expected success from exit status, got %+v", events)
	}
}

func TestLaunchIsSingleUse(t *testing.T) {
	handle := newFakeHandle(100)
	handle.exit(nil)
	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "true"}, fastOptions())
	sup.Launch(context.Background())
	sup.Launch(context.Background()) // second call must not start another monitor

	events := collectEvents(t, sup)
	if len(terminalEvents(events)) != 1 {
		t.Fatalf("expected a single terminal outcome, got %+v", events)
	}
}

func TestTerminateOutlivesCancelledLaunchContext(t *testing.T) {
	handle := newFakeHandle(100)
	sup := New(&fakeRuntime{handle: handle}, runtime.JobSpec{Command: "magic-pdf"}, fastOptions())

	// Ctrl-C ordering: the context dies before the cancel request lands.
	ctx, cancel := context.WithCancel(context.Background())
	sup.Launch(ctx)
	cancel()
	sup.RequestCancel()

	events := collectEvents(t, sup)
	close(handle.logs)

	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", events)
	}
	errs := handle.terminationCtxErrs()
	if len(errs) != 1 {
		t.Fatalf("expected one termination, got %d", len(errs))
	}
	if errs[0] != nil {
		t.Fatalf("termination ran under a cancelled context: %v", errs[0])
	}
}

func TestCancelHonorsGracefulWaitAfterContextCancelled(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("end-to-end test uses /bin/sh fixtures")
	}

	marker := filepath.Join(t.TempDir(), "handled")
	rt := procruntime.New(proctree.Policy{
		Graceful:      true,
		TargetTimeout: 3 * time.Second,
		ChildTimeout:  time.Second,
	})
	spec := runtime.JobSpec{
		Command: `trap 'sleep 0.3; : > "$MARKER"; exit 0' TERM; echo started; sleep 30 & wait`,
		Env:     map[string]string{"MARKER": marker},
	}
	opts := Options{PollInterval: 20 * time.Millisecond, SettleDelay: 50 * time.Millisecond}
	sup := New(rt, spec, opts)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Launch(ctx)

	timeout := time.After(5 * time.Second)
	for started := false; !started; {
		select {
		case evt := <-sup.Events():
			started = evt.Message == "started"
		case <-timeout:
			t.Fatal("job never produced output")
		}
	}
	cancel()
	sup.RequestCancel()

	events := collectEvents(t, sup)
	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", events)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("TERM handler never completed; graceful wait was cut short: %v", err)
	}
}

func TestEndToEndCancelAgainstRealProcess(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("end-to-end test uses /bin/sh fixtures")
	}

	rt := procruntime.New(proctree.Policy{Graceful: false})
	spec := runtime.JobSpec{
		Command:         "echo started; sleep 30; echo never",
		WorkerSignature: "sleep 30",
	}
	opts := Options{PollInterval: 20 * time.Millisecond, SettleDelay: 200 * time.Millisecond}
	sup := New(rt, spec, opts)
	sup.Launch(context.Background())

	// Wait for the first progress line, then cancel.
	timeout := time.After(5 * time.Second)
	for started := false; !started; {
		select {
		case evt := <-sup.Events():
			started = evt.Message == "started"
		case <-timeout:
			t.Fatal("job never produced output")
		}
	}
	start := time.Now()
	sup.RequestCancel()

	events := collectEvents(t, sup)
	terminal := terminalEvents(events)
	if len(terminal) != 1 || terminal[0].Type != EventTypeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", events)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took %v, expected prompt teardown", elapsed)
	}
	for _, evt := range events {
		if evt.Message == "never" {
			t.Fatal("job kept running past cancellation")
		}
	}
}
