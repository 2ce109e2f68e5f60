package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/pdfmill/pdfmill/internal/runtime"
)

const defaultStopTimeout = 3 * time.Second

type runtimeImpl struct {
	client     *client.Client
	clientOnce sync.Once
	clientErr  error
}

// New returns a Docker backed runtime that runs the conversion inside the
// configured image instead of a local conda environment.
func New() runtime.Runtime {
	return &runtimeImpl{}
}

func (r *runtimeImpl) getClient() (*client.Client, error) {
	r.clientOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			r.clientErr = err
			return
		}
		r.client = cli
	})
	return r.client, r.clientErr
}

func (r *runtimeImpl) Start(ctx context.Context, spec runtime.JobSpec) (runtime.Handle, error) {
	if spec.Image == "" {
		return nil, errors.New("docker runtime requires an image")
	}
	if spec.Command == "" {
		return nil, errors.New("docker runtime requires a command")
	}

	cli, err := r.getClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	config := &container.Config{
		Image:      spec.Image,
		Env:        env,
		Cmd:        strslice.StrSlice{"/bin/sh", "-c", spec.Command},
		WorkingDir: spec.Workdir,
	}
	host := &container.HostConfig{Binds: append([]string(nil), spec.Binds...)}

	createResp, err := cli.ContainerCreate(ctx, config, host, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	containerID := createResp.ID

	if err := cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		_ = cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("container start: %w", err)
	}

	h := newContainerHandle(cli, containerID)
	h.startLogStreamer()
	h.startWaiter()
	return h, nil
}

type containerHandle struct {
	cli         *client.Client
	containerID string

	logs    chan runtime.LogEntry
	logCtx  context.Context
	logStop context.CancelFunc

	stderrMu    sync.Mutex
	stderrLines []string

	done    chan struct{}
	exitErr error

	termMu sync.Mutex
}

func newContainerHandle(cli *client.Client, id string) *containerHandle {
	logCtx, logCancel := context.WithCancel(context.Background())
	return &containerHandle{
		cli:         cli,
		containerID: id,
		logs:        make(chan runtime.LogEntry, 128),
		logCtx:      logCtx,
		logStop:     logCancel,
		done:        make(chan struct{}),
	}
}

func (h *containerHandle) startLogStreamer() {
	go func() {
		defer close(h.logs)
		reader, err := h.cli.ContainerLogs(h.logCtx, h.containerID, types.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Tail:       "all",
		})
		if err != nil {
			return
		}
		defer reader.Close()

		stdout := newLineWriter(func(line string) {
			select {
			case h.logs <- runtime.LogEntry{Message: line, Source: runtime.LogSourceStdout}:
			case <-h.logCtx.Done():
			}
		})
		stderr := newLineWriter(func(line string) {
			h.stderrMu.Lock()
			h.stderrLines = append(h.stderrLines, line)
			h.stderrMu.Unlock()
		})
		_, _ = stdcopy.StdCopy(stdout, stderr, reader)
		stdout.Close()
		stderr.Close()
	}()
}

func (h *containerHandle) startWaiter() {
	go func() {
		statusCh, errCh := h.cli.ContainerWait(context.Background(), h.containerID, container.WaitConditionNextExit)
		select {
		case err := <-errCh:
			h.exitErr = err
		case resp := <-statusCh:
			if resp.Error != nil {
				h.exitErr = errors.New(resp.Error.Message)
			} else if resp.StatusCode != 0 {
				h.exitErr = fmt.Errorf("container exited with status %d", resp.StatusCode)
			}
		}
		close(h.done)
	}()
}

func (h *containerHandle) Pid() int32 {
	return 0
}

func (h *containerHandle) Logs() <-chan runtime.LogEntry {
	return h.logs
}

func (h *containerHandle) Done() <-chan struct{} {
	return h.done
}

func (h *containerHandle) ExitErr() error {
	return h.exitErr
}

func (h *containerHandle) Stderr() []string {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()
	return append([]string(nil), h.stderrLines...)
}

// Terminate escalates from ContainerStop to ContainerKill. A missing
// container counts as already terminated.
func (h *containerHandle) Terminate(ctx context.Context, opts runtime.TerminateOptions) error {
	h.termMu.Lock()
	defer h.termMu.Unlock()
	defer h.logStop()

	diag := opts.Diag
	if diag == nil {
		diag = func(string) {}
	}

	if !opts.Force {
		wait := opts.GracefulTimeout
		if wait <= 0 {
			wait = defaultStopTimeout
		}
		sec := int(wait.Seconds())
		if err := h.cli.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &sec}); err == nil {
			return nil
		} else if client.IsErrNotFound(err) {
			return nil
		} else {
			diag(fmt.Sprintf("container stop %s: %v; escalating to kill", shortID(h.containerID), err))
		}
	}

	if err := h.cli.ContainerKill(ctx, h.containerID, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		diag(fmt.Sprintf("container kill %s: %v", shortID(h.containerID), err))
		return fmt.Errorf("container kill: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	reader, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// lineWriter splits a byte stream into lines and hands each completed line to
// emit, flushing any trailing partial line on Close.
type lineWriter struct {
	emit func(string)
	buf  bytes.Buffer
	mu   sync.Mutex
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	reader := bufio.NewReader(bytes.NewReader(p))
	for {
		segment, err := reader.ReadBytes('\n')
		if len(segment) > 0 {
			if segment[len(segment)-1] == '\n' {
				w.buf.Write(segment[:len(segment)-1])
				w.flushLocked()
			} else {
				w.buf.Write(segment)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, err
		}
	}
	return total, nil
}

func (w *lineWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *lineWriter) flushLocked() {
	if w.buf.Len() == 0 {
		return
	}
	line := strings.TrimRight(w.buf.String(), "\r")
	w.buf.Reset()
	if line != "" {
		w.emit(line)
	}
}
