package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfmill/pdfmill/internal/cliutil"
	"github.com/pdfmill/pdfmill/internal/config"
	"github.com/pdfmill/pdfmill/internal/job"
	"github.com/pdfmill/pdfmill/internal/metrics"
	"github.com/pdfmill/pdfmill/internal/mineru"
	"github.com/pdfmill/pdfmill/internal/runtime"
)

// buildSpec turns a tool invocation into a runtime job spec. The process
// runtime gets the conda-activated shell command and a worker signature for
// tree discovery; the docker runtime gets the bare tool command rewritten to
// container mount paths.
func buildSpec(cfg config.Config, inv *mineru.Invocation) (runtime.JobSpec, error) {
	if cfg.Runtime == config.RuntimeDocker {
		absInput, err := filepath.Abs(inv.Input)
		if err != nil {
			return runtime.JobSpec{}, fmt.Errorf("resolve input path: %w", err)
		}
		absOutput, err := filepath.Abs(inv.OutputDir)
		if err != nil {
			return runtime.JobSpec{}, fmt.Errorf("resolve output path: %w", err)
		}
		mounted := *inv
		mounted.Input = "/input/" + filepath.Base(absInput)
		mounted.OutputDir = "/output"
		return runtime.JobSpec{
			Command: mounted.Command(cfg.Tool),
			Image:   cfg.DockerImage,
			Binds: []string{
				filepath.Dir(absInput) + ":/input:ro",
				absOutput + ":/output",
			},
		}, nil
	}

	return runtime.JobSpec{
		Command:         inv.Shell(cfg.CondaEnv, cfg.Tool),
		WorkerSignature: cfg.WorkerSignature,
	}, nil
}

func supervisorOptions(cfg config.Config, forceKill bool) job.Options {
	return job.Options{
		PollInterval:    cfg.PollInterval,
		SettleDelay:     cfg.SettleDelay,
		Force:           forceKill || !cfg.Graceful,
		GracefulTimeout: cfg.GracefulTimeout,
	}
}

// runJob launches one supervised job, forwards context cancellation (Ctrl-C)
// as a cancel request, renders every event, and returns the terminal outcome.
func runJob(ctx stdcontext.Context, out, errOut io.Writer, jsonOutput bool, rt runtime.Runtime, spec runtime.JobSpec, opts job.Options) job.EventType {
	sup := job.New(rt, spec, opts)
	start := time.Now()
	sup.Launch(ctx)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			sup.RequestCancel()
		case <-finished:
		}
	}()

	var enc *json.Encoder
	if jsonOutput {
		enc = json.NewEncoder(out)
	}

	outcome := job.EventTypeFailed
	for evt := range sup.Events() {
		if evt.Type == job.EventTypeLog {
			metrics.CountOutputLine(evt.Source)
		} else {
			outcome = evt.Type
		}
		if jsonOutput {
			cliutil.EncodeLogEvent(enc, errOut, evt)
		} else {
			fmt.Fprintln(out, cliutil.FormatEvent(evt))
		}
	}
	metrics.ObserveJob(string(outcome), time.Since(start))
	return outcome
}

// dirHasContents reports whether path exists and is a non-empty directory;
// the overwrite guard before a conversion starts.
func dirHasContents(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
