package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdfmill/pdfmill/internal/config"
	"github.com/pdfmill/pdfmill/internal/metrics"
	"github.com/pdfmill/pdfmill/internal/proctree"
	"github.com/pdfmill/pdfmill/internal/runtime"
	"github.com/pdfmill/pdfmill/internal/runtime/docker"
	"github.com/pdfmill/pdfmill/internal/runtime/process"
)

// errCancelled marks a run ended by user cancellation; Execute maps it to
// exit code 130.
var errCancelled = errors.New("cancelled")

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *appContext) {
	app := &appContext{}

	root := &cobra.Command{
		Use:   "pdfmill",
		Short: "Front-end for MinerU's magic-pdf PDF-to-markdown converter",
	}

	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&app.runtimeName, "runtime", "", "Job runtime: process or docker (overrides config)")
	root.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "Emit events as JSON log records")
	root.PersistentFlags().StringVar(&app.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while jobs run")

	root.AddCommand(newConvertCmd(app))
	root.AddCommand(newBatchCmd(app))
	root.AddCommand(newConfigCmd(app))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, app
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errCancelled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appContext struct {
	cfgFile     string
	runtimeName string
	jsonOutput  bool
	metricsAddr string

	metricsOnce sync.Once
}

func (a *appContext) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return cfg, err
	}
	if a.runtimeName != "" {
		cfg.Runtime = a.runtimeName
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// runtimeFor builds the runtime registry and picks the configured backend.
func (a *appContext) runtimeFor(cfg config.Config) (runtime.Runtime, error) {
	policy := proctree.Policy{
		Graceful:      cfg.Graceful,
		TargetTimeout: cfg.GracefulTimeout,
		ChildTimeout:  cfg.ChildTimeout,
	}
	registry := runtime.Registry{
		config.RuntimeProcess: process.New(policy),
		config.RuntimeDocker:  docker.New(),
	}
	rt, ok := registry[cfg.Runtime]
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
	return rt, nil
}

// startMetrics serves the metrics endpoint once per invocation when
// --metrics-addr is set. Serving errors are reported but never fail the job.
func (a *appContext) startMetrics(errOut io.Writer) {
	if a.metricsAddr == "" {
		return
	}
	a.metricsOnce.Do(func() {
		srv := &http.Server{Addr: a.metricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(errOut, "metrics server: %v\n", err)
			}
		}()
	})
}
