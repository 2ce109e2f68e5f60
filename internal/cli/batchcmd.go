package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdfmill/pdfmill/internal/batch"
	"github.com/pdfmill/pdfmill/internal/job"
)

func newBatchCmd(app *appContext) *cobra.Command {
	var (
		keepGoing bool
		forceKill bool
	)

	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Convert every PDF listed in a batch manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			manifest, err := batch.Load(args[0])
			if err != nil {
				return err
			}
			rt, err := app.runtimeFor(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			app.startMetrics(errOut)

			failures := 0
			for i := range manifest.Jobs {
				if cmd.Context().Err() != nil {
					return errCancelled
				}
				inv, err := manifest.Jobs[i].Invocation()
				if err != nil {
					return err
				}
				if !app.jsonOutput {
					fmt.Fprintf(out, "job %d/%d: %s\n", i+1, len(manifest.Jobs), inv.Input)
				}

				spec, err := buildSpec(cfg, inv)
				if err != nil {
					return err
				}
				outcome := runJob(cmd.Context(), out, errOut, app.jsonOutput, rt, spec, supervisorOptions(cfg, forceKill))
				switch outcome {
				case job.EventTypeCancelled:
					return errCancelled
				case job.EventTypeFailed:
					failures++
					if !keepGoing {
						return fmt.Errorf("job %d of %d failed; pass --keep-going to continue past failures", i+1, len(manifest.Jobs))
					}
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d jobs failed", failures, len(manifest.Jobs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Continue with remaining jobs when one fails")
	cmd.Flags().BoolVar(&forceKill, "force-kill", false, "Skip graceful termination on cancel")

	return cmd
}
