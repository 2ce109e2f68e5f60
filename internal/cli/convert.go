package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdfmill/pdfmill/internal/cliutil"
	"github.com/pdfmill/pdfmill/internal/job"
	"github.com/pdfmill/pdfmill/internal/mineru"
)

func newConvertCmd(app *appContext) *cobra.Command {
	var (
		input     string
		output    string
		method    string
		lang      string
		startPage int
		endPage   int
		debug     bool
		yes       bool
		clean     bool
		forceKill bool
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a single PDF to markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			parsedMethod, err := mineru.ParseMethod(method)
			if err != nil {
				return err
			}
			inv := &mineru.Invocation{
				Input:     input,
				OutputDir: output,
				Method:    parsedMethod,
				Lang:      lang,
				StartPage: startPage,
				EndPage:   endPage,
				Debug:     debug,
			}
			if err := inv.Validate(); err != nil {
				return err
			}
			if !yes && dirHasContents(inv.JobDir()) {
				return fmt.Errorf("output directory %s already contains results; pass --yes to overwrite", inv.JobDir())
			}

			spec, err := buildSpec(cfg, inv)
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

			if !app.jsonOutput && cliutil.IsTerminal(out) {
				fmt.Fprintf(out, "converting %s (method: %s); press Ctrl-C to cancel\n", inv.Input, inv.Method)
			}

			outcome := runJob(cmd.Context(), out, errOut, app.jsonOutput, rt, spec, supervisorOptions(cfg, forceKill))
			switch outcome {
			case job.EventTypeSucceeded:
				if !app.jsonOutput {
					fmt.Fprintf(out, "markdown written to %s\n", inv.MarkdownPath())
				}
				return nil
			case job.EventTypeCancelled:
				if clean {
					if err := os.RemoveAll(inv.JobDir()); err != nil {
						fmt.Fprintf(errOut, "clean up %s: %v\n", inv.JobDir(), err)
					} else if !app.jsonOutput {
						fmt.Fprintf(out, "removed partial results in %s\n", inv.JobDir())
					}
				}
				return errCancelled
			default:
				return errors.New("conversion failed")
			}
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input PDF path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory")
	cmd.Flags().StringVarP(&method, "method", "m", "auto", "Conversion method: auto, ocr or txt")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Document language hint")
	cmd.Flags().IntVarP(&startPage, "start-page", "s", 0, "First page to convert (1-based, 0 = from the start)")
	cmd.Flags().IntVarP(&endPage, "end-page", "e", 0, "Last page to convert (0 = to the end)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable the tool's debug output")
	cmd.Flags().BoolVar(&yes, "yes", false, "Overwrite existing results without asking")
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove partial results after cancellation")
	cmd.Flags().BoolVar(&forceKill, "force-kill", false, "Skip graceful termination on cancel")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
