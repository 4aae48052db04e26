package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
	"loom/internal/pipeline"
)

// runFlags are shared by every command that starts a batch.
type runFlags struct {
	force    bool
	limit    int
	workers  int
	dryRun   bool
	skipScan bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "Reprocess stages that already completed")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Cap how many entities the batch takes (0 uses the configured limit)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Process this many entities concurrently (0 uses the configured count)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report planned work without modifying any state")
	cmd.Flags().BoolVar(&f.skipScan, "skip-scan", false, "Skip the library scan before processing")
}

func (f *runFlags) options(cmd *cobra.Command, entityIDs []string) pipeline.RunOptions {
	out := cmd.OutOrStdout()
	return pipeline.RunOptions{
		EntityIDs: entityIDs,
		Force:     f.force,
		Limit:     f.limit,
		Workers:   f.workers,
		DryRun:    f.dryRun,
		SkipScan:  f.skipScan,
		OnProgress: func(event pipeline.Event) {
			renderProgress(out, event)
		},
	}
}

// finishRun renders the report and maps its outcome onto the process
// exit code: structural errors pass through, a batch with failed
// entities exits with the partial failure code.
func finishRun(cmd *cobra.Command, report *pipeline.RunReport, err error) error {
	out := cmd.OutOrStdout()
	if report != nil {
		if report.DryRun {
			renderDryRun(out, report)
		} else {
			renderRunReport(out, report)
		}
	}
	if err != nil {
		return err
	}
	if report != nil && !report.Clean() {
		return errPartialFailure(report.Failed, report.Selected)
	}
	return nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	var skipStages []string

	cmd := &cobra.Command{
		Use:   "run [entity-id...]",
		Short: "Process every pending stage across the library",
		Long: `Run walks each selected entity through its remaining stages in order:
music generation, artwork, then video rendering. Without arguments it
selects every entity that still needs work; entity ids restrict the
batch. Progress is checkpointed per entity so an interrupted run can be
resumed with "loom resume".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := stagesWithout(skipStages)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				runCtx, stop := signalContext(cmd)
				defer stop()
				opts := flags.options(cmd, args)
				opts.Stages = stages
				report, err := rt.orch.Run(runCtx, opts)
				return finishRun(cmd, report, err)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&skipStages, "skip", nil, "Leave this stage out of the run (repeatable)")
	return cmd
}

// stagesWithout resolves the skip list into the stages to run. Nil
// means the full plan.
func stagesWithout(skipped []string) ([]catalog.Stage, error) {
	if len(skipped) == 0 {
		return nil, nil
	}
	drop := make(map[catalog.Stage]bool, len(skipped))
	for _, name := range skipped {
		stg, ok := catalog.ParseStage(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q (expected music, image, or video)", name)
		}
		drop[stg] = true
	}
	var stages []catalog.Stage
	for _, stg := range catalog.AllStages() {
		if !drop[stg] {
			stages = append(stages, stg)
		}
	}
	if len(stages) == 0 {
		return nil, errors.New("every stage was skipped, nothing to run")
	}
	return stages, nil
}
