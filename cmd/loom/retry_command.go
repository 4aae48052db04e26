package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
	"loom/internal/pipeline"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var workers int
	var limit int

	cmd := &cobra.Command{
		Use:   "retry [entity-id...]",
		Short: "Reprocess stages from the failure queue",
		Long: `Retry reprocesses every stage the failure queue holds, or only the
named entities. Queue entries whose stage completed in the meantime are
dropped instead of reprocessed. Use --stage to retry a single stage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stages []catalog.Stage
			if stageName != "" {
				stg, ok := catalog.ParseStage(stageName)
				if !ok {
					return fmt.Errorf("unknown stage %q (expected music, image, or video)", stageName)
				}
				stages = []catalog.Stage{stg}
			}
			return ctx.withRuntime(func(rt *runtime) error {
				runCtx, stop := signalContext(cmd)
				defer stop()
				report, err := rt.orch.RetryFailed(runCtx, pipeline.RunOptions{
					Stages:    stages,
					EntityIDs: args,
					Workers:   workers,
					Limit:     limit,
					OnProgress: func(event pipeline.Event) {
						renderProgress(cmd.OutOrStdout(), event)
					},
				})
				return finishRun(cmd, report, err)
			})
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "Retry only failures of this stage")
	cmd.Flags().IntVar(&workers, "workers", 0, "Process this many entities concurrently (0 uses the configured count)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Cap how many entities the batch takes (0 uses the configured limit)")
	return cmd
}
