package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "stage <music|image|video> [entity-id...]",
		Short: "Process a single stage",
		Long: `Stage runs exactly one stage across the selected entities. Entities
whose prerequisite stage has not completed are reported as failed
without being attempted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stg, ok := catalog.ParseStage(args[0])
			if !ok {
				return fmt.Errorf("unknown stage %q (expected music, image, or video)", args[0])
			}
			return ctx.withRuntime(func(rt *runtime) error {
				runCtx, stop := signalContext(cmd)
				defer stop()
				report, err := rt.orch.RunStage(runCtx, stg, flags.options(cmd, args[1:]))
				return finishRun(cmd, report, err)
			})
		},
	}
	flags.register(cmd)
	return cmd
}
