package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/pipeline"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var discard bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the batch an interrupted run left behind",
		Long: `Resume loads the checkpoint the last run wrote and processes the
entities it had not finished. Stages that already completed are skipped,
so the interrupted entity picks up where it stopped. Use --discard to
drop the checkpoint without processing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				if discard {
					if !rt.checkpoints.Exists() {
						fmt.Fprintln(cmd.OutOrStdout(), "No checkpoint to discard.")
						return nil
					}
					if err := rt.checkpoints.Clear(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Checkpoint discarded.")
					return nil
				}

				runCtx, stop := signalContext(cmd)
				defer stop()
				report, err := rt.orch.Resume(runCtx, pipeline.RunOptions{
					Workers: workers,
					OnProgress: func(event pipeline.Event) {
						renderProgress(cmd.OutOrStdout(), event)
					},
				})
				if errors.Is(err, pipeline.ErrNoCheckpoint) {
					fmt.Fprintln(cmd.OutOrStdout(), "No checkpoint found, nothing to resume.")
					return nil
				}
				return finishRun(cmd, report, err)
			})
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Process this many entities concurrently (0 uses the configured count)")
	cmd.Flags().BoolVar(&discard, "discard", false, "Drop the checkpoint without processing")
	return cmd
}
