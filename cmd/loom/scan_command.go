package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/scan"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Register new audio files and reconcile missing artifacts",
		Long: `Scan registers every supported audio file in the music directory that
has no catalog entry yet, then checks recorded artifacts against the
disk and applies the configured missing-artifacts policy to each gap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				out := cmd.OutOrStdout()
				scanner := scan.New(rt.cfg, rt.store, rt.logger)

				discovered, err := scanner.Discover()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Scanned %s: %d audio file(s), %d skipped\n",
					rt.cfg.Paths.MusicDir, discovered.AudioFiles, discovered.Skipped)
				if len(discovered.Registered) == 0 {
					fmt.Fprintln(out, "No new tracks registered.")
				}
				for _, id := range discovered.Registered {
					fmt.Fprintf(out, "Registered %s\n", id)
				}

				reconciled, err := scanner.Reconcile()
				if err != nil {
					return err
				}
				if len(reconciled.Missing) == 0 {
					fmt.Fprintln(out, "All recorded artifacts are present.")
					return nil
				}

				renderSectionHeader(out, fmt.Sprintf("Missing artifacts (policy: %s)", reconciled.Policy))
				reset := make(map[string]bool, len(reconciled.Reset))
				for _, gap := range reconciled.Reset {
					reset[gap.EntityID+"/"+string(gap.Stage)] = true
				}
				removed := make(map[string]bool, len(reconciled.Removed))
				for _, id := range reconciled.Removed {
					removed[id] = true
				}
				rows := make([][]string, 0, len(reconciled.Missing))
				for _, gap := range reconciled.Missing {
					action := "warned"
					switch {
					case removed[gap.EntityID]:
						action = "entity removed"
					case reset[gap.EntityID+"/"+string(gap.Stage)]:
						action = "stage reset"
					}
					rows = append(rows, []string{gap.EntityID, string(gap.Stage), action})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ENTITY", "STAGE", "ACTION"},
					rows,
				))
				return nil
			})
		},
	}
}
