package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
	"loom/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog, checkpoint, failure queue, and dependency state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				out := cmd.OutOrStdout()

				summary, err := rt.store.Stats()
				if err != nil {
					return err
				}
				renderSectionHeader(out, "Catalog")
				renderStatusLine(out, "Entities", fmt.Sprintf("%d", summary.Total), statusNeutral)
				completedKind := statusNeutral
				if summary.Total > 0 && summary.Completed == summary.Total {
					completedKind = statusGood
				}
				renderStatusLine(out, "Fully processed", fmt.Sprintf("%d", summary.Completed), completedKind)
				failedKind := statusNeutral
				if summary.Failed > 0 {
					failedKind = statusBad
				}
				renderStatusLine(out, "With failures", fmt.Sprintf("%d", summary.Failed), failedKind)
				if summary.Total > 0 {
					rows := make([][]string, 0, len(catalog.AllStages()))
					for _, stg := range catalog.AllStages() {
						counts := summary.ByStage[stg]
						rows = append(rows, []string{
							string(stg),
							fmt.Sprintf("%d", counts[catalog.StatusPending]),
							fmt.Sprintf("%d", counts[catalog.StatusProcessing]),
							fmt.Sprintf("%d", counts[catalog.StatusCompleted]),
							fmt.Sprintf("%d", counts[catalog.StatusFailed]),
							fmt.Sprintf("%d", counts[catalog.StatusSkipped]),
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"STAGE", "PENDING", "PROCESSING", "COMPLETED", "FAILED", "SKIPPED"},
						rows,
						1, 2, 3, 4, 5,
					))
				}

				renderSectionHeader(out, "Checkpoint")
				cp, err := rt.checkpoints.Load()
				if err != nil {
					return err
				}
				if cp == nil {
					renderStatusLine(out, "State", "none", statusNeutral)
				} else {
					detail := fmt.Sprintf("run %s interrupted, %d done, %d pending (loom resume)",
						shortRunID(cp.RunID), len(cp.CompletedIDs), len(cp.ResumePending()))
					renderStatusLine(out, "State", detail, statusWarn)
				}

				renderSectionHeader(out, "Failure queue")
				tasks, err := rt.failures.List()
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					renderStatusLine(out, "Entries", "0", statusGood)
				} else {
					renderStatusLine(out, "Entries", fmt.Sprintf("%d (loom retry)", len(tasks)), statusBad)
					rows := make([][]string, 0, len(tasks))
					for _, task := range tasks {
						rows = append(rows, []string{
							task.EntityID,
							string(task.Stage),
							string(task.Kind),
							fmt.Sprintf("%d", task.AttemptCount),
							task.FailedAt.Format(time.RFC3339),
							truncateMessage(task.ErrorMessage),
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"ENTITY", "STAGE", "KIND", "ATTEMPTS", "FAILED AT", "ERROR"},
						rows,
						3,
					))
				}

				renderSectionHeader(out, "API quota")
				if !rt.quota.Enabled() {
					renderStatusLine(out, "Tracking", "disabled", statusNeutral)
				} else {
					perMinute, daily := rt.quota.Limits()
					renderStatusLine(out, "Limits", fmt.Sprintf("%d/min, %d/day", perMinute, daily), statusNeutral)
					for _, service := range []string{"suno", "openai"} {
						used, err := rt.quota.UsageToday(service)
						if err != nil {
							renderStatusLine(out, service, fmt.Sprintf("unavailable: %v", err), statusWarn)
							continue
						}
						kind := statusGood
						if daily > 0 && used >= daily {
							kind = statusBad
						}
						renderStatusLine(out, service, fmt.Sprintf("%d request(s) today", used), kind)
					}
				}

				renderSectionHeader(out, "System dependencies")
				for _, status := range preflight.CheckSystemDeps(rt.cfg) {
					value := status.Resolved
					kind := statusGood
					if !status.Available {
						value = status.Detail
						kind = statusBad
						if status.Optional {
							kind = statusWarn
						}
					}
					renderStatusLine(out, status.Name, value, kind)
				}

				renderSectionHeader(out, "Notifications")
				if rt.cfg.Notifications.NtfyTopic == "" {
					renderStatusLine(out, "ntfy", "not configured", statusNeutral)
				} else {
					renderStatusLine(out, "ntfy", fmt.Sprintf("topic %s", rt.cfg.Notifications.NtfyTopic), statusGood)
				}
				return nil
			})
		},
	}
}
