package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"loom/internal/catalog"
	"loom/internal/pipeline"
	"loom/internal/stageexec"
)

func stageList(stages []catalog.Stage) string {
	names := make([]string, 0, len(stages))
	for _, stg := range stages {
		names = append(names, string(stg))
	}
	return strings.Join(names, ", ")
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	const maxLen = 72
	if len(message) > maxLen {
		return message[:maxLen] + "…"
	}
	return message
}

// renderProgress prints one line per finished stage attempt. It runs on
// worker goroutines, so a single Fprintf keeps each line intact.
func renderProgress(w io.Writer, event pipeline.Event) {
	switch event.Status {
	case stageexec.ResultCompleted:
		fmt.Fprintf(w, "[%s] %s completed\n", event.Stage, event.EntityID)
	case stageexec.ResultSkipped:
		fmt.Fprintf(w, "[%s] %s skipped\n", event.Stage, event.EntityID)
	case stageexec.ResultFailed:
		detail := ""
		if event.Err != nil {
			detail = ": " + truncateMessage(event.Err.Error())
		}
		if event.Attempts > 1 {
			fmt.Fprintf(w, "[%s] %s failed after %d attempts%s\n", event.Stage, event.EntityID, event.Attempts, detail)
			return
		}
		fmt.Fprintf(w, "[%s] %s failed%s\n", event.Stage, event.EntityID, detail)
	}
}

func renderRunReport(w io.Writer, report *pipeline.RunReport) {
	if report == nil {
		return
	}
	if report.Selected == 0 {
		switch report.Mode {
		case pipeline.ModeRetry:
			fmt.Fprintln(w, "Failure queue is empty, nothing to retry.")
		case pipeline.ModeResume:
			fmt.Fprintln(w, "Checkpoint already satisfied, nothing to resume.")
		default:
			fmt.Fprintln(w, "No entities need processing.")
		}
		return
	}

	kind := statusGood
	verdict := "completed"
	if !report.Clean() {
		kind = statusWarn
		verdict = fmt.Sprintf("completed with %d failure(s)", report.Failed)
	}
	summary := fmt.Sprintf("%s in %s: %d selected, %d processed, %d failed",
		verdict,
		report.Duration().Round(time.Millisecond),
		report.Selected,
		report.Processed,
		report.Failed,
	)
	renderSectionHeader(w, fmt.Sprintf("Run %s (%s, stages: %s)", shortRunID(report.RunID), report.Mode, stageList(report.Stages)))
	renderStatusLine(w, "Result", summary, kind)
	if report.ResumedFrom != "" {
		renderStatusLine(w, "Resumed from", shortRunID(report.ResumedFrom), statusNeutral)
	}

	rows := make([][]string, 0, len(report.Stages))
	for _, stg := range report.Stages {
		counts := report.StageCounts[stg]
		rows = append(rows, []string{
			string(stg),
			fmt.Sprintf("%d", counts.Completed),
			fmt.Sprintf("%d", counts.Skipped),
			fmt.Sprintf("%d", counts.Failed),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"STAGE", "COMPLETED", "SKIPPED", "FAILED"},
		rows,
		1, 2, 3,
	))

	if len(report.Failures) > 0 {
		renderSectionHeader(w, "Failures")
		failureRows := make([][]string, 0, len(report.Failures))
		for _, failure := range report.Failures {
			kindLabel := string(failure.Kind)
			if kindLabel == "" {
				kindLabel = "-"
			}
			failureRows = append(failureRows, []string{
				failure.EntityID,
				string(failure.Stage),
				kindLabel,
				fmt.Sprintf("%d", failure.Attempts),
				truncateMessage(failure.Message),
			})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"ENTITY", "STAGE", "KIND", "ATTEMPTS", "ERROR"},
			failureRows,
			3,
		))
		fmt.Fprintln(w, "Run `loom retry` to reprocess failed stages.")
	}

	if report.ReportPath != "" {
		fmt.Fprintf(w, "Report written to %s\n", report.ReportPath)
	}
}

func renderDryRun(w io.Writer, report *pipeline.RunReport) {
	if report == nil {
		return
	}
	if report.Selected == 0 {
		fmt.Fprintln(w, "Dry run: no entities need processing.")
		return
	}
	renderSectionHeader(w, fmt.Sprintf("Dry run (%d entities, stages: %s)", report.Selected, stageList(report.Stages)))
	rows := make([][]string, 0, len(report.Planned))
	for _, action := range report.Planned {
		rows = append(rows, []string{action.EntityID, string(action.Stage), action.Action})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ENTITY", "STAGE", "ACTION"},
		rows,
	))
	fmt.Fprintln(w, "No state was modified.")
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
