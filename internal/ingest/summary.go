// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// BatchResult holds the outcome of a batch run.
type BatchResult struct {
	Processed int
	Skipped   int
	Failed    int
	Items     []ItemResult
}

func (r *BatchResult) add(item ItemResult) {
	switch item.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Items = append(r.Items, item)
}

// Total returns the number of documents considered.
func (r BatchResult) Total() int {
	return r.Processed + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ExitCode is 0 when no document failed and 1 otherwise.
func (r BatchResult) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

// WriteSummary prints the batch summary line. Colour is disabled when
// stdout is not a terminal.
func (r BatchResult) WriteSummary(w io.Writer) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()

	failed := fmt.Sprint(r.Failed)
	if r.Failed > 0 {
		failed = red(failed)
	}
	fmt.Fprintf(w, "\nBatch summary: %s processed, %s skipped, %s failed (total: %d)\n",
		green(r.Processed), yellow(r.Skipped), failed, r.Total())
}
