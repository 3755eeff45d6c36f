package main

import (
	"fmt"
	"io"
	"time"

	"github.com/maxpert/dbreplace/scanner"
)

// printReport writes the end-of-run summary
func printReport(w io.Writer, report *scanner.Report, elapsed time.Duration) {
	rowsScanned, rowsChanged, cellsChanged := report.Totals()

	var bulk, row, skipped int
	for _, t := range report.Tables {
		switch {
		case t.Skipped:
			skipped++
		case t.Mode == scanner.ModeRow:
			row++
		default:
			bulk++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Fprintf(w, "Tables:        %d (bulk: %d, row: %d, skipped: %d)\n", len(report.Tables), bulk, row, skipped)
	fmt.Fprintf(w, "Rows scanned:  %d\n", rowsScanned)
	fmt.Fprintf(w, "Rows changed:  %d\n", rowsChanged)
	fmt.Fprintf(w, "Cells changed: %d\n", cellsChanged)
	fmt.Fprintln(w)

	if len(report.Tables) > 0 {
		fmt.Fprintln(w, "Per table:")
		for _, t := range report.Tables {
			status := "ok"
			switch {
			case t.Err != nil:
				status = "FAILED"
			case t.Skipped:
				status = "skipped: " + t.Reason
			}
			fmt.Fprintf(w, "  %-32s %-4s rows: %6d cells: %6d  %s\n", t.Table, t.Mode, t.RowsChanged, t.CellsChanged, status)
		}
		fmt.Fprintln(w)
	}

	failed := report.Failed()
	if len(failed) == 0 {
		return
	}

	fmt.Fprintln(w, "Failures:")
	for _, t := range failed {
		code := t.ErrorCode
		if code == "" {
			code = "-"
		}
		hint := ""
		if scanner.Retryable(t.Err) {
			hint = " (transient, safe to re-run)"
		}
		fmt.Fprintf(w, "  %s [%s]: %v%s\n", t.Table, code, t.Err, hint)
	}
	fmt.Fprintln(w)
}
