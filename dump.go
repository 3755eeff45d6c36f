package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/maxpert/dbreplace/journal"
	"github.com/maxpert/dbreplace/rewriter"
)

func runJournal(args []string) int {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	revert := fs.Bool("revert-sql", false, "Print SQL restoring the old values")
	dialect := fs.String("dialect", "mysql", "SQL dialect for -revert-sql: mysql|sqlite3")
	table := fs.String("table", "", "Only entries for tables matching this glob")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dbreplace journal [-revert-sql] [-dialect mysql] [-table glob] <file>")
		return exitError
	}

	var match glob.Glob
	if *table != "" {
		g, err := glob.Compile(*table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid table pattern: %v\n", err)
			return exitError
		}
		match = g
	}

	r, err := journal.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return exitError
	}
	defer r.Close()

	if *revert {
		err = writeRevert(os.Stdout, r, *dialect, match)
	} else {
		err = writeEntries(os.Stdout, r, match)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
		return exitError
	}
	return exitOK
}

// eachEntry calls fn for every entry accepted by match
func eachEntry(r *journal.Reader, match glob.Glob, fn func(*journal.Entry) error) error {
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if match != nil && !match.Match(e.Table) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func writeEntries(w io.Writer, r *journal.Reader, match glob.Glob) error {
	h := r.Header()
	fmt.Fprintf(w, "Journal v%d created %s host %016x dry-run: %v\n\n",
		h.Version, h.CreatedAt.Format(time.RFC3339), h.Host, h.DryRun())

	var count int
	err := eachEntry(r, match, func(e *journal.Entry) error {
		count++
		if e.Kind == journal.KindBulk {
			fmt.Fprintf(w, "#%d bulk %s %q -> %q (%d rows)\n", e.Seq, e.Table, e.Find, e.Replace, e.Rows)
			return nil
		}

		fmt.Fprintf(w, "#%d row %s %s\n", e.Seq, e.Table, formatKey(e.Key))
		for _, col := range sortedKeys(e.New) {
			fmt.Fprintf(w, "  %s:\n    - %q\n    + %q\n", col, e.Old[col], e.New[col])
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d entries\n", count)
	return nil
}

func writeRevert(w io.Writer, r *journal.Reader, dialect string, match glob.Glob) error {
	if r.Header().DryRun() {
		fmt.Fprintln(w, "-- journal was recorded in dry run; these changes were never applied")
	}

	// Newest first, so a value changed twice ends at its first recorded state
	var entries []*journal.Entry
	err := eachEntry(r, match, func(e *journal.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		query, err := rewriter.RevertSQL(dialect, e)
		if errors.Is(err, rewriter.ErrIrreversible) {
			fmt.Fprintf(w, "-- skipped #%d: %v\n", e.Seq, err)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s;\n", query)
	}
	return nil
}

func formatKey(key map[string]string) string {
	parts := make([]string, 0, len(key))
	for _, col := range sortedKeys(key) {
		parts = append(parts, col+"="+key[col])
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
