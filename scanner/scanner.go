// Package scanner walks the tables of a database and applies find/replace
// pairs to each, either in place with SQL REPLACE() or row by row through the
// serialization-aware rewriter.
package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/maxpert/dbreplace/replace"
	"github.com/maxpert/dbreplace/rewriter"
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
)

// ErrTableFailed is returned by Run when a table fails and the scanner is
// not configured to continue
var ErrTableFailed = errors.New("scanner: table failed")

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options configures a Scanner
type Options struct {
	Dialect string
	// Schema scopes the MySQL catalog; ignored for SQLite
	Schema             string
	Pairs              []replace.Pair
	CaseInsensitive    bool
	IncludeTables      []string
	ExcludeTables      []string
	SerializedTables   []string
	SerializedSuffixes []string
	ExcludedTypes      []string
	BatchSize          int
	DryRun             bool
	ContinueOnError    bool
	// Savepoints wraps each table in a SAVEPOINT so a failed table is undone
	// on its own. Requires q to be a transaction.
	Savepoints bool
	Journal    rewriter.Sink
}

// TableReport is the outcome for one table
type TableReport struct {
	Table        string
	Mode         Mode
	RowsScanned  int64
	RowsChanged  int64
	CellsChanged int64
	CellsFailed  int64
	Skipped      bool
	Reason       string
	Err          error
	ErrorCode    string
	Duration     time.Duration
}

// Report is the outcome of a run
type Report struct {
	Tables []TableReport
}

// Failed returns the reports of tables that errored
func (r *Report) Failed() []TableReport {
	var out []TableReport
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Totals sums the per-table counters
func (r *Report) Totals() (rowsScanned, rowsChanged, cellsChanged int64) {
	for _, t := range r.Tables {
		rowsScanned += t.RowsScanned
		rowsChanged += t.RowsChanged
		cellsChanged += t.CellsChanged
	}
	return
}

type progress struct {
	table         atomic.Pointer[string]
	tablesTotal   *xsync.Counter
	tablesDone    *xsync.Counter
	tablesFailed  *xsync.Counter
	tablesSkipped *xsync.Counter
	rowsScanned   *xsync.Counter
	rowsChanged   *xsync.Counter
	cellsChanged  *xsync.Counter
}

// Scanner processes the tables of one database
type Scanner struct {
	opts     Options
	rw       *rewriter.Rewriter
	dialect  goqu.DialectWrapper
	filter   *TableFilter
	excluded map[string]bool
	progress progress
}

// New creates a scanner that rewrites row-mode tables with rw
func New(rw *rewriter.Rewriter, opts Options) (*Scanner, error) {
	if opts.Dialect != DialectMySQL && opts.Dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported dialect %q", opts.Dialect)
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}

	filter, err := NewTableFilter(opts.IncludeTables, opts.ExcludeTables, opts.SerializedTables, opts.SerializedSuffixes)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(opts.ExcludedTypes))
	for _, t := range opts.ExcludedTypes {
		excluded[baseType(t)] = true
	}

	s := &Scanner{
		opts:     opts,
		rw:       rw,
		dialect:  goqu.Dialect(opts.Dialect),
		filter:   filter,
		excluded: excluded,
		progress: progress{
			tablesTotal:   xsync.NewCounter(),
			tablesDone:    xsync.NewCounter(),
			tablesFailed:  xsync.NewCounter(),
			tablesSkipped: xsync.NewCounter(),
			rowsScanned:   xsync.NewCounter(),
			rowsChanged:   xsync.NewCounter(),
			cellsChanged:  xsync.NewCounter(),
		},
	}
	return s, nil
}

// Snapshot implements telemetry.StatsProvider
func (s *Scanner) Snapshot() telemetry.Snapshot {
	snap := telemetry.Snapshot{
		TablesDone:    s.progress.tablesDone.Value(),
		TablesTotal:   s.progress.tablesTotal.Value(),
		RowsScanned:   s.progress.rowsScanned.Value(),
		RowsChanged:   s.progress.rowsChanged.Value(),
		CellsChanged:  s.progress.cellsChanged.Value(),
		TablesFailed:  s.progress.tablesFailed.Value(),
		TablesSkipped: s.progress.tablesSkipped.Value(),
	}
	if t := s.progress.table.Load(); t != nil {
		snap.Table = *t
	}
	return snap
}

// Run processes every selected table. Table failures are recorded in the
// report; with ContinueOnError unset the first one stops the run. Context
// cancellation always stops the run.
func (s *Scanner) Run(ctx context.Context, q Querier) (*Report, error) {
	tables, err := LoadCatalog(ctx, q, s.opts.Dialect, s.opts.Schema)
	if err != nil {
		return nil, err
	}

	var selected []Table
	for _, t := range tables {
		if s.filter.Match(t.Name) {
			selected = append(selected, t)
		}
	}
	s.progress.tablesTotal.Add(int64(len(selected)))

	log.Info().
		Int("tables", len(selected)).
		Int("catalog", len(tables)).
		Int("pairs", len(s.opts.Pairs)).
		Bool("dry_run", s.opts.DryRun).
		Msg("Starting scan")

	if s.opts.CaseInsensitive {
		for _, t := range selected {
			if s.filter.Mode(t.Name) == ModeBulk {
				log.Warn().Msg("Case-insensitive matching applies to row-mode tables only; bulk REPLACE() is case-sensitive")
				break
			}
		}
	}

	report := &Report{}
	for i, t := range selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name := t.Name
		s.progress.table.Store(&name)

		rep := s.processTable(ctx, q, t, i)
		report.Tables = append(report.Tables, rep)
		s.progress.tablesDone.Inc()

		if rep.Err != nil {
			if errors.Is(rep.Err, context.Canceled) || errors.Is(rep.Err, context.DeadlineExceeded) {
				return report, rep.Err
			}
			if !s.opts.ContinueOnError {
				return report, fmt.Errorf("%w: %s: %v", ErrTableFailed, t.Name, rep.Err)
			}
		}
	}

	return report, nil
}

func (s *Scanner) processTable(ctx context.Context, q Querier, t Table, idx int) TableReport {
	mode := s.filter.Mode(t.Name)
	rep := TableReport{Table: t.Name, Mode: mode}
	start := time.Now()

	savepoint := fmt.Sprintf("dbreplace_%d", idx)
	if s.opts.Savepoints {
		if _, err := q.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return s.fail(rep, start, fmt.Errorf("savepoint %s: %w", t.Name, err))
		}
	}

	var err error
	switch mode {
	case ModeRow:
		err = s.processRows(ctx, q, t, &rep)
	default:
		err = s.processBulk(ctx, q, t, &rep)
	}

	if s.opts.Savepoints {
		stmt := "RELEASE SAVEPOINT " + savepoint
		if err != nil {
			stmt = "ROLLBACK TO SAVEPOINT " + savepoint
		}
		// The context may already be cancelled; the savepoint still has to be closed
		if _, spErr := q.ExecContext(context.WithoutCancel(ctx), stmt); spErr != nil && err == nil {
			err = fmt.Errorf("%s: %w", strings.ToLower(stmt), spErr)
		}
	}

	if err != nil {
		return s.fail(rep, start, err)
	}

	rep.Duration = time.Since(start)
	result := "done"
	if rep.Skipped {
		result = "skipped"
		s.progress.tablesSkipped.Inc()
	}
	telemetry.TablesTotal.With(string(mode), result).Inc()
	telemetry.TableDurationSeconds.With(string(mode)).Observe(rep.Duration.Seconds())

	log.Info().
		Str("table", t.Name).
		Str("mode", string(mode)).
		Int64("rows", rep.RowsChanged).
		Int64("cells", rep.CellsChanged).
		Bool("skipped", rep.Skipped).
		Str("reason", rep.Reason).
		Dur("duration", rep.Duration).
		Msg("Table processed")

	return rep
}

func (s *Scanner) fail(rep TableReport, start time.Time, err error) TableReport {
	rep.Err = err
	rep.ErrorCode = ErrorCode(err)
	rep.Duration = time.Since(start)
	s.progress.tablesFailed.Inc()
	telemetry.TablesTotal.With(string(rep.Mode), "failed").Inc()

	log.Error().
		Err(err).
		Str("table", rep.Table).
		Str("mode", string(rep.Mode)).
		Str("error_code", rep.ErrorCode).
		Msg("Table failed")
	return rep
}
