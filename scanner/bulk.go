package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/dbreplace/journal"
	"github.com/maxpert/dbreplace/replace"
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/rs/zerolog/log"
)

// bulkColumns returns every column whose type is not excluded
func (s *Scanner) bulkColumns(t Table) []string {
	var cols []string
	for _, c := range t.Columns {
		if s.excluded[c.DataType] {
			continue
		}
		cols = append(cols, c.Name)
	}
	return cols
}

// changedPredicate matches rows where pair would change at least one column
func changedPredicate(cols []string, p replace.Pair) exp.ExpressionList {
	preds := make([]exp.Expression, 0, len(cols))
	for _, col := range cols {
		preds = append(preds, goqu.Func("REPLACE", goqu.C(col), p.Find, p.Replace).Neq(goqu.C(col)))
	}
	return goqu.Or(preds...)
}

// BulkUpdateSQL builds one UPDATE applying REPLACE() for pair to every column
func (s *Scanner) BulkUpdateSQL(table string, cols []string, p replace.Pair) (string, []any, error) {
	set := goqu.Record{}
	for _, col := range cols {
		set[col] = goqu.Func("REPLACE", goqu.C(col), p.Find, p.Replace)
	}

	return s.dialect.
		Update(goqu.T(table)).
		Set(set).
		Where(changedPredicate(cols, p)).
		Prepared(true).
		ToSQL()
}

// BulkCountSQL counts rows that pair would change
func (s *Scanner) BulkCountSQL(table string, cols []string, p replace.Pair) (string, []any, error) {
	return s.dialect.
		From(goqu.T(table)).
		Select(goqu.COUNT(goqu.Star())).
		Where(changedPredicate(cols, p)).
		Prepared(true).
		ToSQL()
}

// processBulk runs one statement per pair, in order, so later pairs see the
// output of earlier ones. In dry run rows are counted per pair against the
// current data.
func (s *Scanner) processBulk(ctx context.Context, q Querier, t Table, rep *TableReport) error {
	cols := s.bulkColumns(t)
	if len(cols) == 0 {
		rep.Skipped = true
		rep.Reason = "no eligible columns"
		return nil
	}

	for _, p := range s.opts.Pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			rows int64
			err  error
		)
		start := time.Now()
		if s.opts.DryRun {
			rows, err = s.bulkCount(ctx, q, t.Name, cols, p)
			telemetry.StatementDurationSeconds.With("count").Observe(time.Since(start).Seconds())
		} else {
			rows, err = s.bulkUpdate(ctx, q, t.Name, cols, p)
			telemetry.StatementDurationSeconds.With("bulk").Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return err
		}

		log.Debug().
			Str("table", t.Name).
			Str("mode", string(ModeBulk)).
			Str("find", p.Find).
			Int64("rows", rows).
			Bool("dry_run", s.opts.DryRun).
			Msg("Bulk replace")

		rep.RowsChanged += rows
		s.progress.rowsChanged.Add(rows)
		telemetry.RowsChangedTotal.With(string(ModeBulk)).Add(float64(rows))

		if s.opts.Journal != nil && rows > 0 {
			entry := &journal.Entry{
				Kind:    journal.KindBulk,
				Table:   t.Name,
				Find:    p.Find,
				Replace: p.Replace,
				Rows:    rows,
			}
			if err := s.opts.Journal.Append(entry); err != nil {
				return fmt.Errorf("journal %s: %w", t.Name, err)
			}
			telemetry.JournalEntriesTotal.Inc()
		}
	}
	return nil
}

func (s *Scanner) bulkUpdate(ctx context.Context, q Querier, table string, cols []string, p replace.Pair) (int64, error) {
	query, args, err := s.BulkUpdateSQL(table, cols, p)
	if err != nil {
		return 0, fmt.Errorf("build bulk update for %s: %w", table, err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update %s: %w", table, err)
	}

	// Both drivers support RowsAffected; a failure here only loses the count
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Scanner) bulkCount(ctx context.Context, q Querier, table string, cols []string, p replace.Pair) (int64, error) {
	query, args, err := s.BulkCountSQL(table, cols, p)
	if err != nil {
		return 0, fmt.Errorf("build bulk count for %s: %w", table, err)
	}

	var n int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("bulk count %s: %w", table, err)
	}
	return n, nil
}
