package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/dbreplace/rewriter"
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/rs/zerolog/log"
)

type pageRow struct {
	cursor []any
	row    rewriter.Row
}

// keysetPredicate matches rows strictly after last in primary key order:
// (k1 > v1) OR (k1 = v1 AND k2 > v2) OR ...
func keysetPredicate(pk []string, last []any) exp.Expression {
	branches := make([]exp.Expression, 0, len(pk))
	for i := range pk {
		conds := make([]exp.Expression, 0, i+1)
		for j := 0; j < i; j++ {
			conds = append(conds, goqu.C(pk[j]).Eq(last[j]))
		}
		conds = append(conds, goqu.C(pk[i]).Gt(last[i]))
		branches = append(branches, goqu.And(conds...))
	}
	return goqu.Or(branches...)
}

// PageSQL builds the SELECT for the page after last (nil for the first page)
func (s *Scanner) PageSQL(t Table, cols []string, last []any) (string, []any, error) {
	sel := make([]any, 0, len(cols))
	for _, c := range cols {
		sel = append(sel, goqu.C(c))
	}
	order := make([]exp.OrderedExpression, 0, len(t.PrimaryKey))
	for _, k := range t.PrimaryKey {
		order = append(order, goqu.C(k).Asc())
	}

	ds := s.dialect.
		From(goqu.T(t.Name)).
		Select(sel...).
		Order(order...).
		Limit(uint(s.opts.BatchSize)).
		Prepared(true)
	if last != nil {
		ds = ds.Where(keysetPredicate(t.PrimaryKey, last))
	}
	return ds.ToSQL()
}

// rowColumns is the primary key followed by every other eligible column
func (s *Scanner) rowColumns(t Table) []string {
	cols := append([]string{}, t.PrimaryKey...)
	isKey := map[string]bool{}
	for _, k := range t.PrimaryKey {
		isKey[k] = true
	}
	for _, c := range s.bulkColumns(t) {
		if !isKey[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// readPage reads one page and closes its cursor before returning
func (s *Scanner) readPage(ctx context.Context, q Querier, t Table, cols []string, last []any) ([]pageRow, error) {
	query, args, err := s.PageSQL(t, cols, last)
	if err != nil {
		return nil, fmt.Errorf("build page query for %s: %w", t.Name, err)
	}

	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}
	defer rows.Close()

	nKey := len(t.PrimaryKey)
	var page []pageRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.Name, err)
		}

		pr := pageRow{
			cursor: make([]any, nKey),
			row: rewriter.Row{
				Table:  t.Name,
				Key:    make(map[string]any, nKey),
				Values: map[string]string{},
			},
		}
		for i, col := range cols {
			v := vals[i]
			// Drivers may reuse byte slices between rows
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if i < nKey {
				pr.cursor[i] = v
				pr.row.Key[col] = v
				continue
			}
			if str, ok := v.(string); ok {
				pr.row.Values[col] = str
			}
		}
		page = append(page, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", t.Name, err)
	}
	telemetry.StatementDurationSeconds.With("select").Observe(time.Since(start).Seconds())

	return page, nil
}

// processRows walks the table in primary key order, one page at a time. Each
// page is fully read before any of its UPDATEs run.
func (s *Scanner) processRows(ctx context.Context, q Querier, t Table, rep *TableReport) error {
	if len(t.PrimaryKey) == 0 {
		rep.Skipped = true
		rep.Reason = "no primary key"
		log.Warn().
			Str("table", t.Name).
			Str("mode", string(ModeRow)).
			Msg("Table has no primary key, skipping")
		return nil
	}

	cols := s.rowColumns(t)
	if len(cols) == len(t.PrimaryKey) {
		rep.Skipped = true
		rep.Reason = "no eligible columns"
		return nil
	}

	var last []any
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.readPage(ctx, q, t, cols, last)
		if err != nil {
			return err
		}

		for _, pr := range page {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := s.rw.RewriteRow(ctx, q, pr.row)
			if err != nil {
				return err
			}

			rep.RowsScanned++
			s.progress.rowsScanned.Inc()
			telemetry.RowsScannedTotal.Inc()

			if len(res.Changed) > 0 {
				rep.RowsChanged++
				rep.CellsChanged += int64(len(res.Changed))
				s.progress.rowsChanged.Inc()
				s.progress.cellsChanged.Add(int64(len(res.Changed)))
				telemetry.RowsChangedTotal.With(string(ModeRow)).Inc()
				telemetry.CellsChangedTotal.Add(float64(len(res.Changed)))
			}
			rep.CellsFailed += int64(len(res.Failed))
		}

		if len(page) < s.opts.BatchSize {
			return nil
		}
		last = page[len(page)-1].cursor
	}
}
