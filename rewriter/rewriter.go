// Package rewriter turns one database row into at most one keyed UPDATE by
// running every textual column through the replace engine.
package rewriter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/dbreplace/journal"
	"github.com/maxpert/dbreplace/replace"
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrNoPrimaryKey is returned for rows that cannot be addressed
var ErrNoPrimaryKey = errors.New("rewriter: row has no primary key")

// Execer runs a statement. Satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Sink receives every change before it is applied
type Sink interface {
	Append(e *journal.Entry) error
}

// Row is one table row as read by the scanner. Key holds the primary key
// values; Values holds the non-NULL textual columns that may be rewritten.
type Row struct {
	Table  string
	Key    map[string]any
	Values map[string]string
}

// Result describes what happened to one row
type Result struct {
	// Changed maps column to its new value
	Changed map[string]string
	// Failed lists columns left unchanged because the engine gave up on them
	Failed  []string
	Applied bool
}

// Options configures a Rewriter
type Options struct {
	// Dialect is a goqu dialect name, "mysql" or "sqlite3"
	Dialect string
	Pairs   []replace.Pair
	DryRun  bool
	// CacheSize bounds the rewrite cache; 0 disables it
	CacheSize int
	Journal   Sink
}

type cacheEntry struct {
	in      string
	out     string
	changed bool
}

// Rewriter applies pairs to rows. It is not safe for concurrent use.
type Rewriter struct {
	engine  *replace.Engine
	dialect goqu.DialectWrapper
	pairs   []replace.Pair
	dryRun  bool
	cache   *lru.Cache[uint64, cacheEntry]
	journal Sink
}

// New creates a rewriter around engine
func New(engine *replace.Engine, opts Options) (*Rewriter, error) {
	if opts.Dialect == "" {
		opts.Dialect = "mysql"
	}

	r := &Rewriter{
		engine:  engine,
		dialect: goqu.Dialect(opts.Dialect),
		pairs:   opts.Pairs,
		dryRun:  opts.DryRun,
		journal: opts.Journal,
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[uint64, cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create rewrite cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// RewriteValue runs value through every pair. Errors other than
// replace.ErrEncodeInconsistency leave the value unchanged.
func (r *Rewriter) RewriteValue(value string) (string, bool, error) {
	var key uint64
	if r.cache != nil {
		key = xxhash.Sum64String(value)
		if hit, ok := r.cache.Get(key); ok && hit.in == value {
			telemetry.CacheLookupsTotal.With("hit").Inc()
			return hit.out, hit.changed, nil
		}
		telemetry.CacheLookupsTotal.With("miss").Inc()
	}

	out, changed, err := r.engine.ReplaceAll(r.pairs, value)
	if err != nil {
		return value, false, err
	}

	if r.cache != nil {
		r.cache.Add(key, cacheEntry{in: value, out: out, changed: changed})
	}
	return out, changed, nil
}

// RewriteRow rewrites row and issues one UPDATE covering only the changed
// columns. Unchanged rows issue nothing. In dry run the change is journaled
// but not executed.
func (r *Rewriter) RewriteRow(ctx context.Context, q Execer, row Row) (*Result, error) {
	if len(row.Key) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, row.Table)
	}

	res := &Result{}
	old := map[string]string{}

	for _, col := range sortedColumns(row.Values) {
		if _, isKey := row.Key[col]; isKey {
			continue
		}

		value := row.Values[col]
		out, changed, err := r.RewriteValue(value)
		if err != nil {
			if errors.Is(err, replace.ErrEncodeInconsistency) {
				return nil, fmt.Errorf("table %s column %s: %w", row.Table, col, err)
			}
			telemetry.RewriteErrorsTotal.With("traversal").Inc()
			log.Warn().
				Err(err).
				Str("table", row.Table).
				Str("column", col).
				Msg("Value left unchanged")
			res.Failed = append(res.Failed, col)
			continue
		}
		if !changed {
			continue
		}

		if res.Changed == nil {
			res.Changed = map[string]string{}
		}
		res.Changed[col] = out
		old[col] = value
	}

	if len(res.Changed) == 0 {
		return res, nil
	}

	if r.journal != nil {
		entry := &journal.Entry{
			Kind:  journal.KindRow,
			Table: row.Table,
			Key:   keyStrings(row.Key),
			Old:   old,
			New:   res.Changed,
		}
		if err := r.journal.Append(entry); err != nil {
			return nil, fmt.Errorf("journal %s: %w", row.Table, err)
		}
		telemetry.JournalEntriesTotal.Inc()
	}

	if r.dryRun {
		return res, nil
	}

	query, args, err := r.UpdateSQL(row.Table, row.Key, res.Changed)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := q.ExecContext(ctx, query, args...)
	telemetry.StatementDurationSeconds.With("update").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", row.Table, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// MySQL counts changed rows, not matched ones, unless clientFoundRows is set
		log.Debug().Str("table", row.Table).Interface("key", row.Key).Msg("Update matched no rows")
	}

	res.Applied = true
	return res, nil
}

// UpdateSQL builds the keyed UPDATE for a set of changed columns
func (r *Rewriter) UpdateSQL(table string, key map[string]any, changed map[string]string) (string, []any, error) {
	set := goqu.Record{}
	for col, v := range changed {
		set[col] = v
	}

	where := goqu.Ex{}
	for col, v := range key {
		// SQLite compares BLOB and TEXT keys as different values
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		where[col] = v
	}

	query, args, err := r.dialect.
		Update(goqu.T(table)).
		Set(set).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build update for %s: %w", table, err)
	}
	return query, args, nil
}

func sortedColumns(values map[string]string) []string {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func keyStrings(key map[string]any) map[string]string {
	out := make(map[string]string, len(key))
	for col, v := range key {
		switch t := v.(type) {
		case []byte:
			out[col] = string(t)
		case string:
			out[col] = t
		default:
			out[col] = fmt.Sprint(t)
		}
	}
	return out
}
