package rewriter

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/dbreplace/journal"
)

// ErrIrreversible is returned for journal entries whose old values were not
// recorded, such as bulk REPLACE() statements
var ErrIrreversible = errors.New("rewriter: entry cannot be reverted")

// RevertSQL renders a standalone UPDATE that restores the old values of a
// row entry. Values are inlined so the output can be run as a script.
func RevertSQL(dialect string, e *journal.Entry) (string, error) {
	if e.Kind != journal.KindRow {
		return "", fmt.Errorf("%w: %s seq %d", ErrIrreversible, e.Table, e.Seq)
	}
	if len(e.Key) == 0 || len(e.Old) == 0 {
		return "", fmt.Errorf("%w: %s seq %d has no key or old values", ErrIrreversible, e.Table, e.Seq)
	}

	set := goqu.Record{}
	for col, v := range e.Old {
		set[col] = v
	}
	where := goqu.Ex{}
	for col, v := range e.Key {
		where[col] = v
	}

	query, _, err := goqu.Dialect(dialect).
		Update(goqu.T(e.Table)).
		Set(set).
		Where(where).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build revert for %s: %w", e.Table, err)
	}
	return query, nil
}
