package scanner

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Mode is how a table is processed
type Mode string

const (
	// ModeBulk rewrites columns in place with SQL REPLACE()
	ModeBulk Mode = "bulk"
	// ModeRow reads every row and runs its values through the replace engine
	ModeRow Mode = "row"
)

// TableFilter decides which tables are processed and how
type TableFilter struct {
	include    []glob.Glob
	exclude    []glob.Glob
	serialized []glob.Glob
	suffixes   []string
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// NewTableFilter creates a filter. Empty include patterns match every table.
func NewTableFilter(include, exclude, serialized, suffixes []string) (*TableFilter, error) {
	f := &TableFilter{suffixes: suffixes}

	var err error
	if f.include, err = compileGlobs("include", include); err != nil {
		return nil, err
	}
	if f.exclude, err = compileGlobs("exclude", exclude); err != nil {
		return nil, err
	}
	if f.serialized, err = compileGlobs("serialized table", serialized); err != nil {
		return nil, err
	}
	return f, nil
}

// Match returns true if the table should be processed
func (f *TableFilter) Match(table string) bool {
	if len(f.include) > 0 && !matchAny(f.include, table) {
		return false
	}
	return !matchAny(f.exclude, table)
}

// Mode picks row mode for tables that may hold serialized values
func (f *TableFilter) Mode(table string) Mode {
	for _, s := range f.suffixes {
		if s != "" && strings.HasSuffix(table, s) {
			return ModeRow
		}
	}
	if matchAny(f.serialized, table) {
		return ModeRow
	}
	return ModeBulk
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// OpaqueMatcher returns a class predicate for phpserial.DecodeOptions, or nil
// when there are no patterns
func OpaqueMatcher(patterns []string) (func(class string) bool, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	globs, err := compileGlobs("opaque class", patterns)
	if err != nil {
		return nil, err
	}
	return func(class string) bool { return matchAny(globs, class) }, nil
}
