package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE zeta (id INTEGER PRIMARY KEY, body VARCHAR(255), created TIMESTAMP)`,
		`CREATE TABLE alpha (site TEXT, term INTEGER, value TEXT, PRIMARY KEY (term, site))`,
		`CREATE TABLE nokey (line TEXT)`,
		`CREATE VIEW zeta_view AS SELECT * FROM zeta`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	tables, err := LoadCatalog(context.Background(), db, DialectSQLite, "")
	require.NoError(t, err)
	require.Len(t, tables, 3)

	assert.Equal(t, "alpha", tables[0].Name)
	assert.Equal(t, []string{"term", "site"}, tables[0].PrimaryKey)

	assert.Equal(t, "nokey", tables[1].Name)
	assert.Empty(t, tables[1].PrimaryKey)

	zeta := tables[2]
	assert.Equal(t, "zeta", zeta.Name)
	assert.Equal(t, []string{"id"}, zeta.PrimaryKey)
	require.Len(t, zeta.Columns, 3)
	assert.Equal(t, Column{Name: "body", DataType: "varchar"}, zeta.Columns[1])
	assert.Equal(t, "timestamp", zeta.Columns[2].DataType)
}

func TestLoadCatalog_UnknownDialect(t *testing.T) {
	_, err := LoadCatalog(context.Background(), nil, "postgres", "")
	assert.Error(t, err)
}

func TestBaseType(t *testing.T) {
	tests := map[string]string{
		"VARCHAR(255)":     "varchar",
		"int unsigned":     "int",
		" DateTime ":       "datetime",
		"text":             "text",
		"":                 "",
		"decimal(10, 2)":   "decimal",
		"timestamp(6)":     "timestamp",
		"NATIVE CHARACTER": "native",
	}
	for in, want := range tests {
		assert.Equal(t, want, baseType(in), in)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"nil", nil, "", false},
		{"plain", errors.New("boom"), "", false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock"}, "1213", true},
		{"wrapped mysql", fmt.Errorf("update t: %w", &mysql.MySQLError{Number: 1406}), "1406", false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, "1205", true},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, "1062", false},
		{"sqlite check", fmt.Errorf("x: %w", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}), "3819", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, ErrorCode(tc.err))
			assert.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}
