package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobwas/glob"
	"github.com/maxpert/dbreplace/cfg"
	"github.com/maxpert/dbreplace/journal"
	"github.com/maxpert/dbreplace/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serializedURL = `a:2:{s:4:"home";s:18:"http://old.example";s:4:"size";i:3;}`

func setupSite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE wp_options (option_id INTEGER PRIMARY KEY, option_name TEXT, option_value TEXT)`,
		`CREATE TABLE wp_posts (ID INTEGER PRIMARY KEY, post_content TEXT, post_date DATETIME)`,
		`INSERT INTO wp_options VALUES (1, 'siteurl', 'http://old.example')`,
		`INSERT INTO wp_options VALUES (2, 'widget', '` + serializedURL + `')`,
		`INSERT INTO wp_posts VALUES (1, 'see http://old.example/about', '2020-01-01 00:00:00')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func useConfig(t *testing.T, dbPath string) {
	t.Helper()
	saved := cfg.Config
	t.Cleanup(func() { cfg.Config = saved })

	cfg.Config = cfg.Default()
	cfg.Config.Database.Driver = cfg.DriverSQLite
	cfg.Config.Database.Name = dbPath
	cfg.Config.Replace.Pairs = []cfg.PairConfiguration{{Find: "http://old.example", Replace: "https://new.example"}}
	cfg.Config.Scan.ProgressIntervalSeconds = 0
	cfg.Config.Journal.Enabled = true
	cfg.Config.Journal.Path = filepath.Join(t.TempDir(), "journal.zst")
	require.NoError(t, cfg.Validate())
}

func readValue(t *testing.T, dbPath, query string) string {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var v string
	require.NoError(t, db.QueryRow(query).Scan(&v))
	return v
}

func TestExecute_CommitsChanges(t *testing.T) {
	path := setupSite(t)
	useConfig(t, path)

	assert.Equal(t, exitOK, execute(context.Background()))

	assert.Equal(t, "https://new.example", readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 1`))
	assert.Equal(t,
		`a:2:{s:4:"home";s:19:"https://new.example";s:4:"size";i:3;}`,
		readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 2`))
	assert.Equal(t, "see https://new.example/about", readValue(t, path, `SELECT post_content FROM wp_posts WHERE ID = 1`))
	assert.Equal(t, "2020-01-01 00:00:00", readValue(t, path, `SELECT post_date FROM wp_posts WHERE ID = 1`))

	r, err := journal.Open(cfg.Config.Journal.Path)
	require.NoError(t, err)
	defer r.Close()
	entries, err := r.Entries()
	require.NoError(t, err)
	// Two option rows plus one bulk statement
	assert.Len(t, entries, 3)
}

func TestExecute_DryRunRollsBack(t *testing.T) {
	path := setupSite(t)
	useConfig(t, path)
	cfg.Config.Scan.DryRun = true

	assert.Equal(t, exitOK, execute(context.Background()))

	assert.Equal(t, serializedURL, readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 2`))
	assert.Equal(t, "see http://old.example/about", readValue(t, path, `SELECT post_content FROM wp_posts WHERE ID = 1`))

	r, err := journal.Open(cfg.Config.Journal.Path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Header().DryRun())
}

func TestExecute_CancelledContext(t *testing.T) {
	path := setupSite(t)
	useConfig(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, exitError, execute(ctx))
	assert.Equal(t, "http://old.example", readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 1`))
}

func TestJournalRevert_RoundTrip(t *testing.T) {
	path := setupSite(t)
	useConfig(t, path)
	require.Equal(t, exitOK, execute(context.Background()))

	r, err := journal.Open(cfg.Config.Journal.Path)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	require.NoError(t, writeRevert(&buf, r, "sqlite3", glob.MustCompile("wp_options")))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(buf.String())
	require.NoError(t, err)

	assert.Equal(t, "http://old.example", readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 1`))
	assert.Equal(t, serializedURL, readValue(t, path, `SELECT option_value FROM wp_options WHERE option_id = 2`))
}

func TestWriteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.zst")
	w, err := journal.Create(path, journal.Options{Level: 1, Host: 0xabc})
	require.NoError(t, err)
	require.NoError(t, w.Append(&journal.Entry{
		Kind:  journal.KindRow,
		Table: "wp_options",
		Key:   map[string]string{"option_id": "7"},
		Old:   map[string]string{"option_value": "old"},
		New:   map[string]string{"option_value": "new"},
	}))
	require.NoError(t, w.Append(&journal.Entry{
		Kind: journal.KindBulk, Table: "wp_posts", Find: "a", Replace: "b", Rows: 4,
	}))
	require.NoError(t, w.Close())

	r, err := journal.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	require.NoError(t, writeEntries(&buf, r, nil))
	out := buf.String()

	assert.Contains(t, out, "host 0000000000000abc")
	assert.Contains(t, out, "#1 row wp_options [option_id=7]")
	assert.Contains(t, out, `- "old"`)
	assert.Contains(t, out, `+ "new"`)
	assert.Contains(t, out, `#2 bulk wp_posts "a" -> "b" (4 rows)`)
	assert.Contains(t, out, "2 entries")
}

func TestPrintReport(t *testing.T) {
	report := &scanner.Report{Tables: []scanner.TableReport{
		{Table: "wp_options", Mode: scanner.ModeRow, RowsScanned: 10, RowsChanged: 2, CellsChanged: 3},
		{Table: "wp_posts", Mode: scanner.ModeBulk, RowsChanged: 5, CellsChanged: 5},
		{Table: "wp_log_options", Mode: scanner.ModeRow, Skipped: true, Reason: "no primary key"},
		{Table: "wp_broken", Mode: scanner.ModeBulk, Err: errors.New("boom"), ErrorCode: "1146"},
	}}

	var buf bytes.Buffer
	printReport(&buf, report, 1500*time.Millisecond)
	out := buf.String()

	assert.Contains(t, out, "Total time:    1.50s")
	assert.Contains(t, out, "Tables:        4 (bulk: 2, row: 1, skipped: 1)")
	assert.Contains(t, out, "Rows changed:  7")
	assert.Contains(t, out, "Cells changed: 8")
	assert.Contains(t, out, "skipped: no primary key")
	assert.Contains(t, out, "wp_broken [1146]: boom")
}
