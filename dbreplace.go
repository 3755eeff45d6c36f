package main

import (
	"fmt"
	"io"
	"os"

	"github.com/maxpert/dbreplace/cfg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.3.0"

// Exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitTablesFailed = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(runReplace(args))
	case "journal":
		os.Exit(runJournal(args))
	case "version":
		fmt.Printf("dbreplace version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitError)
	}
}

func printUsage() {
	fmt.Println(`dbreplace - serialization-aware find and replace for MySQL and SQLite

Usage:
  dbreplace <command> [options]

Commands:
  run       Replace text across every selected table
  journal   Print or revert a change journal
  version   Print version
  help      Show this help

Run Options:
  -config            Path to configuration file (default: dbreplace.toml)
  -dsn               Database DSN, overrides the [database] section
  -driver            mysql|sqlite3
  -find              Text to find (replaces configured pairs)
  -replace           Replacement for -find
  -dry-run           Compute and journal changes, write nothing
  -case-insensitive  Match ASCII letters regardless of case (row-mode tables)
  -journal           Write a change journal to this path
  -verbose           Debug logging

Journal Options:
  -revert-sql        Print SQL that restores the old values instead of the entries
  -dialect           Dialect for -revert-sql: mysql|sqlite3 (default: mysql)
  -table             Only entries for tables matching this glob

Exit status is 0 on success, 1 on error and 2 when some tables failed.

Examples:
  dbreplace run -config site.toml -dry-run -journal preview.zst
  dbreplace run -dsn 'wp:pw@tcp(127.0.0.1:3306)/wordpress' -find http://old.example -replace https://new.example
  dbreplace journal -revert-sql preview.zst`)
}

// setupLogging configures the global zerolog logger from cfg.Config
func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}
