package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/maxpert/dbreplace/cfg"
	"github.com/maxpert/dbreplace/journal"
	"github.com/maxpert/dbreplace/phpserial"
	"github.com/maxpert/dbreplace/replace"
	"github.com/maxpert/dbreplace/rewriter"
	"github.com/maxpert/dbreplace/scanner"
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/rs/zerolog/log"
)

func runReplace(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flags := cfg.BindFlags(fs)
	fs.Parse(args)

	if err := cfg.Load(flags); err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return exitError
	}
	setupLogging()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitError
	}

	telemetry.InitializeTelemetry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Interrupted, rolling back")
		cancel()
	}()

	code := execute(ctx)

	if path := cfg.Config.Prometheus.Textfile; telemetry.Enabled() && path != "" {
		if err := telemetry.WriteTextfile(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}
	return code
}

// execute performs one run inside a single transaction. Each table gets its
// own savepoint, so the transaction commits whatever tables succeeded.
func execute(ctx context.Context) int {
	c := cfg.Config
	driver := string(c.Database.Driver)

	log.Info().
		Str("driver", driver).
		Str("dsn", cfg.RedactedDSN()).
		Bool("dry_run", c.Scan.DryRun).
		Msg("Connecting")

	db, err := sql.Open(driver, cfg.DataSourceName())
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database")
		return exitError
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to reach database")
		return exitError
	}

	opaque, err := scanner.OpaqueMatcher(c.Replace.OpaqueClasses)
	if err != nil {
		log.Error().Err(err).Msg("Invalid opaque class pattern")
		return exitError
	}

	observer := rewriter.NewObserver()
	engine := replace.New(replace.Options{
		CaseInsensitive: c.Replace.CaseInsensitive,
		VerifyRoundTrip: c.Replace.VerifyRoundTrip,
		Decode: phpserial.DecodeOptions{
			MaxDepth: c.Replace.MaxDepth,
			Opaque:   opaque,
		},
		Observer: observer,
	})

	pairs := make([]replace.Pair, 0, len(c.Replace.Pairs))
	for _, p := range c.Replace.Pairs {
		pairs = append(pairs, replace.Pair{Find: p.Find, Replace: p.Replace})
	}

	var sink rewriter.Sink
	var jw *journal.Writer
	if c.Journal.Enabled {
		jw, err = journal.Create(c.Journal.Path, journal.Options{
			Level:  c.Journal.CompressionLevel,
			Host:   cfg.HostFingerprint(),
			DryRun: c.Scan.DryRun,
		})
		if err != nil {
			log.Error().Err(err).Str("path", c.Journal.Path).Msg("Failed to create journal")
			return exitError
		}
		defer func() {
			if err := jw.Close(); err != nil {
				log.Error().Err(err).Str("path", jw.Path()).Msg("Failed to close journal")
				return
			}
			log.Info().Str("path", jw.Path()).Uint64("entries", jw.EntryCount()).Msg("Journal written")
		}()
		sink = jw
	}

	rw, err := rewriter.New(engine, rewriter.Options{
		Dialect:   driver,
		Pairs:     pairs,
		DryRun:    c.Scan.DryRun,
		CacheSize: c.Scan.CacheSize,
		Journal:   sink,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create rewriter")
		return exitError
	}

	sc, err := scanner.New(rw, scanner.Options{
		Dialect:            driver,
		Schema:             cfg.SchemaName(),
		Pairs:              pairs,
		CaseInsensitive:    c.Replace.CaseInsensitive,
		IncludeTables:      c.Scan.IncludeTables,
		ExcludeTables:      c.Scan.ExcludeTables,
		SerializedTables:   c.Scan.SerializedTables,
		SerializedSuffixes: c.Scan.SerializedTableSuffixes,
		ExcludedTypes:      c.Scan.ExcludedTypes,
		BatchSize:          c.Scan.BatchSize,
		DryRun:             c.Scan.DryRun,
		ContinueOnError:    c.Scan.ContinueOnError,
		Savepoints:         true,
		Journal:            sink,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create scanner")
		return exitError
	}

	collector := telemetry.NewProgressCollector(sc, time.Duration(c.Scan.ProgressIntervalSeconds)*time.Second)
	collector.Start()

	start := time.Now()
	report, runErr := runInTx(ctx, db, sc, c.Scan.DryRun)
	collector.Stop()

	stats := observer.Stats()
	if report != nil {
		printReport(os.Stdout, report, time.Since(start))
	}
	log.Info().
		Int64("decode_fallbacks", stats.DecodeFallbacks.Value()).
		Int64("degraded_subtrees", stats.Degraded.Value()).
		Msg("Engine statistics")

	if runErr != nil {
		if errors.Is(runErr, replace.ErrEncodeInconsistency) {
			log.Error().Err(runErr).Msg("Serializer produced inconsistent output; nothing was committed")
		} else {
			log.Error().Err(runErr).Msg("Run aborted; nothing was committed")
		}
		return exitError
	}

	if report != nil && len(report.Failed()) > 0 {
		return exitTablesFailed
	}
	return exitOK
}

// runInTx runs the scanner in one transaction. The transaction is rolled back
// when the run stops early or when nothing should be written.
func runInTx(ctx context.Context, db *sql.DB, sc *scanner.Scanner, dryRun bool) (*scanner.Report, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	report, err := sc.Run(ctx, tx)
	if err != nil || dryRun {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("Rollback failed")
		}
		return report, err
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit: %w", err)
	}
	log.Info().Msg("Committed")
	return report, nil
}
